package store

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

var errSnapshotClosed = errors.New("snapshot is closed")

// Snapshot is a consistent point in time view of a partition store. Reads
// through it never observe commits made after it was taken. Once the store
// starts closing every read fails with ErrNotOpen.
type Snapshot struct {
	store  *PartitionStore
	snap   *pebble.Snapshot
	closed bool
}

var _ Reader = (*Snapshot)(nil)

func (s *Snapshot) PartitionID() uint64 { return s.store.id }

func (s *Snapshot) Get(key []byte) ([]byte, error) {
	if s.closed {
		return nil, errSnapshotClosed
	}
	s.store.lifeMu.RLock()
	defer s.store.lifeMu.RUnlock()
	if err := s.store.usable(); err != nil {
		return nil, err
	}
	v, err := s.store.rawGet(s.snap, key)
	if err != nil {
		return nil, s.store.readFailed(err)
	}
	return v, nil
}

func (s *Snapshot) NewIter(lower, upper []byte) (*Iterator, error) {
	if s.closed {
		return nil, errSnapshotClosed
	}
	s.store.lifeMu.RLock()
	defer s.store.lifeMu.RUnlock()
	if err := s.store.usable(); err != nil {
		return nil, err
	}
	it, err := s.snap.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, s.store.readFailed(engineUnavailable(err, "iterate snapshot of partition %d", s.store.id))
	}
	return newIterator(s.store, it, s), nil
}

// Close releases the snapshot. Iterators opened from it must be closed first.
// A snapshot that outlived its store is released without touching the
// engine.
func (s *Snapshot) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.store.readers.Add(-1)

	s.store.lifeMu.RLock()
	defer s.store.lifeMu.RUnlock()
	if s.store.db == nil {
		return nil
	}
	if err := s.snap.Close(); err != nil {
		return engineUnavailable(err, "close snapshot of partition %d", s.store.id)
	}
	return nil
}

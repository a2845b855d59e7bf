package store

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// Iterator walks committed keys in ascending byte order. Keys and values are
// only valid until the next positioning call. A positioning call made after
// the store started closing returns false and Error reports ErrNotOpen.
type Iterator struct {
	store  *PartitionStore
	it     *pebble.Iterator
	snap   *Snapshot
	err    error
	closed bool
}

func newIterator(s *PartitionStore, it *pebble.Iterator, snap *Snapshot) *Iterator {
	s.readers.Add(1)
	return &Iterator{store: s, it: it, snap: snap}
}

func (i *Iterator) First() bool            { return i.move(func(it *pebble.Iterator) bool { return it.First() }) }
func (i *Iterator) Next() bool             { return i.move(func(it *pebble.Iterator) bool { return it.Next() }) }
func (i *Iterator) SeekGE(key []byte) bool { return i.move(func(it *pebble.Iterator) bool { return it.SeekGE(key) }) }

func (i *Iterator) move(fn func(*pebble.Iterator) bool) bool {
	if i.err != nil {
		return false
	}
	if i.closed {
		i.err = errors.New("iterator is closed")
		return false
	}
	i.store.lifeMu.RLock()
	defer i.store.lifeMu.RUnlock()
	if err := i.store.usable(); err != nil {
		i.err = err
		return false
	}
	return fn(i.it)
}

func (i *Iterator) Valid() bool {
	return i.err == nil && !i.closed && i.it.Valid()
}

func (i *Iterator) Key() []byte {
	if !i.Valid() {
		return nil
	}
	return i.it.Key()
}

func (i *Iterator) Value() []byte {
	if !i.Valid() {
		return nil
	}
	return i.it.Value()
}

// Error reports a lifecycle or engine failure hit while iterating. An engine
// failure moves the store to Corrupted.
func (i *Iterator) Error() error {
	if i.err != nil {
		return i.err
	}
	if i.closed {
		return nil
	}
	err := i.it.Error()
	if err == nil {
		return nil
	}
	if isCorruption(err) {
		err = corrupt(err, "iterate partition %d", i.store.id)
	}
	i.store.markCorrupted(err)
	return errors.Mark(err, ErrEngineUnavailable)
}

// Close releases the iterator. Closing twice is a no-op.
func (i *Iterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	defer i.store.readers.Add(-1)

	i.store.lifeMu.RLock()
	defer i.store.lifeMu.RUnlock()
	if i.store.db == nil {
		return nil
	}
	if err := i.it.Close(); err != nil {
		return engineUnavailable(err, "close iterator of partition %d", i.store.id)
	}
	return nil
}

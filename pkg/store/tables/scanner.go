package tables

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
)

// Cursor is the encoded key of the last entry a scan returned. Passing it
// back as ScanOptions.After resumes strictly after that entry.
type Cursor []byte

// ScanOptions bounds a scan. A zero Limit means no limit.
type ScanOptions struct {
	After Cursor
	Limit int
}

// Entry is one decoded row.
type Entry[K any] struct {
	Key   K
	Value []byte
}

// Scanner is a lazy ascending scan over one key range. It reads from a
// single pebble iterator, so every entry comes from the same point in time
// even when the reader is the live store.
type Scanner[K any] struct {
	it     *store.Iterator
	decode func([]byte) (K, error)
	after  []byte
	limit  int

	n       int
	started bool
	done    bool
	key     K
	raw     []byte
	value   []byte
	err     error
}

func newScanner[K any](r store.Reader, lower, upper []byte, opts ScanOptions, decode func([]byte) (K, error)) *Scanner[K] {
	s := &Scanner[K]{decode: decode, after: opts.After, limit: opts.Limit}
	it, err := r.NewIter(lower, upper)
	if err != nil {
		s.err = err
		s.done = true
		return s
	}
	s.it = it
	return s
}

func failedScanner[K any](err error) *Scanner[K] {
	return &Scanner[K]{err: err, done: true}
}

// Next advances to the next entry. It returns false at the end of the range,
// at the limit, or on error; check Err afterwards.
func (s *Scanner[K]) Next() bool {
	if s.done {
		return false
	}
	if s.limit > 0 && s.n >= s.limit {
		s.done = true
		return false
	}
	var ok bool
	if !s.started {
		s.started = true
		if len(s.after) > 0 {
			ok = s.it.SeekGE(s.after)
			if ok && bytes.Equal(s.it.Key(), s.after) {
				ok = s.it.Next()
			}
		} else {
			ok = s.it.First()
		}
	} else {
		ok = s.it.Next()
	}
	if !ok {
		s.err = s.it.Error()
		s.done = true
		return false
	}
	k, err := s.decode(s.it.Key())
	if err != nil {
		s.err = err
		s.done = true
		return false
	}
	s.key = k
	s.raw = append(s.raw[:0], s.it.Key()...)
	s.value = append([]byte(nil), s.it.Value()...)
	s.n++
	return true
}

func (s *Scanner[K]) Key() K         { return s.key }
func (s *Scanner[K]) Value() []byte  { return s.value }
func (s *Scanner[K]) Err() error     { return s.err }
func (s *Scanner[K]) Cursor() Cursor { return append(Cursor(nil), s.raw...) }

// Close releases the iterator. It is safe to call more than once.
func (s *Scanner[K]) Close() error {
	s.done = true
	if s.it == nil {
		return nil
	}
	err := s.it.Close()
	s.it = nil
	return err
}

// All drains the scanner and closes it.
func (s *Scanner[K]) All() ([]Entry[K], error) {
	var out []Entry[K]
	for s.Next() {
		out = append(out, Entry[K]{Key: s.Key(), Value: s.Value()})
	}
	return out, errors.CombineErrors(s.Err(), s.Close())
}

// ScanPartition decodes every key of the partition in key order, the meta
// keys included. Malformed keys stop the scan.
func ScanPartition(r store.Reader, opts ScanOptions) *Scanner[keys.Key] {
	lower, upper := keys.PartitionRange(r.PartitionID())
	return newScanner(r, lower, upper, opts, keys.Decode)
}

// ScanDomain decodes every key of one domain.
func ScanDomain(r store.Reader, d keys.Domain, opts ScanOptions) *Scanner[keys.Key] {
	if !d.Valid() {
		return failedScanner[keys.Key](errors.Newf("unknown domain %d", d))
	}
	lower, upper := keys.DomainRange(r.PartitionID(), d)
	return newScanner(r, lower, upper, opts, keys.Decode)
}

// get reads one value through a reader of the table's partition.
func get(r store.Reader, partition uint64, k keys.Key) ([]byte, bool, error) {
	if err := checkReader(r, partition); err != nil {
		return nil, false, err
	}
	v, err := r.Get(keys.Encode(k))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func checkReader(r store.Reader, partition uint64) error {
	if r.PartitionID() != partition {
		return errors.Wrapf(store.ErrPartitionMismatch, "reader of partition %d used for partition %d", r.PartitionID(), partition)
	}
	return nil
}

func scan[K any](r store.Reader, partition uint64, lower, upper []byte, opts ScanOptions, decode func([]byte) (K, error)) *Scanner[K] {
	if err := checkReader(r, partition); err != nil {
		return failedScanner[K](err)
	}
	return newScanner(r, lower, upper, opts, decode)
}

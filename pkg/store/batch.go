package store

import (
	"bytes"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"partitionstore/pkg/logger"
	"partitionstore/pkg/store/keys"
)

// Batch stages mutations of one partition for a single atomic commit. A
// batch is consumed by Commit or Discard and cannot be reused.
type Batch struct {
	store     *PartitionStore
	pb        *pebble.Batch
	mutations int
	marker    uint64
	markerSet bool
	consumed  bool
}

// NewBatch starts an empty batch bound to this store.
func (s *PartitionStore) NewBatch() *Batch {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	var pb *pebble.Batch
	if s.db != nil {
		pb = s.db.NewBatch()
	}
	return &Batch{store: s, pb: pb}
}

func (b *Batch) PartitionID() uint64 { return b.store.id }

func (b *Batch) writable() error {
	if b.consumed {
		return ErrBatchConsumed
	}
	if b.pb == nil {
		return errors.Wrapf(ErrNotOpen, "partition %d", b.store.id)
	}
	return nil
}

func (b *Batch) stageable(k keys.Key) error {
	if err := b.writable(); err != nil {
		return err
	}
	if k.PartitionID() != b.store.id {
		return errors.Wrapf(ErrPartitionMismatch, "key of partition %d staged on partition %d", k.PartitionID(), b.store.id)
	}
	if k.Domain() == keys.DomainMeta {
		return ErrReservedKey
	}
	return nil
}

// Set stages key = value.
func (b *Batch) Set(k keys.Key, value []byte) error {
	if err := b.stageable(k); err != nil {
		return err
	}
	if err := b.pb.Set(keys.Encode(k), value, nil); err != nil {
		return errors.Wrap(err, "stage set")
	}
	b.mutations++
	return nil
}

// Delete stages the removal of key.
func (b *Batch) Delete(k keys.Key) error {
	if err := b.stageable(k); err != nil {
		return err
	}
	if err := b.pb.Delete(keys.Encode(k), nil); err != nil {
		return errors.Wrap(err, "stage delete")
	}
	b.mutations++
	return nil
}

// DeleteRange stages the removal of every key in [start, end). The range
// must start inside a data domain of this batch's partition and end at or
// before the partition's meta keys.
func (b *Batch) DeleteRange(start, end []byte) error {
	if err := b.writable(); err != nil {
		return err
	}
	p, d, err := keys.SplitPrefix(start)
	if err != nil {
		return err
	}
	if p != b.store.id {
		return errors.Wrapf(ErrPartitionMismatch, "range of partition %d staged on partition %d", p, b.store.id)
	}
	if d == keys.DomainMeta {
		return ErrReservedKey
	}
	if bytes.Compare(end, keys.DomainPrefix(b.store.id, keys.DomainMeta)) > 0 {
		return errors.Wrapf(ErrReservedKey, "range end %x reaches past the data domains", end)
	}
	if bytes.Compare(start, end) >= 0 {
		return errors.Newf("empty range [%x, %x)", start, end)
	}
	if err := b.pb.DeleteRange(start, end, nil); err != nil {
		return errors.Wrap(err, "stage range delete")
	}
	b.mutations++
	return nil
}

// SetAppliedSequence records the log position this batch completes. It is
// written with the batch mutations and never alone.
func (b *Batch) SetAppliedSequence(seq uint64) error {
	if err := b.writable(); err != nil {
		return err
	}
	b.marker = seq
	b.markerSet = true
	return nil
}

// Count returns the number of staged mutations, the marker excluded.
func (b *Batch) Count() int { return b.mutations }

// Size returns the encoded size of the staged mutations in bytes.
func (b *Batch) Size() int {
	if b.pb == nil {
		return 0
	}
	return b.pb.Len()
}

func (b *Batch) Empty() bool { return b.mutations == 0 }

// Discard drops the staged mutations.
func (b *Batch) Discard() {
	if b.consumed {
		return
	}
	b.release()
}

func (b *Batch) release() {
	b.consumed = true
	if b.pb != nil {
		if err := b.pb.Close(); err != nil {
			logger.Warn("batch_close_failed", "partition", b.store.id, "error", err)
		}
		b.pb = nil
	}
}

// Commit applies b atomically and durably. The batch is consumed whatever
// the outcome. An engine failure poisons the store.
func (s *PartitionStore) Commit(b *Batch) error {
	if b == nil {
		return errors.New("nil batch")
	}
	if b.store != s {
		b.Discard()
		return errors.Wrapf(ErrPartitionMismatch, "batch of partition %d committed on partition %d", b.store.id, s.id)
	}
	if err := b.writable(); err != nil {
		return err
	}
	defer b.release()

	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if err := s.usable(); err != nil {
		return err
	}
	if s.opts.ReadOnly {
		return errors.Wrapf(ErrReadOnly, "partition %d", s.id)
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if b.mutations == 0 {
		if b.markerSet {
			return errors.Wrapf(ErrMarkerWithoutMutations, "partition %d sequence %d", s.id, b.marker)
		}
		return nil
	}
	if b.markerSet {
		if cur := s.applied.Load(); b.marker < cur {
			return errors.Wrapf(ErrSequenceRegression, "partition %d: %d < %d", s.id, b.marker, cur)
		}
		if err := b.pb.Set(markerKey(s.id), encodeMarker(b.marker), nil); err != nil {
			return errors.Wrap(err, "stage applied sequence")
		}
	}

	size := b.pb.Len()
	began := time.Now()
	if err := b.pb.Commit(s.opts.writeOptions()); err != nil {
		s.metrics.failures.Inc()
		s.markCorrupted(err)
		logger.Error("commit_failed", "partition", s.id, "mutations", b.mutations, "error", err)
		return engineUnavailable(err, "commit to partition %d", s.id)
	}
	took := time.Since(began)
	if b.markerSet {
		s.applied.Store(b.marker)
	}
	s.metrics.observeCommit(took, size, b.mutations)
	logger.Debug("batch_committed", "partition", s.id, "mutations", b.mutations,
		"bytes", size, "applied_sequence", s.applied.Load(), "duration", took)
	return nil
}

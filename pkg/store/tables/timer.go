package tables

import (
	"time"

	"github.com/google/uuid"

	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
)

// TimerTable orders timers by fire time, then invocation id, then entry
// index.
type TimerTable struct {
	partition uint64
}

func NewTimerTable(partition uint64) TimerTable { return TimerTable{partition: partition} }

// Key builds a timer key of this table's partition.
func (t TimerTable) Key(fireAt time.Time, inv uuid.UUID, index uint32) keys.TimerKey {
	return keys.TimerKey{Partition: t.partition, FireAt: uint64(fireAt.UnixMilli()), Invocation: inv, Index: index}
}

func (t TimerTable) Get(r store.Reader, k keys.TimerKey) ([]byte, bool, error) {
	return get(r, t.partition, k)
}

func (t TimerTable) Put(b *store.Batch, k keys.TimerKey, value []byte) error {
	if err := keys.ValidateInvocationID(k.Invocation); err != nil {
		return err
	}
	return b.Set(k, value)
}

func (t TimerTable) Delete(b *store.Batch, k keys.TimerKey) error {
	return b.Delete(k)
}

func (t TimerTable) Scan(r store.Reader, opts ScanOptions) *Scanner[keys.TimerKey] {
	lower, upper := keys.DomainRange(t.partition, keys.DomainTimer)
	return scan(r, t.partition, lower, upper, opts, keys.DecodeTimerKey)
}

// ScanDue lists timers firing at or before now, earliest first.
func (t TimerTable) ScanDue(r store.Reader, now time.Time, limit int) *Scanner[keys.TimerKey] {
	lower := keys.DomainPrefix(t.partition, keys.DomainTimer)
	upper := keys.TimerFrom(t.partition, uint64(now.UnixMilli())+1)
	return scan(r, t.partition, lower, upper, ScanOptions{Limit: limit}, keys.DecodeTimerKey)
}

// ScanAfter lists timers strictly after previous, or from the first timer
// when previous is nil. It lets a timer service page through the table
// without holding an iterator.
func (t TimerTable) ScanAfter(r store.Reader, previous *keys.TimerKey, limit int) *Scanner[keys.TimerKey] {
	opts := ScanOptions{Limit: limit}
	if previous != nil {
		opts.After = keys.Encode(*previous)
	}
	return t.Scan(r, opts)
}

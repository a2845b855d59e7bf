package tables

import (
	"encoding/binary"

	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
)

// OutboxTable holds messages waiting to be shipped, ordered by sequence.
type OutboxTable struct {
	partition uint64
}

func NewOutboxTable(partition uint64) OutboxTable { return OutboxTable{partition: partition} }

func (t OutboxTable) key(seq uint64) keys.OutboxKey {
	return keys.OutboxKey{Partition: t.partition, Seq: seq}
}

func (t OutboxTable) Get(r store.Reader, seq uint64) ([]byte, bool, error) {
	return get(r, t.partition, t.key(seq))
}

func (t OutboxTable) Put(b *store.Batch, seq uint64, value []byte) error {
	return b.Set(t.key(seq), value)
}

func (t OutboxTable) Delete(b *store.Batch, seq uint64) error {
	return b.Delete(t.key(seq))
}

func (t OutboxTable) Scan(r store.Reader, rng SeqRange, opts ScanOptions) *Scanner[keys.OutboxKey] {
	lower, upper := rng.bounds(keys.DomainPrefix(t.partition, keys.DomainOutbox))
	return scan(r, t.partition, lower, upper, opts, keys.DecodeOutboxKey)
}

// Head returns the oldest message.
func (t OutboxTable) Head(r store.Reader) (Entry[keys.OutboxKey], bool, error) {
	entries, err := t.Scan(r, SeqRange{}, ScanOptions{Limit: 1}).All()
	if err != nil || len(entries) == 0 {
		return Entry[keys.OutboxKey]{}, false, err
	}
	return entries[0], true, nil
}

// TruncateBefore stages one range delete of every message with a sequence
// below seq.
func (t OutboxTable) TruncateBefore(b *store.Batch, seq uint64) error {
	if seq == 0 {
		return nil
	}
	prefix := keys.DomainPrefix(t.partition, keys.DomainOutbox)
	end := binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), seq)
	return b.DeleteRange(prefix, end)
}

package tables

import (
	"github.com/google/uuid"

	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
)

// JournalTable holds the ordered journal entries of each invocation.
type JournalTable struct {
	partition uint64
}

func NewJournalTable(partition uint64) JournalTable { return JournalTable{partition: partition} }

func (t JournalTable) key(inv uuid.UUID, index uint32) keys.JournalKey {
	return keys.JournalKey{Partition: t.partition, Invocation: inv, Index: index}
}

func (t JournalTable) Get(r store.Reader, inv uuid.UUID, index uint32) ([]byte, bool, error) {
	return get(r, t.partition, t.key(inv, index))
}

func (t JournalTable) Put(b *store.Batch, inv uuid.UUID, index uint32, value []byte) error {
	if err := keys.ValidateInvocationID(inv); err != nil {
		return err
	}
	return b.Set(t.key(inv, index), value)
}

func (t JournalTable) Delete(b *store.Batch, inv uuid.UUID, index uint32) error {
	return b.Delete(t.key(inv, index))
}

// Scan lists the entries of one invocation in index order.
func (t JournalTable) Scan(r store.Reader, inv uuid.UUID, opts ScanOptions) *Scanner[keys.JournalKey] {
	prefix := keys.JournalInvocationPrefix(t.partition, inv)
	return scan(r, t.partition, prefix, keys.PrefixEnd(prefix), opts, keys.DecodeJournalKey)
}

// Length counts the entries of one invocation.
func (t JournalTable) Length(r store.Reader, inv uuid.UUID) (uint32, error) {
	sc := t.Scan(r, inv, ScanOptions{})
	var n uint32
	for sc.Next() {
		n++
	}
	if err := sc.Err(); err != nil {
		sc.Close()
		return 0, err
	}
	return n, sc.Close()
}

// DeleteAll stages one range delete covering the whole journal of inv.
func (t JournalTable) DeleteAll(b *store.Batch, inv uuid.UUID) error {
	prefix := keys.JournalInvocationPrefix(t.partition, inv)
	return b.DeleteRange(prefix, keys.PrefixEnd(prefix))
}

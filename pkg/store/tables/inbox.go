package tables

import (
	"encoding/binary"

	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
)

// InboxTable is a per service FIFO queue ordered by sequence number.
type InboxTable struct {
	partition uint64
}

func NewInboxTable(partition uint64) InboxTable { return InboxTable{partition: partition} }

// SeqRange selects sequence numbers in [From, To). A zero To is unbounded.
type SeqRange struct {
	From uint64
	To   uint64
}

func (r SeqRange) bounds(prefix []byte) (lower, upper []byte) {
	lower = binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), r.From)
	if r.To == 0 {
		return lower, keys.PrefixEnd(prefix)
	}
	return lower, binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), r.To)
}

func (t InboxTable) key(service string, seq uint64) keys.InboxKey {
	return keys.InboxKey{Partition: t.partition, Service: service, Seq: seq}
}

func (t InboxTable) Get(r store.Reader, service string, seq uint64) ([]byte, bool, error) {
	return get(r, t.partition, t.key(service, seq))
}

func (t InboxTable) Put(b *store.Batch, service string, seq uint64, value []byte) error {
	if err := keys.ValidateServiceID(service); err != nil {
		return err
	}
	return b.Set(t.key(service, seq), value)
}

func (t InboxTable) Delete(b *store.Batch, service string, seq uint64) error {
	return b.Delete(t.key(service, seq))
}

// Scan lists one service's entries in ascending sequence order.
func (t InboxTable) Scan(r store.Reader, service string, rng SeqRange, opts ScanOptions) *Scanner[keys.InboxKey] {
	lower, upper := rng.bounds(keys.InboxServicePrefix(t.partition, service))
	return scan(r, t.partition, lower, upper, opts, keys.DecodeInboxKey)
}

// Peek returns the head of the service's queue.
func (t InboxTable) Peek(r store.Reader, service string) (Entry[keys.InboxKey], bool, error) {
	sc := t.Scan(r, service, SeqRange{}, ScanOptions{Limit: 1})
	entries, err := sc.All()
	if err != nil || len(entries) == 0 {
		return Entry[keys.InboxKey]{}, false, err
	}
	return entries[0], true, nil
}

// Pop stages the removal of the queue head read through r and returns it.
// r does not observe b, so popping twice before the commit returns the same
// head twice.
func (t InboxTable) Pop(r store.Reader, b *store.Batch, service string) (Entry[keys.InboxKey], bool, error) {
	head, ok, err := t.Peek(r, service)
	if err != nil || !ok {
		return head, ok, err
	}
	if err := b.Delete(head.Key); err != nil {
		return Entry[keys.InboxKey]{}, false, err
	}
	return head, true, nil
}

// Len counts the entries of one service.
func (t InboxTable) Len(r store.Reader, service string) (int, error) {
	sc := t.Scan(r, service, SeqRange{}, ScanOptions{})
	n := 0
	for sc.Next() {
		n++
	}
	if err := sc.Err(); err != nil {
		sc.Close()
		return 0, err
	}
	return n, sc.Close()
}

package tables

import (
	"encoding/binary"

	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
)

// DedupTable remembers the highest sequence number seen from each producer.
type DedupTable struct {
	partition uint64
}

func NewDedupTable(partition uint64) DedupTable { return DedupTable{partition: partition} }

func (t DedupTable) key(p keys.ProducerID) keys.DedupKey {
	return keys.DedupKey{Partition: t.partition, Producer: p}
}

func decodeSeq(v []byte) (uint64, error) {
	if len(v) != 8 {
		return 0, malformedValue("dedup sequence has %d bytes", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func (t DedupTable) Get(r store.Reader, p keys.ProducerID) (uint64, bool, error) {
	raw, ok, err := get(r, t.partition, t.key(p))
	if err != nil || !ok {
		return 0, false, err
	}
	seq, err := decodeSeq(raw)
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

func (t DedupTable) Put(b *store.Batch, p keys.ProducerID, seq uint64) error {
	if err := keys.ValidateProducer(p); err != nil {
		return err
	}
	return b.Set(t.key(p), binary.BigEndian.AppendUint64(nil, seq))
}

func (t DedupTable) Delete(b *store.Batch, p keys.ProducerID) error {
	return b.Delete(t.key(p))
}

// IsDuplicate reports whether seq was already accepted from p.
func (t DedupTable) IsDuplicate(r store.Reader, p keys.ProducerID, seq uint64) (bool, error) {
	last, ok, err := t.Get(r, p)
	if err != nil || !ok {
		return false, err
	}
	return seq <= last, nil
}

func (t DedupTable) ScanAll(r store.Reader, opts ScanOptions) *Scanner[keys.DedupKey] {
	lower, upper := keys.DomainRange(t.partition, keys.DomainDedup)
	return scan(r, t.partition, lower, upper, opts, keys.DecodeDedupKey)
}

package tables

import (
	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
)

// StateTable is the keyed user state of virtual objects, grouped by
// (service name, service key).
type StateTable struct {
	partition uint64
}

func NewStateTable(partition uint64) StateTable { return StateTable{partition: partition} }

func (t StateTable) key(name, key string, stateKey []byte) keys.StateKey {
	return keys.StateKey{Partition: t.partition, ServiceName: name, ServiceKey: key, Key: stateKey}
}

func (t StateTable) Get(r store.Reader, name, key string, stateKey []byte) ([]byte, bool, error) {
	return get(r, t.partition, t.key(name, key, stateKey))
}

func (t StateTable) Put(b *store.Batch, name, key string, stateKey, value []byte) error {
	if err := keys.ValidateStateKey(name, key, stateKey); err != nil {
		return err
	}
	return b.Set(t.key(name, key, stateKey), value)
}

func (t StateTable) Delete(b *store.Batch, name, key string, stateKey []byte) error {
	return b.Delete(t.key(name, key, stateKey))
}

// ScanService lists every state entry of one service instance in state key
// order.
func (t StateTable) ScanService(r store.Reader, name, key string, opts ScanOptions) *Scanner[keys.StateKey] {
	prefix := keys.StateServicePrefix(t.partition, name, key)
	return scan(r, t.partition, prefix, keys.PrefixEnd(prefix), opts, keys.DecodeStateKey)
}

// DeleteService stages one range delete of all state of a service instance.
func (t StateTable) DeleteService(b *store.Batch, name, key string) error {
	prefix := keys.StateServicePrefix(t.partition, name, key)
	return b.DeleteRange(prefix, keys.PrefixEnd(prefix))
}

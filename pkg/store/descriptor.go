package store

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"partitionstore/pkg/store/keys"
)

const (
	descriptorVersion = 1
	descriptorLen     = 1 + keys.PartitionLen + 8
	markerLen         = 8
)

// descriptor value: version(1) | partition(8) | xxh3(first 9 bytes)(8)
func encodeDescriptor(partition uint64) []byte {
	b := make([]byte, 0, descriptorLen)
	b = append(b, descriptorVersion)
	b = binary.BigEndian.AppendUint64(b, partition)
	return binary.BigEndian.AppendUint64(b, xxh3.Hash(b))
}

func checkDescriptor(partition uint64, v []byte) error {
	if len(v) != descriptorLen {
		return corrupt(nil, "descriptor has %d bytes, want %d", len(v), descriptorLen)
	}
	if sum := binary.BigEndian.Uint64(v[9:]); sum != xxh3.Hash(v[:9]) {
		return corrupt(nil, "descriptor checksum mismatch")
	}
	if v[0] != descriptorVersion {
		return corrupt(nil, "unsupported descriptor version %d", v[0])
	}
	if got := binary.BigEndian.Uint64(v[1:9]); got != partition {
		return corrupt(nil, "store belongs to partition %d, opened as %d", got, partition)
	}
	return nil
}

func encodeMarker(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, markerLen), seq)
}

func decodeMarker(v []byte) (uint64, error) {
	if len(v) != markerLen {
		return 0, corrupt(nil, "applied sequence marker has %d bytes, want %d", len(v), markerLen)
	}
	return binary.BigEndian.Uint64(v), nil
}

func descriptorKey(partition uint64) []byte {
	return keys.Encode(keys.MetaKey{Partition: partition, Kind: keys.MetaDescriptor})
}

func markerKey(partition uint64) []byte {
	return keys.Encode(keys.MetaKey{Partition: partition, Kind: keys.MetaAppliedSequence})
}

package keys

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Encode returns the byte encoding of k.
func Encode(k Key) []byte {
	return k.AppendEncode(make([]byte, 0, 48))
}

func appendPrefix(dst []byte, partition uint64, d Domain) []byte {
	dst = binary.BigEndian.AppendUint64(dst, partition)
	return append(dst, byte(d))
}

func (k StatusKey) AppendEncode(dst []byte) []byte {
	dst = appendPrefix(dst, k.Partition, DomainStatus)
	dst = appendEscaped(dst, k.Service)
	return append(dst, k.Invocation[:]...)
}

func (k InboxKey) AppendEncode(dst []byte) []byte {
	dst = appendPrefix(dst, k.Partition, DomainInbox)
	dst = appendEscaped(dst, k.Service)
	return binary.BigEndian.AppendUint64(dst, k.Seq)
}

func (k OutboxKey) AppendEncode(dst []byte) []byte {
	dst = appendPrefix(dst, k.Partition, DomainOutbox)
	return binary.BigEndian.AppendUint64(dst, k.Seq)
}

func (k TimerKey) AppendEncode(dst []byte) []byte {
	dst = appendPrefix(dst, k.Partition, DomainTimer)
	dst = binary.BigEndian.AppendUint64(dst, k.FireAt)
	dst = append(dst, k.Invocation[:]...)
	return binary.BigEndian.AppendUint32(dst, k.Index)
}

func (k JournalKey) AppendEncode(dst []byte) []byte {
	dst = appendPrefix(dst, k.Partition, DomainJournal)
	dst = append(dst, k.Invocation[:]...)
	return binary.BigEndian.AppendUint32(dst, k.Index)
}

func (k DedupKey) AppendEncode(dst []byte) []byte {
	dst = appendPrefix(dst, k.Partition, DomainDedup)
	dst = append(dst, byte(k.Producer.Kind))
	if k.Producer.Kind == ProducerPartition {
		return binary.BigEndian.AppendUint64(dst, k.Producer.Partition)
	}
	return appendEscaped(dst, k.Producer.Ingress)
}

// The state key is the last field and is written raw.
func (k StateKey) AppendEncode(dst []byte) []byte {
	dst = appendPrefix(dst, k.Partition, DomainState)
	dst = appendEscaped(dst, k.ServiceName)
	dst = appendEscaped(dst, k.ServiceKey)
	return append(dst, k.Key...)
}

func (k MetaKey) AppendEncode(dst []byte) []byte {
	dst = appendPrefix(dst, k.Partition, DomainMeta)
	return append(dst, byte(k.Kind))
}

// ranges

// PartitionPrefix is the 8 byte prefix shared by every key of a partition.
func PartitionPrefix(partition uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, PrefixLen), partition)
}

// PartitionRange returns [start, end) covering every key of the partition.
// Domain tags never reach 0xFF so the end bound exists for every id.
func PartitionRange(partition uint64) (start, end []byte) {
	start = PartitionPrefix(partition)
	end = append(PartitionPrefix(partition), 0xFF)
	return start, end
}

func DomainPrefix(partition uint64, d Domain) []byte {
	return appendPrefix(make([]byte, 0, PrefixLen), partition, d)
}

func DomainRange(partition uint64, d Domain) (start, end []byte) {
	start = DomainPrefix(partition, d)
	return start, PrefixEnd(start)
}

func StatusServicePrefix(partition uint64, service string) []byte {
	return appendEscaped(DomainPrefix(partition, DomainStatus), service)
}

func InboxServicePrefix(partition uint64, service string) []byte {
	return appendEscaped(DomainPrefix(partition, DomainInbox), service)
}

func JournalInvocationPrefix(partition uint64, id uuid.UUID) []byte {
	return append(DomainPrefix(partition, DomainJournal), id[:]...)
}

func StateServicePrefix(partition uint64, name, key string) []byte {
	return appendEscaped(appendEscaped(DomainPrefix(partition, DomainState), name), key)
}

// TimerFrom is the smallest timer key firing at or after fireAt.
func TimerFrom(partition uint64, fireAt uint64) []byte {
	return binary.BigEndian.AppendUint64(DomainPrefix(partition, DomainTimer), fireAt)
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

package keys

import (
	"fmt"

	"github.com/google/uuid"
)

// Key is implemented by every logical key. Encoding is selected by the
// concrete type, never by reflection.
type Key interface {
	Domain() Domain
	PartitionID() uint64
	AppendEncode(dst []byte) []byte
}

type StatusKey struct {
	Partition  uint64
	Service    string
	Invocation uuid.UUID
}

type InboxKey struct {
	Partition uint64
	Service   string
	Seq       uint64
}

type OutboxKey struct {
	Partition uint64
	Seq       uint64
}

// TimerKey orders by FireAt, then Invocation bytes, then Index.
type TimerKey struct {
	Partition  uint64
	FireAt     uint64 // unix milliseconds
	Invocation uuid.UUID
	Index      uint32
}

type JournalKey struct {
	Partition  uint64
	Invocation uuid.UUID
	Index      uint32
}

// ProducerID identifies the source whose sequence numbers are deduplicated:
// another partition (by id) or an ingress (by name).
type ProducerID struct {
	Kind      ProducerKind
	Partition uint64
	Ingress   string
}

func PartitionProducer(id uint64) ProducerID {
	return ProducerID{Kind: ProducerPartition, Partition: id}
}

func IngressProducer(name string) ProducerID {
	return ProducerID{Kind: ProducerIngress, Ingress: name}
}

func (p ProducerID) String() string {
	if p.Kind == ProducerPartition {
		return fmt.Sprintf("partition/%d", p.Partition)
	}
	return "ingress/" + p.Ingress
}

type DedupKey struct {
	Partition uint64
	Producer  ProducerID
}

// StateKey addresses one user state entry of a keyed service instance.
type StateKey struct {
	Partition   uint64
	ServiceName string
	ServiceKey  string
	Key         []byte
}

type MetaKey struct {
	Partition uint64
	Kind      MetaKind
}

func (k StatusKey) Domain() Domain  { return DomainStatus }
func (k InboxKey) Domain() Domain   { return DomainInbox }
func (k OutboxKey) Domain() Domain  { return DomainOutbox }
func (k TimerKey) Domain() Domain   { return DomainTimer }
func (k JournalKey) Domain() Domain { return DomainJournal }
func (k DedupKey) Domain() Domain   { return DomainDedup }
func (k StateKey) Domain() Domain   { return DomainState }
func (k MetaKey) Domain() Domain    { return DomainMeta }

func (k StatusKey) PartitionID() uint64  { return k.Partition }
func (k InboxKey) PartitionID() uint64   { return k.Partition }
func (k OutboxKey) PartitionID() uint64  { return k.Partition }
func (k TimerKey) PartitionID() uint64   { return k.Partition }
func (k JournalKey) PartitionID() uint64 { return k.Partition }
func (k DedupKey) PartitionID() uint64   { return k.Partition }
func (k StateKey) PartitionID() uint64   { return k.Partition }
func (k MetaKey) PartitionID() uint64    { return k.Partition }

// NewInvocationID returns a time ordered (v7) uuid.
func NewInvocationID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

package keys

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// SplitPrefix returns the partition and domain of an encoded key without
// decoding the rest.
func SplitPrefix(b []byte) (uint64, Domain, error) {
	if len(b) < PrefixLen {
		return 0, 0, malformed(0, b, "shorter than partition prefix")
	}
	d := Domain(b[PartitionLen])
	if !d.Valid() {
		return 0, d, malformed(d, b, "unknown domain tag")
	}
	return binary.BigEndian.Uint64(b), d, nil
}

func expectPrefix(b []byte, want Domain) (uint64, []byte, error) {
	p, d, err := SplitPrefix(b)
	if err != nil {
		return 0, nil, err
	}
	if d != want {
		return 0, nil, malformed(want, b, "domain tag is "+d.String())
	}
	return p, b[PrefixLen:], nil
}

// Decode dispatches on the domain tag and returns the logical key.
func Decode(b []byte) (Key, error) {
	_, d, err := SplitPrefix(b)
	if err != nil {
		return nil, err
	}
	switch d {
	case DomainStatus:
		return DecodeStatusKey(b)
	case DomainInbox:
		return DecodeInboxKey(b)
	case DomainOutbox:
		return DecodeOutboxKey(b)
	case DomainTimer:
		return DecodeTimerKey(b)
	case DomainJournal:
		return DecodeJournalKey(b)
	case DomainDedup:
		return DecodeDedupKey(b)
	case DomainState:
		return DecodeStateKey(b)
	case DomainMeta:
		return DecodeMetaKey(b)
	default:
		return nil, malformed(d, b, "unknown domain tag")
	}
}

func DecodeStatusKey(b []byte) (StatusKey, error) {
	p, rest, err := expectPrefix(b, DomainStatus)
	if err != nil {
		return StatusKey{}, err
	}
	svc, rest, ok := readEscaped(rest)
	if !ok {
		return StatusKey{}, malformed(DomainStatus, b, "bad service id")
	}
	if len(rest) != InvocationIDLen {
		return StatusKey{}, malformed(DomainStatus, b, "bad invocation id length")
	}
	return StatusKey{Partition: p, Service: svc, Invocation: uuid.UUID(rest)}, nil
}

func DecodeInboxKey(b []byte) (InboxKey, error) {
	p, rest, err := expectPrefix(b, DomainInbox)
	if err != nil {
		return InboxKey{}, err
	}
	svc, rest, ok := readEscaped(rest)
	if !ok {
		return InboxKey{}, malformed(DomainInbox, b, "bad service id")
	}
	if len(rest) != SeqLen {
		return InboxKey{}, malformed(DomainInbox, b, "bad sequence length")
	}
	return InboxKey{Partition: p, Service: svc, Seq: binary.BigEndian.Uint64(rest)}, nil
}

func DecodeOutboxKey(b []byte) (OutboxKey, error) {
	p, rest, err := expectPrefix(b, DomainOutbox)
	if err != nil {
		return OutboxKey{}, err
	}
	if len(rest) != SeqLen {
		return OutboxKey{}, malformed(DomainOutbox, b, "bad sequence length")
	}
	return OutboxKey{Partition: p, Seq: binary.BigEndian.Uint64(rest)}, nil
}

func DecodeTimerKey(b []byte) (TimerKey, error) {
	p, rest, err := expectPrefix(b, DomainTimer)
	if err != nil {
		return TimerKey{}, err
	}
	if len(rest) != FireTimeLen+InvocationIDLen+IndexLen {
		return TimerKey{}, malformed(DomainTimer, b, "bad timer key length")
	}
	return TimerKey{
		Partition:  p,
		FireAt:     binary.BigEndian.Uint64(rest),
		Invocation: uuid.UUID(rest[FireTimeLen : FireTimeLen+InvocationIDLen]),
		Index:      binary.BigEndian.Uint32(rest[FireTimeLen+InvocationIDLen:]),
	}, nil
}

func DecodeJournalKey(b []byte) (JournalKey, error) {
	p, rest, err := expectPrefix(b, DomainJournal)
	if err != nil {
		return JournalKey{}, err
	}
	if len(rest) != InvocationIDLen+IndexLen {
		return JournalKey{}, malformed(DomainJournal, b, "bad journal key length")
	}
	return JournalKey{
		Partition:  p,
		Invocation: uuid.UUID(rest[:InvocationIDLen]),
		Index:      binary.BigEndian.Uint32(rest[InvocationIDLen:]),
	}, nil
}

func DecodeDedupKey(b []byte) (DedupKey, error) {
	p, rest, err := expectPrefix(b, DomainDedup)
	if err != nil {
		return DedupKey{}, err
	}
	if len(rest) < 1 {
		return DedupKey{}, malformed(DomainDedup, b, "missing producer kind")
	}
	kind, rest := ProducerKind(rest[0]), rest[1:]
	switch kind {
	case ProducerPartition:
		if len(rest) != PartitionLen {
			return DedupKey{}, malformed(DomainDedup, b, "bad producer partition length")
		}
		return DedupKey{Partition: p, Producer: PartitionProducer(binary.BigEndian.Uint64(rest))}, nil
	case ProducerIngress:
		name, rest, ok := readEscaped(rest)
		if !ok || len(rest) != 0 {
			return DedupKey{}, malformed(DomainDedup, b, "bad ingress producer")
		}
		return DedupKey{Partition: p, Producer: IngressProducer(name)}, nil
	default:
		return DedupKey{}, malformed(DomainDedup, b, "unknown producer kind")
	}
}

func DecodeStateKey(b []byte) (StateKey, error) {
	p, rest, err := expectPrefix(b, DomainState)
	if err != nil {
		return StateKey{}, err
	}
	name, rest, ok := readEscaped(rest)
	if !ok {
		return StateKey{}, malformed(DomainState, b, "bad service name")
	}
	key, rest, ok := readEscaped(rest)
	if !ok {
		return StateKey{}, malformed(DomainState, b, "bad service key")
	}
	return StateKey{Partition: p, ServiceName: name, ServiceKey: key, Key: append([]byte{}, rest...)}, nil
}

func DecodeMetaKey(b []byte) (MetaKey, error) {
	p, rest, err := expectPrefix(b, DomainMeta)
	if err != nil {
		return MetaKey{}, err
	}
	if len(rest) != 1 {
		return MetaKey{}, malformed(DomainMeta, b, "bad meta key length")
	}
	kind := MetaKind(rest[0])
	if kind != MetaAppliedSequence && kind != MetaDescriptor {
		return MetaKey{}, malformed(DomainMeta, b, "unknown meta kind")
	}
	return MetaKey{Partition: p, Kind: kind}, nil
}

package keys

import (
	"fmt"
	"strings"
)

// Domain is the one byte tag written after the partition prefix. The set is
// closed: every key in a partition store belongs to exactly one of these.
type Domain uint8

const (
	// layout dictionary (all integers big-endian, fixed width):
	// p    = partition id, uint64
	// d    = domain tag, 1 byte
	// esc  = escaped string, 0x00 -> 0x00 0xFF, terminated by 0x00 0x01
	// inv  = invocation id, 16 byte uuid
	// seq  = sequence number, uint64
	// idx  = journal entry index, uint32
	// ms   = fire time in unix milliseconds, uint64

	DomainStatus  Domain = 0x01 // p d esc(service) inv
	DomainInbox   Domain = 0x02 // p d esc(service) seq
	DomainOutbox  Domain = 0x03 // p d seq
	DomainTimer   Domain = 0x04 // p d ms inv idx
	DomainJournal Domain = 0x05 // p d inv idx
	DomainDedup   Domain = 0x06 // p d kind (uint64 | esc(ingress))
	DomainState   Domain = 0x07 // p d esc(name) esc(key) raw(state key)
	DomainMeta    Domain = 0xF0 // p d kind
)

// fixed widths
const (
	PartitionLen    = 8
	PrefixLen       = PartitionLen + 1
	InvocationIDLen = 16
	SeqLen          = 8
	IndexLen        = 4
	FireTimeLen     = 8
)

// MetaKind selects one of the store owned singleton records.
type MetaKind uint8

const (
	MetaAppliedSequence MetaKind = 0x01
	MetaDescriptor      MetaKind = 0x02
)

// ProducerKind distinguishes the two sources of deduplicated commands.
type ProducerKind uint8

const (
	ProducerPartition ProducerKind = 0x01
	ProducerIngress   ProducerKind = 0x02
)

var domainNames = map[Domain]string{
	DomainStatus:  "status",
	DomainInbox:   "inbox",
	DomainOutbox:  "outbox",
	DomainTimer:   "timer",
	DomainJournal: "journal",
	DomainDedup:   "dedup",
	DomainState:   "state",
	DomainMeta:    "meta",
}

// Domains returns the domains in key order.
func Domains() []Domain {
	return []Domain{DomainStatus, DomainInbox, DomainOutbox, DomainTimer, DomainJournal, DomainDedup, DomainState, DomainMeta}
}

func (d Domain) String() string {
	if n, ok := domainNames[d]; ok {
		return n
	}
	return fmt.Sprintf("domain(0x%02x)", uint8(d))
}

func (d Domain) Valid() bool {
	_, ok := domainNames[d]
	return ok
}

// ParseDomain resolves a domain by its lowercase name.
func ParseDomain(s string) (Domain, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d, n := range domainNames {
		if n == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown domain %q", s)
}

func (k ProducerKind) String() string {
	switch k {
	case ProducerPartition:
		return "partition"
	case ProducerIngress:
		return "ingress"
	default:
		return fmt.Sprintf("producer(0x%02x)", uint8(k))
	}
}

func (k MetaKind) String() string {
	switch k {
	case MetaAppliedSequence:
		return "applied_sequence"
	case MetaDescriptor:
		return "descriptor"
	default:
		return fmt.Sprintf("meta(0x%02x)", uint8(k))
	}
}

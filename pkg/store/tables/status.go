package tables

import (
	"encoding/binary"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
)

// ErrMalformedValue is returned when a stored value cannot be decoded. Such
// errors are also marked store.ErrCorrupt.
var ErrMalformedValue = errors.New("malformed value")

func malformedValue(format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(ErrMalformedValue, format, args...), store.ErrCorrupt)
}

func IsMalformedValue(err error) bool { return errors.Is(err, ErrMalformedValue) }

// Status is the lifecycle phase of an invocation.
type Status uint8

const (
	StatusInboxed Status = iota + 1
	StatusInvoked
	StatusSuspended
	StatusCompleted
	StatusFree
)

func (s Status) String() string {
	switch s {
	case StatusInboxed:
		return "inboxed"
	case StatusInvoked:
		return "invoked"
	case StatusSuspended:
		return "suspended"
	case StatusCompleted:
		return "completed"
	case StatusFree:
		return "free"
	}
	return "unknown"
}

func (s Status) Valid() bool { return s >= StatusInboxed && s <= StatusFree }

// Terminal reports whether the invocation no longer needs its journal.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFree }

// InvocationStatus is the value stored in the status domain.
type InvocationStatus struct {
	Status     Status
	RetryCount uint32
	CreatedAt  time.Time
	ModifiedAt time.Time
	Payload    []byte
}

const (
	statusVersion   = 1
	statusHeaderLen = 1 + 1 + 4 + 8 + 8
)

// Encode writes version | status | retry | created ms | modified ms | payload.
func (v InvocationStatus) Encode() []byte {
	b := make([]byte, 0, statusHeaderLen+len(v.Payload))
	b = append(b, statusVersion, byte(v.Status))
	b = binary.BigEndian.AppendUint32(b, v.RetryCount)
	b = binary.BigEndian.AppendUint64(b, uint64(v.CreatedAt.UnixMilli()))
	b = binary.BigEndian.AppendUint64(b, uint64(v.ModifiedAt.UnixMilli()))
	return append(b, v.Payload...)
}

func DecodeStatus(b []byte) (InvocationStatus, error) {
	if len(b) < statusHeaderLen {
		return InvocationStatus{}, malformedValue("status value has %d bytes", len(b))
	}
	if b[0] != statusVersion {
		return InvocationStatus{}, malformedValue("unknown status version %d", b[0])
	}
	st := Status(b[1])
	if !st.Valid() {
		return InvocationStatus{}, malformedValue("unknown status %d", b[1])
	}
	v := InvocationStatus{
		Status:     st,
		RetryCount: binary.BigEndian.Uint32(b[2:6]),
		CreatedAt:  time.UnixMilli(int64(binary.BigEndian.Uint64(b[6:14]))),
		ModifiedAt: time.UnixMilli(int64(binary.BigEndian.Uint64(b[14:22]))),
	}
	if len(b) > statusHeaderLen {
		v.Payload = append([]byte(nil), b[statusHeaderLen:]...)
	}
	return v, nil
}

// StatusTable holds one InvocationStatus per (service, invocation).
type StatusTable struct {
	partition uint64
}

func NewStatusTable(partition uint64) StatusTable { return StatusTable{partition: partition} }

func (t StatusTable) key(service string, inv uuid.UUID) keys.StatusKey {
	return keys.StatusKey{Partition: t.partition, Service: service, Invocation: inv}
}

func (t StatusTable) Get(r store.Reader, service string, inv uuid.UUID) (InvocationStatus, bool, error) {
	raw, ok, err := get(r, t.partition, t.key(service, inv))
	if err != nil || !ok {
		return InvocationStatus{}, false, err
	}
	v, err := DecodeStatus(raw)
	if err != nil {
		return InvocationStatus{}, false, errors.Wrapf(err, "status of %s/%s", service, inv)
	}
	return v, true, nil
}

func (t StatusTable) Put(b *store.Batch, service string, inv uuid.UUID, v InvocationStatus) error {
	if err := keys.ValidateServiceID(service); err != nil {
		return err
	}
	if err := keys.ValidateInvocationID(inv); err != nil {
		return err
	}
	if !v.Status.Valid() {
		return errors.Newf("invalid status %d", v.Status)
	}
	return b.Set(t.key(service, inv), v.Encode())
}

func (t StatusTable) Delete(b *store.Batch, service string, inv uuid.UUID) error {
	return b.Delete(t.key(service, inv))
}

// ScanService lists the statuses of one service ordered by invocation id.
func (t StatusTable) ScanService(r store.Reader, service string, opts ScanOptions) *Scanner[keys.StatusKey] {
	prefix := keys.StatusServicePrefix(t.partition, service)
	return scan(r, t.partition, prefix, keys.PrefixEnd(prefix), opts, keys.DecodeStatusKey)
}

func (t StatusTable) ScanAll(r store.Reader, opts ScanOptions) *Scanner[keys.StatusKey] {
	lower, upper := keys.DomainRange(t.partition, keys.DomainStatus)
	return scan(r, t.partition, lower, upper, opts, keys.DecodeStatusKey)
}

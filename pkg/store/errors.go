package store

import (
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// Error taxonomy. Concrete errors are marked with one of these so callers can
// match with errors.Is while the engine cause stays attached.
var (
	ErrInvalidConfig     = errors.New("invalid store configuration")
	ErrCorrupt           = errors.New("partition store is corrupt")
	ErrEngineUnavailable = errors.New("storage engine unavailable")
	ErrLockContention    = errors.New("partition path is locked by another store")
	ErrNotOpen           = errors.New("partition store is not open")
	ErrNotFound          = errors.New("key not found")
	ErrReadersOpen       = errors.New("snapshots or iterators still open")

	ErrBatchConsumed          = errors.New("batch already committed or discarded")
	ErrPartitionMismatch      = errors.New("key belongs to another partition")
	ErrSequenceRegression     = errors.New("applied sequence would move backwards")
	ErrMarkerWithoutMutations = errors.New("applied sequence set on a batch without mutations")
	ErrReservedKey            = errors.New("meta keys are managed by the store")
	ErrReadOnly               = errors.New("partition store is read-only")
)

func invalidConfig(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidConfig)
}

func corrupt(err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Mark(errors.Newf(format, args...), ErrCorrupt)
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrCorrupt)
}

func engineUnavailable(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrEngineUnavailable)
}

func lockContention(err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Mark(errors.Newf(format, args...), ErrLockContention)
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrLockContention)
}

// LockContentionf builds a lock contention error for callers that detect an
// already owned partition before reaching the file lock.
func LockContentionf(format string, args ...interface{}) error {
	return lockContention(nil, format, args...)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pebble.ErrNotFound)
}

func IsInvalidConfig(err error) bool     { return errors.Is(err, ErrInvalidConfig) }
func IsCorrupt(err error) bool           { return errors.Is(err, ErrCorrupt) }
func IsEngineUnavailable(err error) bool { return errors.Is(err, ErrEngineUnavailable) }
func IsLockContention(err error) bool    { return errors.Is(err, ErrLockContention) }

// isCorruption classifies engine errors. pebble marks corruption with an
// internal marker that is not exported by every release, so the message is
// checked as well.
func isCorruption(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCorrupt) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "corrupt")
}

// isLockHeld recognises pebble's own LOCK file failures.
func isLockHeld(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "lock held") || strings.Contains(msg, "resource temporarily unavailable")
}

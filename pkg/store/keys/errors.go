package keys

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrMalformedKey matches every decode failure. A malformed key means the
// stored bytes do not follow the layout of their domain, which is treated as
// corruption by callers.
var ErrMalformedKey = errors.New("malformed key")

type MalformedKeyError struct {
	Domain Domain
	Key    []byte
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed %s key %x: %s", e.Domain, e.Key, e.Reason)
}

func (e *MalformedKeyError) Is(target error) bool {
	return target == ErrMalformedKey
}

func malformed(d Domain, key []byte, reason string) error {
	return &MalformedKeyError{Domain: d, Key: append([]byte(nil), key...), Reason: reason}
}

// IsMalformedKey reports whether err was produced by a decode failure.
func IsMalformedKey(err error) bool {
	var me *MalformedKeyError
	return errors.As(err, &me) || errors.Is(err, ErrMalformedKey)
}

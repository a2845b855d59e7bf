package pruner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/raulk/clock"

	"partitionstore/pkg/logger"
)

// ErrNotOwner is returned when renewing or releasing a lease held by
// another owner.
var ErrNotOwner = errors.New("lease is held by another owner")

// fileLease keeps at most one pruning run alive per store root, across
// processes sharing the directory.
type fileLease struct {
	path  string
	clock clock.Clock
}

type leaseFile struct {
	Owner   string `json:"owner"`
	Expires string `json:"expires"`
}

func newFileLease(dir string, clk clock.Clock) *fileLease {
	return &fileLease{path: filepath.Join(dir, "pruner.lock"), clock: clk}
}

func (l *fileLease) write(path string, lf leaseFile) error {
	b, err := json.Marshal(lf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func (l *fileLease) read() (leaseFile, error) {
	var existing leaseFile
	data, err := os.ReadFile(l.path)
	if err != nil {
		return existing, err
	}
	if err := json.Unmarshal(data, &existing); err != nil {
		return existing, errors.Wrapf(err, "decode lease %s", l.path)
	}
	return existing, nil
}

// Acquire takes the lease for ttl. It returns false without error when an
// unexpired lease of another owner exists.
func (l *fileLease) Acquire(owner string, ttl time.Duration) (bool, error) {
	now := l.clock.Now()
	lf := leaseFile{Owner: owner, Expires: now.Add(ttl).UTC().Format(time.RFC3339Nano)}
	tmp := l.path + "." + owner + ".tmp"
	if err := l.write(tmp, lf); err != nil {
		logger.Error("lease_tmp_write_failed", "path", tmp, "error", err)
		return false, err
	}
	defer os.Remove(tmp)

	// link fails when the lock exists, which makes creation atomic
	if err := os.Link(tmp, l.path); err == nil {
		logger.Debug("lease_acquired", "path", l.path, "owner", owner)
		return true, nil
	}
	existing, err := l.read()
	if err != nil {
		return false, err
	}
	expT, perr := time.Parse(time.RFC3339Nano, existing.Expires)
	if perr == nil && !expT.Before(now) {
		logger.Info("lease_currently_held", "path", l.path, "owner", existing.Owner, "expires", existing.Expires)
		return false, nil
	}
	if err := os.Rename(tmp, l.path); err != nil {
		logger.Error("lease_replace_failed", "error", err)
		return false, err
	}
	logger.Info("lease_acquired_replaced", "path", l.path, "owner", owner, "previous_owner", existing.Owner)
	return true, nil
}

// Renew extends a lease held by owner.
func (l *fileLease) Renew(owner string, ttl time.Duration) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		return ErrNotOwner
	}
	existing.Expires = l.clock.Now().Add(ttl).UTC().Format(time.RFC3339Nano)
	tmp := l.path + "." + owner + ".tmp"
	if err := l.write(tmp, existing); err != nil {
		logger.Error("lease_renew_tmp_write_failed", "error", err)
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		logger.Error("lease_renew_rename_failed", "error", err)
		return err
	}
	logger.Debug("lease_renewed", "path", l.path, "owner", owner)
	return nil
}

// Release removes a lease held by owner.
func (l *fileLease) Release(owner string) error {
	existing, err := l.read()
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		logger.Error("lease_release_not_owner", "owner", owner, "holder", existing.Owner)
		return ErrNotOwner
	}
	if err := os.Remove(l.path); err != nil {
		logger.Error("lease_release_remove_failed", "error", err)
		return err
	}
	logger.Debug("lease_released", "path", l.path, "owner", owner)
	return nil
}

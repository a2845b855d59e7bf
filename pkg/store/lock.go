package store

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const lockFileName = "PARTITION.LOCK"

// dirLock is an advisory flock on the partition directory. flock locks
// belong to the open file description, so two stores in the same process
// conflict just like two processes do.
type dirLock struct {
	f    *os.File
	path string
}

func acquireDirLock(dir string, shared bool) (*dirLock, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock file %s", path)
	}
	how := unix.LOCK_EX
	if shared {
		how = unix.LOCK_SH
	}
	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, lockContention(err, "partition path %s is in use", dir)
		}
		return nil, errors.Wrapf(err, "lock %s", path)
	}
	return &dirLock{f: f, path: path}, nil
}

func (l *dirLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

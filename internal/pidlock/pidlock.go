// Package pidlock keeps a single daemon per pid file by holding an advisory lock
// on it for the daemon's lifetime.
package pidlock

import (
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// ErrLocked is returned when another live process holds the pid file.
var ErrLocked = errors.New("pid file is locked by another process")

// Lock is a held pid file.
type Lock struct {
	fl   *flock.Flock
	path string
}

// Acquire locks path without blocking and writes the current pid into it. A pid
// file left behind by a dead process is taken over, since its lock died with it.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "lock pid file")
	}
	if !ok {
		if pid, err := ReadPID(path); err == nil {
			return nil, errors.Wrapf(ErrLocked, "pid %d", pid)
		}
		return nil, ErrLocked
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		fl.Unlock()
		return nil, errors.Wrap(err, "write pid file")
	}

	return &Lock{fl: fl, path: path}, nil
}

// Path returns the locked file.
func (l *Lock) Path() string { return l.path }

// Release removes the pid file and drops the lock. The file is removed first so
// that a competing process never observes an unlocked file holding our pid.
func (l *Lock) Release() error {
	rmErr := os.Remove(l.path)
	if rmErr != nil && os.IsNotExist(rmErr) {
		rmErr = nil
	}

	if err := l.fl.Unlock(); err != nil {
		return errors.Wrap(err, "unlock pid file")
	}

	return errors.Wrap(rmErr, "remove pid file")
}

// ReadPID returns the pid stored in path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "read pid file")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrap(err, "parse pid file")
	}

	return pid, nil
}

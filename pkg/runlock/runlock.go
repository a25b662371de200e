// Package runlock guards against two backup runs mutating the same ledger
// at once. The lock is a flock on a sidecar file next to the ledger, so it
// is released by the OS even if the process dies.
package runlock

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"

	"github.com/tkrennwa/glacier-backup/pkg/util"
)

// ErrHeld is returned when another process already holds the lock.
var ErrHeld = errors.New("lock already held by another process")

// Lock is a held run lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock at path without blocking. A lock held by another
// process yields ErrHeld.
func Acquire(path string) (*Lock, error) {
	if err := util.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("failed to prepare lock path: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrHeld, path)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. The lock file is left in place; only the flock
// matters.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

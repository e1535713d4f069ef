// SPDX-License-Identifier: MPL-2.0

//go:build unix

package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireLock takes a non-blocking exclusive flock on the lock file. The
// lock dies with the process, so a crashed venvoy never leaves an
// environment permanently busy.
func acquireLock(path string) (*EnvLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrEnvironmentBusy
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return &EnvLock{
		path: path,
		release: func() error {
			if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
				f.Close()
				return fmt.Errorf("failed to unlock %s: %w", path, err)
			}
			return f.Close()
		},
	}, nil
}

// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// acquireLock falls back to exclusive file creation where flock is not
// available. Unlike flock, the marker file survives a crash; Release
// removes it on the normal path.
func acquireLock(path string) (*EnvLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, ErrEnvironmentBusy
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	f.Close()

	return &EnvLock{
		path: path,
		release: func() error {
			return os.Remove(path)
		},
	}, nil
}

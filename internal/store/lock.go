// SPDX-License-Identifier: MPL-2.0

package store

// EnvLock is a held exclusive lock on one environment directory. Release
// is idempotent.
type EnvLock struct {
	path    string
	release func() error
}

// Path returns the lock file path.
func (l *EnvLock) Path() string { return l.path }

// Release drops the lock. Calling it more than once is a no-op.
func (l *EnvLock) Release() error {
	if l.release == nil {
		return nil
	}
	rel := l.release
	l.release = nil
	return rel()
}

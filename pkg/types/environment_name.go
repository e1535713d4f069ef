// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEnvironmentName is the sentinel error wrapped by InvalidEnvironmentNameError.
var ErrInvalidEnvironmentName = errors.New("invalid environment name")

type (
	// EnvironmentName is the user-chosen key for an environment. It doubles
	// as the on-disk directory name, so it must be a valid single filesystem
	// path segment: non-empty, no separators, not "." or "..", and printable.
	EnvironmentName string

	// InvalidEnvironmentNameError is returned when an EnvironmentName cannot
	// be used as a filesystem path segment.
	InvalidEnvironmentNameError struct {
		Value  EnvironmentName
		Reason string
	}
)

// String returns the string representation of the EnvironmentName.
func (n EnvironmentName) String() string { return string(n) }

// Validate returns an error if the EnvironmentName is not a valid filesystem
// path segment.
func (n EnvironmentName) Validate() error {
	s := string(n)
	switch {
	case strings.TrimSpace(s) == "":
		return &InvalidEnvironmentNameError{Value: n, Reason: "must be non-empty"}
	case s == "." || s == "..":
		return &InvalidEnvironmentNameError{Value: n, Reason: `must not be "." or ".."`}
	case strings.ContainsAny(s, `/\:`):
		return &InvalidEnvironmentNameError{Value: n, Reason: "must not contain path separators"}
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return &InvalidEnvironmentNameError{Value: n, Reason: "must not contain control characters"}
		}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidEnvironmentNameError) Error() string {
	return fmt.Sprintf("invalid environment name %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidEnvironmentName for errors.Is() compatibility.
func (e *InvalidEnvironmentNameError) Unwrap() error { return ErrInvalidEnvironmentName }

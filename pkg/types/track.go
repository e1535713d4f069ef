// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
)

const (
	// TrackPython is the Python interpreter track.
	TrackPython Track = "python"
	// TrackR is the R interpreter track.
	TrackR Track = "r"
)

// ErrInvalidTrack is the sentinel error wrapped by InvalidTrackError.
var ErrInvalidTrack = errors.New("invalid track")

type (
	// Track identifies the interpreted-language flavor of an environment.
	// The set is closed at compile time.
	Track string

	// InvalidTrackError is returned when a Track is not a recognized value.
	InvalidTrackError struct {
		Value Track
	}
)

// String returns the string representation of the Track.
func (t Track) String() string { return string(t) }

// Validate returns an error if the Track is not one of the defined tracks.
func (t Track) Validate() error {
	switch t {
	case TrackPython, TrackR:
		return nil
	default:
		return &InvalidTrackError{Value: t}
	}
}

// DefaultVersion returns the track version used when the user does not
// request one explicitly.
func (t Track) DefaultVersion() string {
	switch t {
	case TrackR:
		return "4.4"
	default:
		return "3.11"
	}
}

// Error implements the error interface.
func (e *InvalidTrackError) Error() string {
	return fmt.Sprintf("invalid track %q (valid: python, r)", e.Value)
}

// Unwrap returns ErrInvalidTrack for errors.Is() compatibility.
func (e *InvalidTrackError) Unwrap() error { return ErrInvalidTrack }

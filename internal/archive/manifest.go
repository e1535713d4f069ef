// SPDX-License-Identifier: MPL-2.0

// Package archive implements portable environment bundles. Every bundle is a
// compressed tar whose first entry is a manifest.yaml describing the bundle;
// import validates that manifest completely before touching the environment
// store, so a bad or mismatched archive never leaves partial state behind.
package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/venvoy/venvoy/pkg/types"
)

const (
	// FormatRecipe bundles the build recipe and declared manifest. Small,
	// portable across architectures, rebuilt on import.
	FormatRecipe Format = "recipe"
	// FormatImage bundles the built container image. Exact but heavy and
	// bound to the architecture it was built for.
	FormatImage Format = "image"
	// FormatWheelhouse bundles pre-downloaded packages for offline installs
	// on more than one architecture.
	FormatWheelhouse Format = "wheelhouse"

	// CurrentFormatVersion is the manifest schema version this build writes
	// and the only one it accepts.
	CurrentFormatVersion = 1

	// manifestEntryName is the tar entry holding the bundle manifest. It must
	// be the first entry so import can validate before extracting anything.
	manifestEntryName = "manifest.yaml"

	// maxManifestSize bounds the manifest entry; anything larger is not a
	// manifest venvoy wrote.
	maxManifestSize = 1 << 20
)

var (
	// ErrInvalidFormat is the sentinel error wrapped by InvalidFormatError.
	ErrInvalidFormat = errors.New("invalid archive format")
	// ErrInvalidArchive is returned for structurally bad bundles.
	ErrInvalidArchive = errors.New("invalid archive")
	// ErrArchitectureMismatch is the sentinel error wrapped by
	// ArchitectureMismatchError.
	ErrArchitectureMismatch = errors.New("architecture mismatch")
)

type (
	// Format identifies a bundle flavor. The set is closed at compile time.
	Format string

	// InvalidFormatError is returned when a Format is not recognized.
	InvalidFormatError struct {
		Value Format
	}

	// InvalidArchiveError is returned when a bundle fails structural
	// validation before extraction.
	InvalidArchiveError struct {
		Path   string
		Reason string
	}

	// ArchitectureMismatchError is returned when an image bundle was built
	// for a different architecture than the importing host.
	ArchitectureMismatchError struct {
		Archive string
		Host    string
	}

	// Manifest describes a bundle. It is the first tar entry of every
	// archive venvoy writes.
	Manifest struct {
		FormatVersion int                   `yaml:"format_version"`
		Format        Format                `yaml:"format"`
		Name          types.EnvironmentName `yaml:"name"`
		Track         types.Track           `yaml:"track"`
		TrackVersion  string                `yaml:"track_version"`
		BaseImage     string                `yaml:"base_image"`
		// Architectures lists the architectures the bundle serves: exactly
		// one for image bundles, at least two for wheelhouse bundles.
		Architectures []string  `yaml:"architectures"`
		CreatedAt     time.Time `yaml:"created_at"`
		// PayloadDigest covers every payload entry after the manifest, names
		// and contents both. Import refuses a bundle whose extracted payload
		// does not hash back to it.
		PayloadDigest digest.Digest `yaml:"payload_digest,omitempty"`
	}
)

// String returns the string representation of the Format.
func (f Format) String() string { return string(f) }

// Validate returns an error if the Format is not one of the defined values.
func (f Format) Validate() error {
	switch f {
	case FormatRecipe, FormatImage, FormatWheelhouse:
		return nil
	default:
		return &InvalidFormatError{Value: f}
	}
}

// Compressed file name extension per format. Image bundles use zstd because
// image tars are large and zstd decompresses several times faster than gzip;
// the text-dominated formats stay on the universally readable gzip.
func (f Format) extension() string {
	if f == FormatImage {
		return ".tar.zst"
	}
	return ".tar.gz"
}

// Error implements the error interface.
func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid archive format %q (valid: recipe, image, wheelhouse)", e.Value)
}

// Unwrap returns ErrInvalidFormat for errors.Is() compatibility.
func (e *InvalidFormatError) Unwrap() error { return ErrInvalidFormat }

// Error implements the error interface.
func (e *InvalidArchiveError) Error() string {
	return fmt.Sprintf("invalid archive %s: %s", e.Path, e.Reason)
}

// Unwrap returns ErrInvalidArchive for errors.Is() compatibility.
func (e *InvalidArchiveError) Unwrap() error { return ErrInvalidArchive }

// Error implements the error interface.
func (e *ArchitectureMismatchError) Error() string {
	return fmt.Sprintf("image was built for %s but this host is %s; export a recipe bundle instead", e.Archive, e.Host)
}

// Unwrap returns ErrArchitectureMismatch for errors.Is() compatibility.
func (e *ArchitectureMismatchError) Unwrap() error { return ErrArchitectureMismatch }

// Validate checks the manifest for internal consistency.
func (m *Manifest) Validate() error {
	if m.FormatVersion != CurrentFormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrInvalidArchive, m.FormatVersion)
	}
	if err := m.Format.Validate(); err != nil {
		return err
	}
	if err := m.Name.Validate(); err != nil {
		return err
	}
	if err := m.Track.Validate(); err != nil {
		return err
	}
	switch m.Format {
	case FormatImage:
		if len(m.Architectures) != 1 {
			return fmt.Errorf("%w: image bundle must declare exactly one architecture, got %d", ErrInvalidArchive, len(m.Architectures))
		}
	case FormatWheelhouse:
		if len(m.Architectures) < 2 {
			return fmt.Errorf("%w: wheelhouse bundle must declare at least two architectures, got %d", ErrInvalidArchive, len(m.Architectures))
		}
	}
	if m.PayloadDigest != "" {
		if err := m.PayloadDigest.Validate(); err != nil {
			return fmt.Errorf("%w: malformed payload digest: %v", ErrInvalidArchive, err)
		}
	}
	return nil
}

// encode renders the manifest to YAML.
func (m *Manifest) encode() ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle manifest: %w", err)
	}
	return data, nil
}

// decodeManifest parses and validates a manifest entry.
func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest does not parse: %v", ErrInvalidArchive, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

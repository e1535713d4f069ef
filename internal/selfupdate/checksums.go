// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
)

// checksumsAssetName is the release asset listing the sha256 of every
// platform archive, in sha256sum output format.
const checksumsAssetName = "SHA256SUMS"

var (
	// ErrChecksumMismatch is the sentinel error wrapped by ChecksumMismatchError.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrAssetNotFound is the sentinel error wrapped by AssetNotFoundError.
	ErrAssetNotFound = errors.New("release asset not found")
)

type (
	// ChecksumMismatchError is returned when a downloaded archive does not
	// hash to the value SHA256SUMS declares for it.
	ChecksumMismatchError struct {
		Asset string
		Want  digest.Digest
		Got   digest.Digest
	}

	// AssetNotFoundError is returned when a release lacks an expected asset.
	AssetNotFoundError struct {
		Name string
	}
)

// Error implements the error interface.
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.Asset, e.Want, e.Got)
}

// Unwrap returns ErrChecksumMismatch for errors.Is() compatibility.
func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksumMismatch }

// Error implements the error interface.
func (e *AssetNotFoundError) Error() string {
	return fmt.Sprintf("release has no asset %q", e.Name)
}

// Unwrap returns ErrAssetNotFound for errors.Is() compatibility.
func (e *AssetNotFoundError) Unwrap() error { return ErrAssetNotFound }

// parseChecksums reads sha256sum output ("<hex>  <name>" lines) into a map
// of asset name to digest. Blank lines and comments are skipped; a line
// that is neither is malformed and rejects the whole file.
func parseChecksums(r io.Reader) (map[string]digest.Digest, error) {
	sums := make(map[string]digest.Digest)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed checksum line %q", line)
		}
		dig := digest.NewDigestFromEncoded(digest.SHA256, fields[0])
		if err := dig.Validate(); err != nil {
			return nil, fmt.Errorf("bad checksum for %s: %w", fields[1], err)
		}
		// sha256sum marks binary mode with a leading asterisk.
		sums[strings.TrimPrefix(fields[1], "*")] = dig
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}
	return sums, nil
}

// verifyFile checks that the file at path hashes to want.
func verifyFile(path, name string, want digest.Digest) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for verification: %w", name, err)
	}
	defer f.Close()

	got, err := digest.SHA256.FromReader(f)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", name, err)
	}
	if got != want {
		return &ChecksumMismatchError{Asset: name, Want: want, Got: got}
	}
	return nil
}

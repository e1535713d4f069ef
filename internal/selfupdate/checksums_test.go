// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
)

func TestParseChecksums(t *testing.T) {
	t.Parallel()

	linuxSum := strings.Repeat("a", 64)
	darwinSum := strings.Repeat("b", 64)
	input := "# release v1.1.0\n" +
		linuxSum + "  venvoy-linux-amd64.tar.gz\n" +
		"\n" +
		darwinSum + "  *venvoy-darwin-arm64.tar.gz\n"

	sums, err := parseChecksums(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseChecksums: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("entries = %d, want 2", len(sums))
	}
	if got := sums["venvoy-linux-amd64.tar.gz"].Encoded(); got != linuxSum {
		t.Errorf("linux sum = %s", got)
	}
	// The binary-mode asterisk is not part of the name.
	if _, ok := sums["venvoy-darwin-arm64.tar.gz"]; !ok {
		t.Error("asterisk-prefixed entry lost its name")
	}
}

func TestParseChecksums_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "missing file name", input: strings.Repeat("a", 64) + "\n"},
		{name: "bad hex", input: "zz  venvoy-linux-amd64.tar.gz\n"},
		{name: "truncated digest", input: "abcd  venvoy-linux-amd64.tar.gz\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := parseChecksums(strings.NewReader(tt.input)); err == nil {
				t.Error("expected a parse error")
			}
		})
	}
}

func TestVerifyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "asset.tar.gz")
	content := []byte("archive-bytes")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := verifyFile(path, "asset.tar.gz", digest.SHA256.FromBytes(content)); err != nil {
		t.Errorf("matching digest rejected: %v", err)
	}

	err := verifyFile(path, "asset.tar.gz", digest.SHA256.FromBytes([]byte("other")))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("error = %v, want ErrChecksumMismatch", err)
	}
	var mismatch *ChecksumMismatchError
	if !errors.As(err, &mismatch) || mismatch.Asset != "asset.tar.gz" {
		t.Errorf("error should name the asset: %v", err)
	}
}

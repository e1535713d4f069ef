// SPDX-License-Identifier: MPL-2.0

package main

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"

	"github.com/venvoy/venvoy/internal/selfupdate"
	"github.com/venvoy/venvoy/pkg/types"
)

// memorySource serves releases and asset bytes from memory so the command
// can be exercised without GitHub.
type memorySource struct {
	releases map[string]*selfupdate.Release
	files    map[string][]byte
	latest   string
}

func (s *memorySource) Latest(context.Context) (*selfupdate.Release, error) {
	rel, ok := s.releases[s.latest]
	if !ok {
		return nil, &selfupdate.ReleaseNotFoundError{}
	}
	return rel, nil
}

func (s *memorySource) ByTag(_ context.Context, tag string) (*selfupdate.Release, error) {
	rel, ok := s.releases[tag]
	if !ok {
		return nil, &selfupdate.ReleaseNotFoundError{Tag: tag}
	}
	return rel, nil
}

func (s *memorySource) Download(_ context.Context, asset selfupdate.Asset, w io.Writer) error {
	data, ok := s.files[asset.Name]
	if !ok {
		return fmt.Errorf("no such asset %q", asset.Name)
	}
	_, err := w.Write(data)
	return err
}

// upgradeFixture holds a fake installed binary and a source publishing a
// single linux/amd64 release for it.
type upgradeFixture struct {
	exe    string
	source *memorySource
}

func newUpgradeFixture(t *testing.T, tag, newContent string) *upgradeFixture {
	t.Helper()

	exe := filepath.Join(t.TempDir(), "venvoy")
	if err := os.WriteFile(exe, []byte("installed-binary"), 0o755); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(&tar.Header{Name: "venvoy", Mode: 0o755, Size: int64(len(newContent))}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write([]byte(newContent)); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	archive := buf.Bytes()

	archiveName := "venvoy-linux-amd64.tar.gz"
	sums := digest.SHA256.FromBytes(archive).Encoded() + "  " + archiveName + "\n"
	rel := &selfupdate.Release{Tag: tag, Assets: []selfupdate.Asset{
		{Name: archiveName, URL: "https://example.invalid/" + archiveName, Size: int64(len(archive))},
		{Name: "SHA256SUMS", URL: "https://example.invalid/SHA256SUMS", Size: int64(len(sums))},
	}}

	return &upgradeFixture{
		exe: exe,
		source: &memorySource{
			releases: map[string]*selfupdate.Release{tag: rel},
			files: map[string][]byte{
				archiveName:  archive,
				"SHA256SUMS": []byte(sums),
			},
			latest: tag,
		},
	}
}

func (f *upgradeFixture) updater(current string) *selfupdate.Updater {
	return selfupdate.NewUpdater(f.source, current,
		selfupdate.WithPlatform("linux", "amd64"),
		selfupdate.WithExecutablePath(func() (string, error) { return f.exe, nil }),
		selfupdate.WithBuildInfo(func() (*debug.BuildInfo, bool) { return nil, false }),
	)
}

func TestRunUpgrade_CheckMode(t *testing.T) {
	t.Parallel()

	fx := newUpgradeFixture(t, "v1.1.0", "released-binary")
	var out bytes.Buffer
	err := runUpgrade(context.Background(), upgradeParams{
		stdin:   strings.NewReader(""),
		stdout:  &out,
		updater: fx.updater("v1.0.0"),
		check:   true,
	})
	if err != nil {
		t.Fatalf("runUpgrade: %v", err)
	}

	for _, want := range []string{"Current version: v1.0.0", "Target version:  v1.1.0", "Run 'venvoy upgrade' to install."} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	got, _ := os.ReadFile(fx.exe)
	if string(got) != "installed-binary" {
		t.Error("--check must not touch the binary")
	}
}

func TestRunUpgrade_AlreadyUpToDate(t *testing.T) {
	t.Parallel()

	fx := newUpgradeFixture(t, "v1.1.0", "released-binary")
	var out bytes.Buffer
	err := runUpgrade(context.Background(), upgradeParams{
		stdin:   strings.NewReader(""),
		stdout:  &out,
		updater: fx.updater("v1.1.0"),
	})
	if err != nil {
		t.Fatalf("runUpgrade: %v", err)
	}
	if !strings.Contains(out.String(), "already up to date") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunUpgrade_DeclinedPrompt(t *testing.T) {
	t.Parallel()

	fx := newUpgradeFixture(t, "v1.1.0", "released-binary")
	var out bytes.Buffer
	err := runUpgrade(context.Background(), upgradeParams{
		stdin:   strings.NewReader("n\n"),
		stdout:  &out,
		updater: fx.updater("v1.0.0"),
	})
	if err != nil {
		t.Fatalf("runUpgrade: %v", err)
	}

	got, _ := os.ReadFile(fx.exe)
	if string(got) != "installed-binary" {
		t.Error("declined upgrade must leave the binary alone")
	}
}

func TestRunUpgrade_AppliesWithYes(t *testing.T) {
	t.Parallel()

	fx := newUpgradeFixture(t, "v1.1.0", "released-binary")
	var out bytes.Buffer
	err := runUpgrade(context.Background(), upgradeParams{
		stdin:   strings.NewReader(""),
		stdout:  &out,
		updater: fx.updater("v1.0.0"),
		yes:     true,
	})
	if err != nil {
		t.Fatalf("runUpgrade: %v", err)
	}
	if !strings.Contains(out.String(), "upgraded to v1.1.0") {
		t.Errorf("output = %q", out.String())
	}

	got, err := os.ReadFile(fx.exe)
	if err != nil {
		t.Fatalf("read binary: %v", err)
	}
	if string(got) != "released-binary" {
		t.Errorf("binary = %q, want the released bytes", got)
	}
}

func TestRunUpgrade_SpecificVersionNotFound(t *testing.T) {
	t.Parallel()

	fx := newUpgradeFixture(t, "v1.1.0", "released-binary")
	err := runUpgrade(context.Background(), upgradeParams{
		stdin:   strings.NewReader(""),
		stdout:  io.Discard,
		updater: fx.updater("v1.0.0"),
		target:  "v9.9.9",
	})
	if !errors.Is(err, selfupdate.ErrReleaseNotFound) {
		t.Fatalf("error = %v, want ErrReleaseNotFound", err)
	}
	if got := classifyUpgradeExitCode(err); got != types.ExitFailure {
		t.Errorf("exit code = %d, want %d", got, types.ExitFailure)
	}
}

func TestRunUpgrade_ManagedInstallRoutesToPackageManager(t *testing.T) {
	t.Parallel()

	fx := newUpgradeFixture(t, "v1.1.0", "released-binary")
	u := selfupdate.NewUpdater(fx.source, "v1.0.0",
		selfupdate.WithPlatform("linux", "amd64"),
		selfupdate.WithExecutablePath(func() (string, error) { return "/opt/homebrew/bin/venvoy", nil }),
		selfupdate.WithBuildInfo(func() (*debug.BuildInfo, bool) { return nil, false }),
	)

	var out bytes.Buffer
	err := runUpgrade(context.Background(), upgradeParams{
		stdin:   strings.NewReader(""),
		stdout:  &out,
		updater: u,
		yes:     true,
	})
	if err != nil {
		t.Fatalf("runUpgrade: %v", err)
	}
	if !strings.Contains(out.String(), "brew upgrade venvoy") {
		t.Errorf("output = %q, want brew guidance", out.String())
	}
}

func TestClassifyUpgradeExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want types.ExitCode
	}{
		{
			name: "permission denied",
			err:  fmt.Errorf("replace: %w", os.ErrPermission),
			want: types.ExitFailure,
		},
		{
			name: "release not found",
			err:  &selfupdate.ReleaseNotFoundError{Tag: "v9.9.9"},
			want: types.ExitFailure,
		},
		{
			name: "bad version argument",
			err:  fmt.Errorf("check: %w", selfupdate.ErrInvalidVersion),
			want: types.ExitFailure,
		},
		{
			name: "network failure",
			err:  errors.New("connection refused"),
			want: types.ExitCode(2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := classifyUpgradeExitCode(tt.err); got != tt.want {
				t.Errorf("classifyUpgradeExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFormatUpgradeError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "rate limited suggests a token",
			err:  &selfupdate.RateLimitError{ResetAt: time.Unix(1700000000, 0)},
			want: "GITHUB_TOKEN",
		},
		{
			name: "checksum mismatch names the asset",
			err: &selfupdate.ChecksumMismatchError{
				Asset: "venvoy-linux-amd64.tar.gz",
				Want:  digest.SHA256.FromBytes([]byte("good")),
				Got:   digest.SHA256.FromBytes([]byte("bad")),
			},
			want: "venvoy-linux-amd64.tar.gz",
		},
		{
			name: "permission suggests sudo",
			err:  fmt.Errorf("replace: %w", os.ErrPermission),
			want: "sudo venvoy upgrade",
		},
		{
			name: "generic suggests the network",
			err:  errors.New("dial tcp: timeout"),
			want: "network",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := formatUpgradeError(tt.err); !strings.Contains(got, tt.want) {
				t.Errorf("formatUpgradeError() = %q, want it to mention %q", got, tt.want)
			}
		})
	}
}

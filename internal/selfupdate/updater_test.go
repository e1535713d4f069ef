// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
)

// stubSource serves releases and asset bytes from memory.
type stubSource struct {
	latest *Release
	byTag  map[string]*Release
	files  map[string][]byte
	calls  int
}

func (s *stubSource) Latest(context.Context) (*Release, error) {
	s.calls++
	if s.latest == nil {
		return nil, &ReleaseNotFoundError{}
	}
	return s.latest, nil
}

func (s *stubSource) ByTag(_ context.Context, tag string) (*Release, error) {
	s.calls++
	rel, ok := s.byTag[tag]
	if !ok {
		return nil, &ReleaseNotFoundError{Tag: tag}
	}
	return rel, nil
}

func (s *stubSource) Download(_ context.Context, asset Asset, w io.Writer) error {
	data, ok := s.files[asset.Name]
	if !ok {
		return &AssetNotFoundError{Name: asset.Name}
	}
	_, err := w.Write(data)
	return err
}

var _ ReleaseSource = (*stubSource)(nil)

// makeArchive builds a tar.gz holding a venvoy binary with the given bytes.
func makeArchive(t *testing.T, binary []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(&tar.Header{Name: binaryName, Mode: 0o755, Size: int64(len(binary))}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write(binary); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// makeRelease builds a release with one linux/amd64 archive and a matching
// SHA256SUMS asset, serving both through the returned source.
func makeRelease(t *testing.T, tag string, binary []byte) (*Release, *stubSource) {
	t.Helper()

	archive := makeArchive(t, binary)
	archiveName := binaryName + "-linux-amd64.tar.gz"
	sums := digest.SHA256.FromBytes(archive).Encoded() + "  " + archiveName + "\n"

	rel := &Release{Tag: tag, Assets: []Asset{
		{Name: archiveName, URL: "https://example.invalid/" + archiveName, Size: int64(len(archive))},
		{Name: checksumsAssetName, URL: "https://example.invalid/" + checksumsAssetName, Size: int64(len(sums))},
	}}
	src := &stubSource{
		latest: rel,
		byTag:  map[string]*Release{tag: rel},
		files: map[string][]byte{
			archiveName:        archive,
			checksumsAssetName: []byte(sums),
		},
	}
	return rel, src
}

// fakeBinary drops an executable file to stand in for the running venvoy.
func fakeBinary(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), binaryName)
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	return path
}

func staticExecutable(path string) func() (string, error) {
	return func() (string, error) { return path, nil }
}

func noBuildInfo() (*debug.BuildInfo, bool) { return nil, false }

func TestUpdater_Check_Verdicts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		current     string
		tag         string
		wantReady   bool
		wantMessage string
	}{
		{
			name:        "upgrade available",
			current:     "v1.0.0",
			tag:         "v1.1.0",
			wantReady:   true,
			wantMessage: "upgrade available",
		},
		{
			name:        "already current",
			current:     "v1.1.0",
			tag:         "v1.1.0",
			wantMessage: "already up to date",
		},
		{
			name:        "pre-release ahead of stable",
			current:     "v1.2.0-rc.1",
			tag:         "v1.1.0",
			wantMessage: "pre-release",
		},
		{
			name:        "development build",
			current:     "dev",
			tag:         "v1.1.0",
			wantReady:   true,
			wantMessage: "development build",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, src := makeRelease(t, tt.tag, []byte("new"))
			u := NewUpdater(src, tt.current,
				WithPlatform("linux", "amd64"),
				WithExecutablePath(staticExecutable(fakeBinary(t, "old"))),
				WithBuildInfo(noBuildInfo),
			)

			plan, err := u.Check(context.Background(), "")
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if plan.Ready != tt.wantReady {
				t.Errorf("Ready = %v, want %v", plan.Ready, tt.wantReady)
			}
			if !strings.Contains(plan.Message, tt.wantMessage) {
				t.Errorf("Message = %q, want it to mention %q", plan.Message, tt.wantMessage)
			}
			if plan.Target == nil || plan.Target.Tag != tt.tag {
				t.Errorf("Target = %+v, want tag %s", plan.Target, tt.tag)
			}
		})
	}
}

func TestUpdater_Check_SpecificVersion(t *testing.T) {
	t.Parallel()

	_, src := makeRelease(t, "v1.0.5", []byte("new"))
	u := NewUpdater(src, "v1.0.0",
		WithPlatform("linux", "amd64"),
		WithExecutablePath(staticExecutable(fakeBinary(t, "old"))),
		WithBuildInfo(noBuildInfo),
	)

	// The leading v is optional on the command line.
	plan, err := u.Check(context.Background(), "1.0.5")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !plan.Ready || plan.Target.Tag != "v1.0.5" {
		t.Errorf("plan = %+v, want ready upgrade to v1.0.5", plan)
	}

	if _, err := u.Check(context.Background(), "not-a-version"); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("error = %v, want ErrInvalidVersion", err)
	}
	if _, err := u.Check(context.Background(), "v9.9.9"); !errors.Is(err, ErrReleaseNotFound) {
		t.Errorf("error = %v, want ErrReleaseNotFound", err)
	}
}

func TestUpdater_Check_ManagedInstallSkipsNetwork(t *testing.T) {
	t.Parallel()

	src := &stubSource{} // any release lookup would fail
	u := NewUpdater(src, "v1.0.0",
		WithExecutablePath(staticExecutable("/opt/homebrew/bin/venvoy")),
		WithBuildInfo(noBuildInfo),
	)

	plan, err := u.Check(context.Background(), "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if plan.Method != InstallMethodHomebrew {
		t.Errorf("Method = %q, want homebrew", plan.Method)
	}
	if plan.Ready {
		t.Error("managed install must not be ready for in-place upgrade")
	}
	if !strings.Contains(plan.Message, "brew upgrade") {
		t.Errorf("Message = %q, want brew guidance", plan.Message)
	}
	if src.calls != 0 {
		t.Errorf("release lookups = %d, want none for a managed install", src.calls)
	}
}

func TestUpdater_Apply_ReplacesBinary(t *testing.T) {
	t.Parallel()

	exe := fakeBinary(t, "old-binary")
	rel, src := makeRelease(t, "v1.1.0", []byte("new-binary"))
	u := NewUpdater(src, "v1.0.0",
		WithPlatform("linux", "amd64"),
		WithExecutablePath(staticExecutable(exe)),
		WithBuildInfo(noBuildInfo),
	)

	if err := u.Apply(context.Background(), rel); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := os.ReadFile(exe)
	if err != nil {
		t.Fatalf("read replaced binary: %v", err)
	}
	if string(got) != "new-binary" {
		t.Errorf("binary content = %q, want the released bytes", got)
	}
	info, err := os.Stat(exe)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755 preserved", info.Mode().Perm())
	}
}

func TestUpdater_Apply_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	exe := fakeBinary(t, "old-binary")
	rel, src := makeRelease(t, "v1.1.0", []byte("new-binary"))
	// The published archive was swapped after SHA256SUMS was written.
	src.files[binaryName+"-linux-amd64.tar.gz"] = makeArchive(t, []byte("evil-binary"))

	u := NewUpdater(src, "v1.0.0",
		WithPlatform("linux", "amd64"),
		WithExecutablePath(staticExecutable(exe)),
		WithBuildInfo(noBuildInfo),
	)

	err := u.Apply(context.Background(), rel)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("error = %v, want ErrChecksumMismatch", err)
	}

	got, _ := os.ReadFile(exe)
	if string(got) != "old-binary" {
		t.Errorf("binary was replaced despite the mismatch: %q", got)
	}
}

func TestUpdater_Apply_MissingPlatformAsset(t *testing.T) {
	t.Parallel()

	exe := fakeBinary(t, "old-binary")
	rel, src := makeRelease(t, "v1.1.0", []byte("new-binary"))
	u := NewUpdater(src, "v1.0.0",
		WithPlatform("plan9", "mips"),
		WithExecutablePath(staticExecutable(exe)),
		WithBuildInfo(noBuildInfo),
	)

	if err := u.Apply(context.Background(), rel); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("error = %v, want ErrAssetNotFound", err)
	}
}

func TestExtractBinary_NoBinaryInArchive(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(&tar.Header{Name: "README.md", Mode: 0o644, Size: 2}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	tw.Write([]byte("hi"))
	tw.Close()
	gw.Close()

	path := filepath.Join(t.TempDir(), "empty.tar.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	if _, err := extractBinary(path, t.TempDir(), 0o755); err == nil {
		t.Fatal("expected an error for an archive without the binary")
	}
}

// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/klauspost/compress/gzip"
)

const (
	// binaryName is the executable inside every release archive.
	binaryName = "venvoy"

	// maxBinarySize bounds extraction so a malformed archive cannot fill
	// the disk.
	maxBinarySize = 500 << 20
)

// ErrInvalidVersion is returned when a version or release tag does not parse.
var ErrInvalidVersion = errors.New("invalid version")

type (
	// Updater checks for and applies venvoy upgrades.
	Updater struct {
		source  ReleaseSource
		current string
		goos    string
		goarch  string

		executable func() (string, error)
		buildInfo  func() (*debug.BuildInfo, bool)
	}

	// UpdaterOption configures an Updater.
	UpdaterOption func(*Updater)

	// Plan is the verdict of an upgrade check. Ready means venvoy can apply
	// the upgrade itself; a managed install or an up-to-date binary leaves
	// Ready false with Message explaining why.
	Plan struct {
		Current string
		Target  *Release
		Method  InstallMethod
		Message string
		Ready   bool
	}
)

// WithPlatform overrides the platform the updater downloads for, for tests.
func WithPlatform(goos, goarch string) UpdaterOption {
	return func(u *Updater) {
		u.goos = goos
		u.goarch = goarch
	}
}

// WithExecutablePath overrides how the running binary is located, for tests.
func WithExecutablePath(fn func() (string, error)) UpdaterOption {
	return func(u *Updater) { u.executable = fn }
}

// WithBuildInfo overrides the build info reader, for tests.
func WithBuildInfo(fn func() (*debug.BuildInfo, bool)) UpdaterOption {
	return func(u *Updater) { u.buildInfo = fn }
}

// NewUpdater creates an Updater for the running binary at the given version.
func NewUpdater(source ReleaseSource, current string, opts ...UpdaterOption) *Updater {
	u := &Updater{
		source:     source,
		current:    current,
		goos:       runtime.GOOS,
		goarch:     runtime.GOARCH,
		executable: locateExecutable,
		buildInfo:  debug.ReadBuildInfo,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// locateExecutable resolves the running binary through symlinks, so the
// replacement lands on the real file rather than a link to it.
func locateExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

// Check resolves the target release and decides whether an upgrade applies.
// An empty target means the latest stable release. Managed installs short
// out before any network call.
func (u *Updater) Check(ctx context.Context, target string) (*Plan, error) {
	plan := &Plan{Current: u.current}

	exe, err := u.executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate the running binary: %w", err)
	}
	plan.Method = detectInstallMethod(exe, u.buildInfo)
	if plan.Method.Managed() {
		plan.Message = plan.Method.Guidance()
		return plan, nil
	}

	var rel *Release
	if target == "" {
		rel, err = u.source.Latest(ctx)
	} else {
		var tag string
		tag, err = normalizeTag(target)
		if err != nil {
			return nil, err
		}
		rel, err = u.source.ByTag(ctx, tag)
	}
	if err != nil {
		return nil, err
	}
	plan.Target = rel

	tgt, err := semver.NewVersion(rel.Tag)
	if err != nil {
		return nil, fmt.Errorf("%w: release tag %q", ErrInvalidVersion, rel.Tag)
	}
	cur, err := semver.NewVersion(u.current)
	if err != nil {
		// Development builds carry no comparable version; any published
		// release replaces them.
		plan.Ready = true
		plan.Message = fmt.Sprintf("replacing development build with %s", rel.Tag)
		return plan, nil
	}

	switch {
	case tgt.GreaterThan(cur):
		plan.Ready = true
		plan.Message = fmt.Sprintf("upgrade available: %s -> %s", u.current, rel.Tag)
	case cur.GreaterThan(tgt) && cur.Prerelease() != "":
		plan.Message = fmt.Sprintf("running pre-release %s, ahead of latest stable %s", u.current, rel.Tag)
	case cur.GreaterThan(tgt):
		plan.Message = fmt.Sprintf("installed version %s is newer than %s", u.current, rel.Tag)
	default:
		plan.Message = "already up to date"
	}
	return plan, nil
}

// Apply downloads the release's platform archive, verifies it against the
// release's SHA256SUMS, and atomically replaces the running binary.
func (u *Updater) Apply(ctx context.Context, rel *Release) error {
	exe, err := u.executable()
	if err != nil {
		return fmt.Errorf("failed to locate the running binary: %w", err)
	}

	archiveName := fmt.Sprintf("%s-%s-%s.tar.gz", binaryName, u.goos, u.goarch)
	archive, ok := findAsset(rel, archiveName)
	if !ok {
		return &AssetNotFoundError{Name: archiveName}
	}
	sumsAsset, ok := findAsset(rel, checksumsAssetName)
	if !ok {
		return &AssetNotFoundError{Name: checksumsAssetName}
	}

	var sumsBuf bytes.Buffer
	if err := u.source.Download(ctx, sumsAsset, &sumsBuf); err != nil {
		return err
	}
	sums, err := parseChecksums(&sumsBuf)
	if err != nil {
		return err
	}
	want, ok := sums[archive.Name]
	if !ok {
		return fmt.Errorf("%w: %s has no entry for %s", ErrChecksumMismatch, checksumsAssetName, archive.Name)
	}

	tmp, err := os.CreateTemp("", "venvoy-upgrade-*.tar.gz")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := u.source.Download(ctx, archive, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to finish download: %w", err)
	}
	if err := verifyFile(tmp.Name(), archive.Name, want); err != nil {
		return err
	}

	// Keep the mode of the binary being replaced.
	mode := os.FileMode(0o755)
	if info, err := os.Stat(exe); err == nil {
		mode = info.Mode().Perm()
	}

	// Extract into the executable's directory so the final rename stays on
	// one filesystem and is atomic.
	newBin, err := extractBinary(tmp.Name(), filepath.Dir(exe), mode)
	if err != nil {
		return err
	}
	if err := os.Rename(newBin, exe); err != nil {
		os.Remove(newBin)
		return fmt.Errorf("failed to replace %s: %w", exe, err)
	}
	return nil
}

// normalizeTag validates a requested version and returns its release tag
// form with the leading v.
func normalizeTag(target string) (string, error) {
	if _, err := semver.NewVersion(target); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, target)
	}
	if strings.HasPrefix(target, "v") {
		return target, nil
	}
	return "v" + target, nil
}

// findAsset looks an asset up by exact name.
func findAsset(rel *Release, name string) (Asset, bool) {
	for _, a := range rel.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// extractBinary pulls the venvoy binary out of a tar.gz archive into a temp
// file under destDir and returns its path.
func extractBinary(archivePath, destDir string, mode os.FileMode) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("archive is not a gzip stream: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("archive has no %s binary", binaryName)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != binaryName {
			continue
		}

		out, err := os.CreateTemp(destDir, "."+binaryName+"-*")
		if err != nil {
			return "", fmt.Errorf("failed to create temp binary: %w", err)
		}
		n, err := io.Copy(out, io.LimitReader(tr, maxBinarySize+1))
		if err == nil && n > maxBinarySize {
			err = fmt.Errorf("binary exceeds %d bytes", int64(maxBinarySize))
		}
		if err == nil {
			err = out.Chmod(mode)
		}
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out.Name())
			return "", fmt.Errorf("failed to extract %s: %w", binaryName, err)
		}
		return out.Name(), nil
	}
}

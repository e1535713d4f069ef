// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

// sifEngine carries the image-store verbs shared by apptainer and
// singularity. SIF runtimes keep images as files under imageDir instead of
// in a daemon store, so listing, removal, save and load are filesystem
// operations. Both CLIs are argument-compatible; only the binary differs.
type sifEngine struct {
	*BaseCLIEngine
	imageDir string
}

func newSIFEngine(kind Kind, imageDir string, opts ...BaseCLIEngineOption) *sifEngine {
	return &sifEngine{
		BaseCLIEngine: newBaseCLIEngine(kind, sifDialect, opts...),
		imageDir:      imageDir,
	}
}

// sanitizeRef maps an OCI reference to a filesystem-safe name. The mapping
// is lossy ("/" and ":" both become "_"), so listings report file stems
// rather than reconstructed references.
func sanitizeRef(ref string) string {
	r := strings.NewReplacer("/", "_", ":", "_")
	return r.Replace(ref)
}

// ImagePath returns the SIF file path for an image reference. References
// that already point at an existing file pass through unchanged.
func (e *sifEngine) ImagePath(ref string) string {
	if strings.HasSuffix(ref, ".sif") {
		return ref
	}
	if _, err := os.Stat(ref); err == nil {
		return ref
	}
	return filepath.Join(e.imageDir, sanitizeRef(ref)+".sif")
}

// BuildArgs constructs arguments for a definition-file build.
//
// Generated command: <binary> build [--disable-cache] --force <image.sif> <recipe.def>
func (e *sifEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}
	if opts.NoCache {
		args = append(args, "--disable-cache")
	}
	args = append(args, "--force", e.ImagePath(opts.Tag), resolveRecipePath(opts.ContextDir, opts.Recipe))
	return args
}

// Pull fetches a remote OCI image and converts it to a SIF file under
// imageDir. The platform option is not supported by the SIF CLIs; the host
// architecture is always used.
func (e *sifEngine) Pull(ctx context.Context, ref string, opts PullOptions) error {
	if err := os.MkdirAll(e.imageDir, 0o755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}
	args := e.PullArgs(ref, e.ImagePath(ref), opts)
	return e.RunCommandStreaming(ctx, opts.Stdout, opts.Stderr, args...)
}

// Build builds a SIF image from a definition file.
func (e *sifEngine) Build(ctx context.Context, opts BuildOptions) error {
	if err := os.MkdirAll(e.imageDir, 0o755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}
	args := e.BuildArgs(opts)
	return e.RunCommandStreaming(ctx, opts.Stdout, opts.Stderr, args...)
}

// Run resolves the image reference to its SIF file before delegating to the
// shared run path.
func (e *sifEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	opts.Image = e.ImagePath(opts.Image)
	return e.BaseCLIEngine.Run(ctx, opts)
}

// BuildRunArgs resolves the image reference like Run does.
func (e *sifEngine) BuildRunArgs(opts RunOptions) []string {
	opts.Image = e.ImagePath(opts.Image)
	return e.BaseCLIEngine.BuildRunArgs(opts)
}

// ListImages lists SIF file stems under imageDir with the given prefix.
// The prefix is compared in sanitized form so callers can pass references.
func (e *sifEngine) ListImages(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(e.imageDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read image directory: %w", err)
	}
	sanitized := sanitizeRef(prefix)
	var refs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sif") {
			continue
		}
		stem := strings.TrimSuffix(name, ".sif")
		if sanitized == "" || strings.HasPrefix(stem, sanitized) {
			refs = append(refs, stem)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// RemoveImage removes the SIF file for an image reference.
func (e *sifEngine) RemoveImage(_ context.Context, ref string, force bool) error {
	err := os.Remove(e.ImagePath(ref))
	if err != nil && force && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove image %s: %w", ref, err)
	}
	return nil
}

// InspectImage stats the SIF file and returns its content digest as the
// image identity, mirroring the daemon runtimes' image ID.
func (e *sifEngine) InspectImage(_ context.Context, ref string) (*ImageInfo, error) {
	path := e.ImagePath(ref)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", ref, ErrImageNotFound)
		}
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	dgst, err := digest.FromReader(f)
	if err != nil {
		return nil, fmt.Errorf("digest image %s: %w", path, err)
	}
	return &ImageInfo{Ref: ref, ID: dgst.String()}, nil
}

// SaveImage copies the SIF file to destPath. SIF images are already
// portable single files, so export is a copy.
func (e *sifEngine) SaveImage(_ context.Context, ref, destPath string) error {
	return copyFile(e.ImagePath(ref), destPath)
}

// LoadImage copies a SIF file from srcPath into imageDir under ref's name.
func (e *sifEngine) LoadImage(_ context.Context, srcPath, ref string) error {
	if err := os.MkdirAll(e.imageDir, 0o755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}
	return copyFile(srcPath, e.ImagePath(ref))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/venvoy/venvoy/internal/container"
	"github.com/venvoy/venvoy/internal/platform"
	"github.com/venvoy/venvoy/internal/store"
	"github.com/venvoy/venvoy/pkg/types"
)

const (
	recipeEntryName  = "Dockerfile"
	freezeEntryName  = "manifest.txt"
	imageEntryName   = "image.tar"
	restoreEntryName = "restore.sh"
	wheelhousePrefix = "wheelhouse"
	wheelhouseEnvDir = "wheelhouse"
)

// restoreScript ships inside image bundles so a host without venvoy can
// still load the image.
const restoreScript = `#!/bin/sh
# Load the bundled container image with whatever runtime is present.
set -e
for rt in docker podman; do
    if command -v "$rt" >/dev/null 2>&1; then
        exec "$rt" load -i image.tar
    fi
done
echo "no container runtime found (need docker or podman)" >&2
exit 1
`

// defaultWheelArches are the architectures a wheelhouse bundle serves when
// the caller does not narrow them.
var defaultWheelArches = []string{"amd64", "arm64"}

// pipPlatformTags maps OCI architecture names to pip --platform tags.
var pipPlatformTags = map[string]string{
	"amd64": "manylinux2014_x86_64",
	"arm64": "manylinux2014_aarch64",
}

type (
	// EngineResolver yields the container engine to use for image payloads
	// and wheel downloads. Resolution happens per operation, not at codec
	// construction, because runtime availability changes between calls.
	EngineResolver func(ctx context.Context) (container.Engine, error)

	// Codec exports environments to portable bundles and imports them back.
	Codec struct {
		store    *store.Store
		resolve  EngineResolver
		hostArch string
		now      func() time.Time
	}

	// CodecOption configures a Codec.
	CodecOption func(*Codec)
)

// WithHostArch overrides the detected host architecture, for tests.
func WithHostArch(arch string) CodecOption {
	return func(c *Codec) { c.hostArch = arch }
}

// WithCodecClock injects a time source for tests.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a Codec over the given store and engine resolver.
func NewCodec(st *store.Store, resolve EngineResolver, opts ...CodecOption) *Codec {
	c := &Codec{
		store:    st,
		resolve:  resolve,
		hostArch: platform.Arch(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Export writes a bundle of the named environment and returns the bundle
// path. outPath may be empty (current directory, default name), a directory
// (default name inside it), or a full file path.
func (c *Codec) Export(ctx context.Context, name types.EnvironmentName, format Format, outPath string) (string, error) {
	if err := format.Validate(); err != nil {
		return "", err
	}
	env, err := c.store.Get(name)
	if err != nil {
		return "", err
	}

	manifest := &Manifest{
		FormatVersion: CurrentFormatVersion,
		Format:        format,
		Name:          env.Name,
		Track:         env.Track,
		TrackVersion:  env.TrackVersion,
		BaseImage:     env.BaseImage,
		CreatedAt:     c.now().UTC(),
	}
	switch format {
	case FormatImage:
		manifest.Architectures = []string{env.Architecture}
	case FormatWheelhouse:
		if env.Track != types.TrackPython {
			return "", fmt.Errorf("wheelhouse bundles support the python track only, environment %q is %s", name, env.Track)
		}
		manifest.Architectures = defaultWheelArches
	}
	if err := manifest.Validate(); err != nil {
		return "", err
	}

	dest, err := resolveExportPath(outPath, name, format)
	if err != nil {
		return "", err
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	if err := c.writeBundle(ctx, out, env, manifest); err != nil {
		out.Close()
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// writeBundle stages the payload on disk first so its digest can be sealed
// into the manifest, which still goes into the archive as the first entry.
func (c *Codec) writeBundle(ctx context.Context, out io.Writer, env *store.Environment, manifest *Manifest) error {
	stage, err := os.MkdirTemp("", "venvoy-export-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(stage)

	switch manifest.Format {
	case FormatRecipe:
		err = c.stageRecipePayload(stage, env)
	case FormatImage:
		err = c.stageImagePayload(ctx, stage, env)
	case FormatWheelhouse:
		err = c.stageWheelhousePayload(ctx, stage, env, manifest)
	}
	if err != nil {
		return err
	}

	dig, err := digestTree(stage)
	if err != nil {
		return err
	}
	manifest.PayloadDigest = dig

	manifestData, err := manifest.encode()
	if err != nil {
		return err
	}

	bw, err := newBundleWriter(out, manifest.Format)
	if err != nil {
		return err
	}
	// The manifest goes first so import can validate before extraction.
	if err := bw.WriteBytes(manifestEntryName, manifestData, manifest.CreatedAt); err != nil {
		return err
	}

	names, err := payloadFileNames(stage)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := bw.WriteFile(name, filepath.Join(stage, filepath.FromSlash(name)), manifest.CreatedAt); err != nil {
			return err
		}
	}
	return bw.Close()
}

func (c *Codec) stageRecipePayload(dir string, env *store.Environment) error {
	recipe, err := c.store.ReadRecipe(env.Name)
	if err != nil {
		return err
	}
	freeze, err := c.store.ReadManifest(env.Name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, recipeEntryName), []byte(recipe), 0o644); err != nil {
		return fmt.Errorf("failed to stage %s: %w", recipeEntryName, err)
	}
	if err := os.WriteFile(filepath.Join(dir, freezeEntryName), []byte(freeze), 0o644); err != nil {
		return fmt.Errorf("failed to stage %s: %w", freezeEntryName, err)
	}
	return nil
}

func (c *Codec) stageImagePayload(ctx context.Context, dir string, env *store.Environment) error {
	engine, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	if err := engine.SaveImage(ctx, env.ImageRef, filepath.Join(dir, imageEntryName)); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, restoreEntryName), []byte(restoreScript), 0o755); err != nil {
		return fmt.Errorf("failed to stage %s: %w", restoreEntryName, err)
	}
	// The recipe rides along so the image can be rebuilt elsewhere.
	return c.stageRecipePayload(dir, env)
}

// stageWheelhousePayload downloads the declared packages for every bundle
// architecture by running pip download inside the environment image.
func (c *Codec) stageWheelhousePayload(ctx context.Context, dir string, env *store.Environment, manifest *Manifest) error {
	engine, err := c.resolve(ctx)
	if err != nil {
		return err
	}

	for _, arch := range manifest.Architectures {
		tag, ok := pipPlatformTags[arch]
		if !ok {
			return fmt.Errorf("no pip platform tag for architecture %q", arch)
		}
		archDir := filepath.Join(dir, wheelhousePrefix, arch)
		if err := os.MkdirAll(archDir, 0o755); err != nil {
			return fmt.Errorf("failed to create wheel directory: %w", err)
		}

		script := fmt.Sprintf(
			"pip download -r /tmp/manifest.txt --platform %s --only-binary=:all: --dest /export", tag)
		res, err := engine.Run(ctx, container.RunOptions{
			Image:   env.ImageRef,
			Command: []string{"sh", "-c", script},
			Mounts:  []container.VolumeMount{{HostPath: archDir, ContainerPath: "/export"}},
			Name:    "venvoy-" + string(env.Name) + "-wheels-" + arch,
			Remove:  true,
			Stdout:  io.Discard,
			Stderr:  io.Discard,
		})
		if err != nil {
			return err
		}
		if res.Error != nil {
			return res.Error
		}
		if !res.ExitCode.IsSuccess() {
			return fmt.Errorf("wheel download for %s exited with code %s", arch, res.ExitCode)
		}
	}
	return c.stageRecipePayload(dir, env)
}

// payloadFileNames lists the regular files under dir as sorted slash paths.
// The order fixes both the digest input and the archive entry order.
func payloadFileNames(dir string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk payload tree: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// digestTree hashes every payload file under dir, entry names included, so a
// renamed, tampered, or missing entry changes the digest.
func digestTree(dir string) (digest.Digest, error) {
	names, err := payloadFileNames(dir)
	if err != nil {
		return "", err
	}

	digester := digest.SHA256.Digester()
	h := digester.Hash()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			return "", fmt.Errorf("failed to open payload file %s: %w", name, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to hash payload file %s: %w", name, err)
		}
		h.Write([]byte{0})
	}
	return digester.Digest(), nil
}

// Import restores an environment from a bundle. The manifest is read and
// validated before any extraction or store write; image bundles built for a
// foreign architecture are rejected outright.
func (c *Codec) Import(ctx context.Context, path string, force bool) (*store.Environment, error) {
	br, err := openBundle(path)
	if err != nil {
		return nil, err
	}
	defer br.Close()

	hdr, err := br.Next()
	if err != nil {
		return nil, &InvalidArchiveError{Path: path, Reason: "empty archive"}
	}
	if hdr.Name != manifestEntryName {
		return nil, &InvalidArchiveError{Path: path, Reason: manifestEntryName + " must be the first entry"}
	}
	manifestData, err := br.ReadEntry(maxManifestSize)
	if err != nil {
		return nil, err
	}
	manifest, err := decodeManifest(manifestData)
	if err != nil {
		return nil, err
	}

	if manifest.Format == FormatImage && manifest.Architectures[0] != c.hostArch {
		return nil, &ArchitectureMismatchError{Archive: manifest.Architectures[0], Host: c.hostArch}
	}
	if c.store.Exists(manifest.Name) {
		if !force {
			return nil, &store.EnvironmentExistsError{Name: manifest.Name}
		}
		// A forced import replaces the environment; hold its lock so a
		// concurrent session or freeze cannot race the removal.
		lock, err := c.store.Lock(manifest.Name)
		if err != nil {
			return nil, err
		}
		defer lock.Release()
	}

	// Everything validated; extract the payload to a temp dir first so a
	// truncated archive cannot leave a half-written environment.
	tmp, err := os.MkdirTemp("", "venvoy-import-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	for {
		hdr, err := br.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &InvalidArchiveError{Path: path, Reason: err.Error()}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := br.ExtractTo(tmp, hdr); err != nil {
			return nil, err
		}
	}

	if manifest.PayloadDigest != "" {
		dig, err := digestTree(tmp)
		if err != nil {
			return nil, err
		}
		if dig != manifest.PayloadDigest {
			return nil, &InvalidArchiveError{Path: path, Reason: "payload does not match its manifest digest"}
		}
	}

	return c.materialize(ctx, tmp, manifest, force)
}

// materialize turns an extracted payload into a store environment.
func (c *Codec) materialize(ctx context.Context, tmp string, manifest *Manifest, force bool) (*store.Environment, error) {
	recipe, err := os.ReadFile(filepath.Join(tmp, recipeEntryName))
	if err != nil {
		return nil, &InvalidArchiveError{Path: tmp, Reason: "bundle has no " + recipeEntryName}
	}
	freeze, err := os.ReadFile(filepath.Join(tmp, freezeEntryName))
	if err != nil {
		freeze = nil // declared manifest is optional
	}

	if force && c.store.Exists(manifest.Name) {
		if err := c.store.Remove(manifest.Name); err != nil {
			return nil, err
		}
	}

	arch := c.hostArch
	if manifest.Format == FormatImage {
		arch = manifest.Architectures[0]
	}
	env := &store.Environment{
		Name:         manifest.Name,
		Track:        manifest.Track,
		TrackVersion: manifest.TrackVersion,
		Architecture: arch,
		BaseImage:    manifest.BaseImage,
		ImageRef:     "venvoy/" + string(manifest.Name) + ":latest",
	}
	if err := c.store.Create(env); err != nil {
		return nil, err
	}
	if err := c.store.WriteRecipe(env.Name, string(recipe)); err != nil {
		return nil, err
	}
	if err := c.store.WriteManifest(env.Name, string(freeze)); err != nil {
		return nil, err
	}

	switch manifest.Format {
	case FormatImage:
		engine, err := c.resolve(ctx)
		if err != nil {
			return nil, err
		}
		if err := engine.LoadImage(ctx, filepath.Join(tmp, imageEntryName), env.ImageRef); err != nil {
			return nil, err
		}
		// The loaded image is exactly what the manifest declares.
		dig, err := c.store.ManifestDigest(env.Name)
		if err != nil {
			return nil, err
		}
		env.BuiltManifestDigest = dig
		if err := c.store.Save(env); err != nil {
			return nil, err
		}
	case FormatWheelhouse:
		src := filepath.Join(tmp, wheelhousePrefix)
		if _, err := os.Stat(src); err == nil {
			if err := copyTree(src, filepath.Join(c.store.EnvDir(env.Name), wheelhouseEnvDir)); err != nil {
				return nil, err
			}
		}
	}
	return env, nil
}

// resolveExportPath computes the final bundle path from the caller's choice.
func resolveExportPath(outPath string, name types.EnvironmentName, format Format) (string, error) {
	defaultName := fmt.Sprintf("%s-%s%s", name, format, format.extension())
	switch {
	case outPath == "":
		return defaultName, nil
	default:
		info, err := os.Stat(outPath)
		if err == nil && info.IsDir() {
			return filepath.Join(outPath, defaultName), nil
		}
		return outPath, nil
	}
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

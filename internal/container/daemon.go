// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"strings"
)

// daemonEngine carries the image-store verbs shared by docker and podman.
// Both manage images in a daemon-side store and accept the same build, pull,
// save and load syntax, so the embedding engines contribute only health and
// version queries.
type daemonEngine struct {
	*BaseCLIEngine
}

func newDaemonEngine(kind Kind, opts ...BaseCLIEngineOption) *daemonEngine {
	return &daemonEngine{
		BaseCLIEngine: newBaseCLIEngine(kind, daemonDialect, opts...),
	}
}

// BuildArgs constructs arguments for an image build.
//
// Generated command: <binary> build [-f recipe] [-t tag] [--no-cache]
// [--build-arg k=v]... <context>
func (e *daemonEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Recipe != "" {
		args = append(args, "-f", resolveRecipePath(opts.ContextDir, opts.Recipe))
	}
	if opts.Tag != "" {
		args = append(args, "-t", opts.Tag)
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	for _, k := range sortedKeys(opts.BuildArgs) {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, opts.BuildArgs[k]))
	}

	args = append(args, opts.ContextDir)
	return args
}

// Pull fetches an image into the daemon's store.
func (e *daemonEngine) Pull(ctx context.Context, ref string, opts PullOptions) error {
	args := e.PullArgs(ref, "", opts)
	return e.RunCommandStreaming(ctx, opts.Stdout, opts.Stderr, args...)
}

// Build builds an image from a Dockerfile.
func (e *daemonEngine) Build(ctx context.Context, opts BuildOptions) error {
	args := e.BuildArgs(opts)
	return e.RunCommandStreaming(ctx, opts.Stdout, opts.Stderr, args...)
}

// ListImages lists local image references with the given prefix.
// Dangling images are excluded.
func (e *daemonEngine) ListImages(ctx context.Context, prefix string) ([]string, error) {
	out, err := e.RunCommand(ctx, "images", "--format", "{{.Repository}}:{{.Tag}}")
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "<none>") {
			continue
		}
		if prefix == "" || strings.HasPrefix(line, prefix) {
			refs = append(refs, line)
		}
	}
	return refs, nil
}

// RemoveImage removes a local image.
func (e *daemonEngine) RemoveImage(ctx context.Context, ref string, force bool) error {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, ref)
	return e.RunCommandStatus(ctx, args...)
}

// InspectImage returns the local image's identity, or ErrImageNotFound.
func (e *daemonEngine) InspectImage(ctx context.Context, ref string) (*ImageInfo, error) {
	out, err := e.RunCommand(ctx, "image", "inspect", "--format", "{{.Id}}", ref)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, ErrImageNotFound)
	}
	return &ImageInfo{Ref: ref, ID: strings.TrimSpace(string(out))}, nil
}

// SaveImage exports a local image to a tar file.
func (e *daemonEngine) SaveImage(ctx context.Context, ref, destPath string) error {
	return e.RunCommandStatus(ctx, "save", "-o", destPath, ref)
}

// LoadImage imports an image from a tar file. The archive carries its own
// tags; ref is used only to verify the expected image arrived.
func (e *daemonEngine) LoadImage(ctx context.Context, srcPath, ref string) error {
	if err := e.RunCommandStatus(ctx, "load", "-i", srcPath); err != nil {
		return err
	}
	if ref != "" {
		if _, err := e.InspectImage(ctx, ref); err != nil {
			return fmt.Errorf("loaded archive does not contain %s: %w", ref, err)
		}
	}
	return nil
}

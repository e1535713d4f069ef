// SPDX-License-Identifier: MPL-2.0

// Package container provides an abstraction layer over the supported
// container runtimes (Docker, Podman, Apptainer, Singularity). Each runtime
// is driven through its CLI; the package translates a small set of abstract
// verbs into the concrete argument syntax of each runtime and knows nothing
// about environments or package state.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/venvoy/venvoy/pkg/types"
)

const (
	// KindDocker is the Docker daemon-based runtime.
	KindDocker Kind = "docker"
	// KindPodman is the rootless daemon-compatible runtime.
	KindPodman Kind = "podman"
	// KindApptainer is the HPC-oriented SIF-image runtime.
	KindApptainer Kind = "apptainer"
	// KindSingularity is the legacy name of the Apptainer lineage.
	KindSingularity Kind = "singularity"
)

var (
	// ErrNoRuntimeAvailable is the sentinel error wrapped by NoRuntimeAvailableError.
	ErrNoRuntimeAvailable = errors.New("no container runtime available")

	// ErrRuntimeExecution is the sentinel error wrapped by RuntimeExecutionError.
	ErrRuntimeExecution = errors.New("runtime execution failed")

	// ErrImageNotFound is returned by InspectImage when the image does not
	// exist locally.
	ErrImageNotFound = errors.New("image not found")

	// ErrInvalidKind is the sentinel error wrapped by InvalidKindError.
	ErrInvalidKind = errors.New("invalid runtime kind")
)

type (
	// Kind identifies a container runtime. The set is closed at compile time.
	Kind string

	// InvalidKindError is returned when a Kind is not a recognized runtime.
	InvalidKindError struct {
		Value Kind
	}

	// RuntimeInfo is the result of probing one runtime. It is produced fresh
	// on each detection pass and never persisted: runtime availability can
	// change between invocations, so a cached verdict would go stale.
	RuntimeInfo struct {
		Kind    Kind
		Version string
		Healthy bool
		// Detail explains an unhealthy probe: executable missing from PATH
		// versus found but failing its health command.
		Detail string
	}

	// ImageInfo describes a locally present image.
	ImageInfo struct {
		Ref string
		ID  string
	}

	// PullOptions contains options for pulling an image.
	PullOptions struct {
		// Platform requests a specific os/arch variant where the runtime
		// supports it (daemon runtimes only; SIF runtimes ignore it).
		Platform string
		// Stdout/Stderr receive the runtime's progress output.
		Stdout io.Writer
		Stderr io.Writer
	}

	// BuildOptions contains options for building an image from a recipe.
	BuildOptions struct {
		// ContextDir is the build context directory (daemon runtimes).
		ContextDir string
		// Recipe is the path to the build recipe: a Dockerfile for daemon
		// runtimes, a definition file for SIF runtimes.
		Recipe string
		// Tag is the image tag to produce.
		Tag string
		// BuildArgs are build-time variables (daemon runtimes).
		BuildArgs map[string]string
		// NoCache disables the build cache.
		NoCache bool
		// Stdout/Stderr receive the runtime's build output.
		Stdout io.Writer
		Stderr io.Writer
	}

	// RunOptions contains options for running a command in a container.
	RunOptions struct {
		// Image is the image reference to run.
		Image string
		// Command is the command and its arguments; empty means the image default.
		Command []string
		// WorkDir is the working directory inside the container.
		WorkDir string
		// Env contains environment variables. They are emitted in sorted key
		// order so the constructed argument vector is deterministic.
		Env map[string]string
		// Mounts are bind mounts from host into container.
		Mounts []VolumeMount
		// Name is the container name (daemon runtimes only).
		Name string
		// Remove removes the container after exit (daemon runtimes only).
		Remove bool
		// Interactive keeps stdin open.
		Interactive bool
		// TTY allocates a pseudo-terminal.
		TTY bool
		// Stdin/Stdout/Stderr wire the session's standard streams.
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
	}

	// RunResult is the outcome of a container run. A non-zero exit code from
	// the containerized command is not an error; it is captured here so the
	// caller can forward it. Error is set only for infrastructure failures.
	RunResult struct {
		ExitCode types.ExitCode
		Error    error
	}

	// Engine is the abstract interface implemented once per runtime kind.
	// Implementations are pure translation layers: they map abstract verbs to
	// the runtime's argument syntax and carry no environment-lifecycle logic.
	// No operation retries; retry policy belongs to the caller.
	Engine interface {
		// Kind returns the runtime kind.
		Kind() Kind
		// BinaryPath returns the resolved executable path ("" if not found).
		BinaryPath() string
		// Available reports whether the runtime passes its health command.
		Available() bool
		// Version returns the runtime version.
		Version(ctx context.Context) (string, error)

		// Pull fetches an image from a remote registry.
		Pull(ctx context.Context, ref string, opts PullOptions) error
		// Build builds an image from a recipe.
		Build(ctx context.Context, opts BuildOptions) error
		// Run runs a command in a container and blocks until it exits.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// BuildRunArgs returns the full argument vector a Run would execute,
		// for interactive sessions that attach the command to a PTY.
		BuildRunArgs(opts RunOptions) []string
		// ListImages lists locally present image references with the given prefix.
		ListImages(ctx context.Context, prefix string) ([]string, error)
		// RemoveImage removes a local image.
		RemoveImage(ctx context.Context, ref string, force bool) error
		// InspectImage returns metadata for a local image, or ErrImageNotFound.
		InspectImage(ctx context.Context, ref string) (*ImageInfo, error)
		// SaveImage exports a local image to a portable file.
		SaveImage(ctx context.Context, ref, destPath string) error
		// LoadImage imports an image from a portable file.
		LoadImage(ctx context.Context, srcPath, ref string) error
	}

	// NoRuntimeAvailableError is returned when the prioritized runtime list
	// is exhausted. It names every kind that was probed and why each failed,
	// so the user knows what to install or fix.
	NoRuntimeAvailableError struct {
		Probed []RuntimeInfo
	}

	// RuntimeExecutionError is returned when an underlying runtime process
	// exits non-zero. It carries the constructed argument vector and the
	// captured standard error tail for diagnostics.
	RuntimeExecutionError struct {
		Kind       Kind
		Args       []string
		ExitCode   types.ExitCode
		StderrTail string
	}
)

// Kinds returns all runtime kinds in probe order.
func Kinds() []Kind {
	return []Kind{KindDocker, KindPodman, KindApptainer, KindSingularity}
}

// String returns the string representation of the Kind.
func (k Kind) String() string { return string(k) }

// Validate returns an error if the Kind is not one of the defined runtimes.
func (k Kind) Validate() error {
	switch k {
	case KindDocker, KindPodman, KindApptainer, KindSingularity:
		return nil
	default:
		return &InvalidKindError{Value: k}
	}
}

// Error implements the error interface.
func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("invalid runtime kind %q (valid: docker, podman, apptainer, singularity)", e.Value)
}

// Unwrap returns ErrInvalidKind for errors.Is() compatibility.
func (e *InvalidKindError) Unwrap() error { return ErrInvalidKind }

// Error implements the error interface. The message names every probed kind
// and the reason it was rejected.
func (e *NoRuntimeAvailableError) Error() string {
	var sb strings.Builder
	sb.WriteString("no usable container runtime detected")
	if len(e.Probed) == 0 {
		return sb.String()
	}
	sb.WriteString(": ")
	for i, info := range e.Probed {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(string(info.Kind))
		sb.WriteString(": ")
		if info.Detail != "" {
			sb.WriteString(info.Detail)
		} else {
			sb.WriteString("unavailable")
		}
	}
	return sb.String()
}

// Unwrap returns ErrNoRuntimeAvailable for errors.Is() compatibility.
func (e *NoRuntimeAvailableError) Unwrap() error { return ErrNoRuntimeAvailable }

// Error implements the error interface.
func (e *RuntimeExecutionError) Error() string {
	msg := fmt.Sprintf("%s %s exited with code %d", e.Kind, strings.Join(e.Args, " "), e.ExitCode)
	if e.StderrTail != "" {
		msg += ": " + strings.TrimSpace(e.StderrTail)
	}
	return msg
}

// Unwrap returns ErrRuntimeExecution for errors.Is() compatibility.
func (e *RuntimeExecutionError) Unwrap() error { return ErrRuntimeExecution }

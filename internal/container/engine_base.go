// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/venvoy/venvoy/pkg/types"
)

// stderrTailLimit bounds the stderr capture attached to execution errors.
const stderrTailLimit = 4096

var (
	// ErrInvalidVolumeMount is the sentinel error wrapped by InvalidVolumeMountError.
	ErrInvalidVolumeMount = errors.New("invalid volume mount")
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// It matches exec.CommandContext and can be replaced in tests.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// VolumeFormatFunc formats a volume mount into the runtime's flag value.
	// Podman overrides this to append SELinux relabeling on Linux.
	VolumeFormatFunc func(v VolumeMount) string

	// RunArgsTransformer post-processes a constructed run argument slice.
	RunArgsTransformer func(args []string) []string

	// VolumeMount is a bind mount from a host path into a container path.
	VolumeMount struct {
		HostPath      string
		ContainerPath string
		ReadOnly      bool
	}

	// InvalidVolumeMountError is returned when a VolumeMount fails validation.
	InvalidVolumeMountError struct {
		Value  VolumeMount
		Reason string
	}

	// dialect is the per-runtime argument vocabulary. The four supported
	// runtimes split into two families: daemon-style (docker, podman) and
	// SIF-style (apptainer, singularity). Within a family only the binary
	// name differs, so each family is one data table, not one code path.
	dialect struct {
		// runVerb starts a container with the image's default command.
		runVerb string
		// execVerb runs an explicit command. Daemon runtimes append the
		// command after the image on the run verb instead.
		execVerb string
		// removeFlag removes the container after exit ("" if unsupported).
		removeFlag string
		// nameFlag names the container ("" if unsupported).
		nameFlag string
		// workdirFlag sets the working directory.
		workdirFlag string
		// interactiveFlag keeps stdin open ("" if implicit).
		interactiveFlag string
		// ttyFlag allocates a terminal ("" if implicit).
		ttyFlag string
		// envFlag passes one environment variable.
		envFlag string
		// mountFlag passes one bind mount.
		mountFlag string
		// remoteScheme prefixes remote references on pull ("" for daemon
		// runtimes, "docker://" for SIF runtimes).
		remoteScheme string
		// sif marks image-file runtimes: images are files on disk, not
		// entries in a daemon's image store.
		sif bool
	}

	// BaseCLIEngine carries the machinery shared by every runtime adapter:
	// binary resolution, argument construction from a dialect table, and
	// subprocess execution with stderr capture. Concrete engines embed it
	// and contribute only their kind, dialect, and image-store verbs.
	BaseCLIEngine struct {
		kind               Kind
		binaryPath         string
		dialect            dialect
		execCommand        ExecCommandFunc
		volumeFormatter    VolumeFormatFunc
		runArgsTransformer RunArgsTransformer
		cmdEnvOverrides    map[string]string
	}

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)
)

// daemonDialect is the shared vocabulary of docker and podman.
var daemonDialect = dialect{
	runVerb:         "run",
	removeFlag:      "--rm",
	nameFlag:        "--name",
	workdirFlag:     "-w",
	interactiveFlag: "-i",
	ttyFlag:         "-t",
	envFlag:         "-e",
	mountFlag:       "-v",
}

// sifDialect is the shared vocabulary of apptainer and singularity.
// Both attach the terminal implicitly, run containers from image files,
// and pull remote OCI references through the docker:// transport.
var sifDialect = dialect{
	runVerb:      "run",
	execVerb:     "exec",
	workdirFlag:  "--pwd",
	envFlag:      "--env",
	mountFlag:    "--bind",
	remoteScheme: "docker://",
	sif:          true,
}

// Error implements the error interface.
func (e *InvalidVolumeMountError) Error() string {
	return fmt.Sprintf("invalid volume mount %q:%q: %s", e.Value.HostPath, e.Value.ContainerPath, e.Reason)
}

// Unwrap returns ErrInvalidVolumeMount for errors.Is() compatibility.
func (e *InvalidVolumeMountError) Unwrap() error { return ErrInvalidVolumeMount }

// Validate returns an error if either path of the VolumeMount is empty.
func (v VolumeMount) Validate() error {
	if v.HostPath == "" {
		return &InvalidVolumeMountError{Value: v, Reason: "host path is empty"}
	}
	if v.ContainerPath == "" {
		return &InvalidVolumeMountError{Value: v, Reason: "container path is empty"}
	}
	return nil
}

// String returns the volume mount in "host:container[:ro]" format.
func (v VolumeMount) String() string {
	s := v.HostPath + ":" + v.ContainerPath
	if v.ReadOnly {
		s += ":ro"
	}
	return s
}

// ParseVolumeMount parses a "host:container[:ro]" string into a VolumeMount.
// Windows drive letters in the host path are not supported; callers pass
// slash paths (see platform.HomeMountPath).
func ParseVolumeMount(volume string) (VolumeMount, error) {
	parts := strings.Split(volume, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return VolumeMount{}, &InvalidVolumeMountError{
			Value:  VolumeMount{HostPath: volume},
			Reason: "expected host:container[:ro]",
		}
	}
	v := VolumeMount{HostPath: parts[0], ContainerPath: parts[1]}
	if len(parts) == 3 {
		if parts[2] != "ro" {
			return VolumeMount{}, &InvalidVolumeMountError{Value: v, Reason: fmt.Sprintf("unknown option %q", parts[2])}
		}
		v.ReadOnly = true
	}
	if err := v.Validate(); err != nil {
		return VolumeMount{}, err
	}
	return v, nil
}

// --- Option Functions ---

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithVolumeFormatter sets a custom volume formatter function.
// This is used by Podman to add SELinux labels on Linux.
func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.volumeFormatter = fn
	}
}

// WithRunArgsTransformer sets a custom run args transformer.
// This is used by Podman to inject --userns=keep-id for rootless compatibility.
func WithRunArgsTransformer(fn RunArgsTransformer) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.runArgsTransformer = fn
	}
}

// WithCmdEnvOverride adds an environment variable override applied to every
// exec.Cmd created by this engine.
func WithCmdEnvOverride(key, value string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		if e.cmdEnvOverrides == nil {
			e.cmdEnvOverrides = make(map[string]string)
		}
		e.cmdEnvOverrides[key] = value
	}
}

// WithBinaryPath overrides PATH lookup with an explicit executable path.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// --- Constructor ---

// newBaseCLIEngine creates a base engine for the given kind and dialect.
// The binary is resolved from PATH unless WithBinaryPath overrides it; a
// missing binary leaves BinaryPath empty and the engine unavailable rather
// than failing construction, so detection can report it.
func newBaseCLIEngine(kind Kind, d dialect, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		kind:        kind,
		dialect:     d,
		execCommand: exec.CommandContext,
		// Identity functions by default
		volumeFormatter:    func(v VolumeMount) string { return v.String() },
		runArgsTransformer: func(args []string) []string { return args },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.binaryPath == "" {
		if path, err := exec.LookPath(string(kind)); err == nil {
			e.binaryPath = path
		}
	}
	return e
}

// --- Accessor Methods ---

// Kind returns the runtime kind.
func (e *BaseCLIEngine) Kind() Kind {
	return e.kind
}

// BinaryPath returns the path to the container runtime binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// --- Argument Builders ---

// RunArgs constructs arguments for a container run command.
//
// Daemon runtimes generate: run [options] <image> [command...]
// SIF runtimes generate: run|exec [options] <image-path> [command...]
// where the verb is exec when an explicit command is given.
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	verb := e.dialect.runVerb
	if e.dialect.sif && len(opts.Command) > 0 {
		verb = e.dialect.execVerb
	}
	args := []string{verb}

	if opts.Remove && e.dialect.removeFlag != "" {
		args = append(args, e.dialect.removeFlag)
	}

	if opts.Name != "" && e.dialect.nameFlag != "" {
		args = append(args, e.dialect.nameFlag, opts.Name)
	}

	if opts.WorkDir != "" {
		args = append(args, e.dialect.workdirFlag, opts.WorkDir)
	}

	if opts.Interactive && e.dialect.interactiveFlag != "" {
		args = append(args, e.dialect.interactiveFlag)
	}

	if opts.TTY && e.dialect.ttyFlag != "" {
		args = append(args, e.dialect.ttyFlag)
	}

	// Sorted key order keeps the constructed vector deterministic.
	for _, k := range sortedKeys(opts.Env) {
		args = append(args, e.dialect.envFlag, fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	for _, v := range opts.Mounts {
		args = append(args, e.dialect.mountFlag, e.volumeFormatter(v))
	}

	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	return e.runArgsTransformer(args)
}

// PullArgs constructs arguments for an image pull command.
// SIF runtimes write the image to a local file and pull through the
// docker:// transport; daemon runtimes pull into the daemon's store.
func (e *BaseCLIEngine) PullArgs(ref string, destPath string, opts PullOptions) []string {
	args := []string{"pull"}
	if e.dialect.sif {
		args = append(args, "--force", destPath, e.dialect.remoteScheme+ref)
		return args
	}
	if opts.Platform != "" {
		args = append(args, "--platform", opts.Platform)
	}
	args = append(args, ref)
	return args
}

// --- Command Execution ---

// RunCommand executes a command and returns its stdout. Stderr is captured
// and attached to the returned error as a bounded tail.
func (e *BaseCLIEngine) RunCommand(ctx context.Context, args ...string) ([]byte, error) {
	cmd := e.CreateCommand(ctx, args...)
	var stderr tailBuffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, e.execError(ctx, args, stderr.String(), err)
	}
	return out, nil
}

// RunCommandStatus executes a command and returns only the error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	var stderr tailBuffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return e.execError(ctx, args, stderr.String(), err)
	}
	return nil
}

// RunCommandStreaming executes a command with stdout/stderr wired to the
// given writers, teeing stderr into the error tail. Nil writers discard.
func (e *BaseCLIEngine) RunCommandStreaming(ctx context.Context, stdout, stderr io.Writer, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	var tail tailBuffer
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = teeWriter{stderr, &tail}
	} else {
		cmd.Stderr = &tail
	}
	if err := cmd.Run(); err != nil {
		return e.execError(ctx, args, tail.String(), err)
	}
	return nil
}

// CreateCommand creates an exec.Cmd for the given arguments.
// Engine-level env overrides are applied automatically.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := e.execCommand(ctx, e.binaryPath, args...)
	e.customizeCmd(cmd)
	return cmd
}

// customizeCmd applies env overrides to a command.
func (e *BaseCLIEngine) customizeCmd(cmd *exec.Cmd) {
	if len(e.cmdEnvOverrides) > 0 {
		// exec.Cmd.Env being nil means "inherit everything", but once set to
		// a non-nil slice, only the listed vars are passed to the child.
		cmd.Env = os.Environ()
		for _, k := range sortedKeys(e.cmdEnvOverrides) {
			cmd.Env = append(cmd.Env, k+"="+e.cmdEnvOverrides[k])
		}
	}
}

// execError converts a subprocess failure into a RuntimeExecutionError,
// preserving context cancellation so errors.Is(err, context.Canceled) holds.
func (e *BaseCLIEngine) execError(ctx context.Context, args []string, stderrTail string, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", e.kind, strings.Join(args, " "), ctxErr)
	}
	code := types.ExitCode(1)
	if exitErr, ok := errors.AsType[*exec.ExitError](cause); ok {
		code = types.ExitCode(exitErr.ExitCode())
	}
	return &RuntimeExecutionError{
		Kind:       e.kind,
		Args:       args,
		ExitCode:   code,
		StderrTail: stderrTail,
	}
}

// --- Shared Engine Methods ---

// Run runs a command in a container and returns the result.
// A non-zero exit code is captured in RunResult.ExitCode (not returned as
// error). Only infrastructure failures set RunResult.Error.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	for _, m := range opts.Mounts {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}

	args := e.RunArgs(opts)

	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	err := cmd.Run()

	result := &RunResult{}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.ExitCode = types.ExitInterrupted
			result.Error = fmt.Errorf("%s run: %w", e.kind, ctxErr)
		} else if exitErr, ok := errors.AsType[*exec.ExitError](err); ok {
			result.ExitCode = types.ExitCode(exitErr.ExitCode())
		} else {
			result.ExitCode = types.ExitFailure
			result.Error = err
		}
	}

	return result, nil
}

// BuildRunArgs builds the argument slice for a run command without executing.
// This is used for interactive mode where the command is attached to a PTY.
func (e *BaseCLIEngine) BuildRunArgs(opts RunOptions) []string {
	return e.RunArgs(opts)
}

// Available reports whether the binary exists and answers its version query.
func (e *BaseCLIEngine) Available() bool {
	if e.binaryPath == "" {
		return false
	}
	_, err := e.Version(context.Background())
	return err == nil
}

// Version returns the runtime version string.
func (e *BaseCLIEngine) Version(ctx context.Context) (string, error) {
	if e.binaryPath == "" {
		return "", fmt.Errorf("%s: executable not found in PATH", e.kind)
	}
	out, err := e.RunCommand(ctx, "--version")
	if err != nil {
		return "", err
	}
	return parseVersionOutput(string(out)), nil
}

// parseVersionOutput extracts the version token from --version output.
// Known formats: "Docker version 27.1.1, build ...", "podman version 5.2.2",
// "apptainer version 1.3.4", "singularity-ce version 4.1.0".
func parseVersionOutput(out string) string {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	for i, f := range fields {
		if strings.EqualFold(f, "version") && i+1 < len(fields) {
			return strings.TrimSuffix(fields[i+1], ",")
		}
	}
	if len(fields) > 0 {
		return fields[len(fields)-1]
	}
	return line
}

// --- Helpers ---

// sortedKeys returns the map's keys in ascending order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// tailBuffer is a Writer that retains only the last stderrTailLimit bytes.
// It bounds memory for runtimes that write large progress streams to stderr.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= stderrTailLimit {
		t.buf.Reset()
		p = p[n-stderrTailLimit:]
	}
	if overflow := t.buf.Len() + len(p) - stderrTailLimit; overflow > 0 {
		rest := t.buf.Bytes()[overflow:]
		remaining := make([]byte, len(rest))
		copy(remaining, rest)
		t.buf.Reset()
		t.buf.Write(remaining)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }

// teeWriter duplicates writes to a primary and a secondary writer.
// Secondary write errors are ignored; it only feeds the error tail.
type teeWriter struct {
	primary   io.Writer
	secondary *tailBuffer
}

func (t teeWriter) Write(p []byte) (int, error) {
	t.secondary.Write(p) //nolint:errcheck // tail capture never fails
	return t.primary.Write(p)
}

// resolveRecipePath resolves a recipe path relative to the build context.
// Absolute paths are returned as-is.
func resolveRecipePath(contextDir, recipe string) string {
	if recipe == "" || filepath.IsAbs(recipe) || contextDir == "" {
		return recipe
	}
	return filepath.Join(contextDir, recipe)
}

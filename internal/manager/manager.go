// SPDX-License-Identifier: MPL-2.0

// Package manager implements the environment lifecycle: init, run, freeze,
// rebuild, and remove. It glues the environment store to the container
// runtime layer and owns the locking and snapshot policy; the CLI layer is a
// thin shell around it.
package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver"
	"github.com/charmbracelet/log"

	"github.com/venvoy/venvoy/internal/config"
	"github.com/venvoy/venvoy/internal/container"
	"github.com/venvoy/venvoy/internal/platform"
	"github.com/venvoy/venvoy/internal/store"
	"github.com/venvoy/venvoy/pkg/types"
)

const (
	// workspaceDir is the in-container working directory of every session.
	workspaceDir = "/workspace"

	// imageRefPrefix namespaces the image tags venvoy builds, so ListImages
	// can enumerate them without touching unrelated images.
	imageRefPrefix = "venvoy/"

	// sessionStateMount is the in-container directory where the session
	// wrapper reports the installed package set. It is bind-mounted from a
	// per-session host directory.
	sessionStateMount = "/run/venvoy"

	// sessionPackagesFile is the freeze-format report inside sessionStateMount.
	sessionPackagesFile = "packages.txt"
)

// ErrInvalidTrackVersion is returned when a requested track version does not
// parse as a version number.
var ErrInvalidTrackVersion = errors.New("invalid track version")

type (
	// Manager orchestrates environment operations. It resolves the container
	// runtime fresh on every operation: availability changes between
	// invocations, so a remembered choice would go stale.
	Manager struct {
		cfg      *config.Config
		store    *store.Store
		registry *container.Registry
		probe    *platform.Probe
		logger   *log.Logger
		stdin    io.Reader
		stdout   io.Writer
		stderr   io.Writer
		now      func() time.Time
	}

	// Option configures a Manager.
	Option func(*Manager)

	// SessionOptions describes one run session.
	SessionOptions struct {
		// Command is the command to run; empty starts the track's default
		// interactive interpreter.
		Command []string
		// Mounts are extra bind mounts beyond the default home mount.
		Mounts []container.VolumeMount
		// Env are extra environment variables for the session.
		Env map[string]string
		// Interactive attaches the session to the caller's terminal.
		Interactive bool
	}

	// RuntimeReport is the full detection verdict shown by runtime-info.
	RuntimeReport struct {
		ExecContext platform.ExecutionContext
		Runtimes    []container.RuntimeInfo
		Selected    container.Kind
		SelectErr   error
	}
)

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithStdio overrides the session's standard streams, primarily for tests.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(m *Manager) {
		m.stdin = stdin
		m.stdout = stdout
		m.stderr = stderr
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager over the given store and runtime registry.
func New(cfg *config.Config, st *store.Store, reg *container.Registry, probe *platform.Probe, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		store:    st,
		registry: reg,
		probe:    probe,
		logger:   log.Default(),
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying environment store for read-only CLI queries.
func (m *Manager) Store() *store.Store { return m.store }

// resolveEngine detects the execution context and picks the runtime for it.
// Called at the start of every operation that talks to a runtime.
func (m *Manager) resolveEngine(ctx context.Context) (container.Engine, error) {
	execCtx := m.probe.Detect()
	engine, err := m.registry.Resolve(ctx, execCtx, m.cfg.PreferredRuntime())
	if err != nil {
		return nil, err
	}
	m.logger.Debug("runtime resolved",
		"kind", engine.Kind(), "cluster", execCtx.IsCluster)
	return engine, nil
}

// Report probes everything and reports the verdict without acting on it.
func (m *Manager) Report(ctx context.Context) *RuntimeReport {
	execCtx := m.probe.Detect()
	detected := m.registry.Detect(ctx)
	selected, err := container.Select(execCtx, detected, m.cfg.PreferredRuntime())
	return &RuntimeReport{
		ExecContext: execCtx,
		Runtimes:    detected,
		Selected:    selected,
		SelectErr:   err,
	}
}

// ImageRef returns the image tag venvoy builds for an environment.
func ImageRef(name types.EnvironmentName) string {
	return imageRefPrefix + string(name) + ":latest"
}

// Init creates a new environment: store directory, rendered recipe, and a
// built image. force destroys and recreates an existing environment.
func (m *Manager) Init(ctx context.Context, name types.EnvironmentName, track types.Track, version string, force bool) (*store.Environment, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	if err := track.Validate(); err != nil {
		return nil, err
	}
	if version == "" {
		version = track.DefaultVersion()
	}
	if _, err := semver.NewVersion(version); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTrackVersion, version, err)
	}

	if m.store.Exists(name) {
		if !force {
			return nil, &store.EnvironmentExistsError{Name: name}
		}
		if err := m.Remove(ctx, name, true); err != nil {
			return nil, err
		}
	}

	env := &store.Environment{
		Name:         name,
		Track:        track,
		TrackVersion: version,
		Architecture: platform.Arch(),
		BaseImage:    BaseImageFor(track, version),
		ImageRef:     ImageRef(name),
	}
	if err := m.store.Create(env); err != nil {
		return nil, err
	}

	lock, err := m.store.Lock(name)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	recipe, err := RenderRecipe(env)
	if err != nil {
		return nil, err
	}
	if err := m.store.WriteRecipe(name, recipe); err != nil {
		return nil, err
	}
	if err := m.store.WriteManifest(name, ""); err != nil {
		return nil, err
	}

	engine, err := m.resolveEngine(ctx)
	if err != nil {
		return nil, err
	}

	// Warm the base image first. Pull is the one retryable verb; a failure
	// here is not fatal because the build pulls the base itself.
	m.logger.Info("pulling base image", "ref", env.BaseImage)
	if err := container.PullWithRetry(ctx, engine, env.BaseImage, container.PullOptions{
		Platform: "linux/" + env.Architecture,
		Stderr:   m.stderr,
	}); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		m.logger.Warn("base image pull failed, the build will retry it", "err", err)
	}

	if err := m.buildImage(ctx, engine, env, false); err != nil {
		return nil, err
	}
	if err := m.store.Save(env); err != nil {
		return nil, err
	}
	m.logger.Info("environment initialized", "name", name, "track", track, "version", version)
	return env, nil
}

// buildImage builds the environment image from its stored recipe and records
// the manifest digest the build saw. For SIF runtimes the Dockerfile is
// converted to a definition file next to it.
func (m *Manager) buildImage(ctx context.Context, engine container.Engine, env *store.Environment, noCache bool) error {
	recipePath := m.store.RecipePath(env.Name)
	switch engine.Kind() {
	case container.KindApptainer, container.KindSingularity:
		dockerfile, err := m.store.ReadRecipe(env.Name)
		if err != nil {
			return err
		}
		defPath := filepath.Join(m.store.EnvDir(env.Name), defFileName)
		if err := os.WriteFile(defPath, []byte(DockerfileToDef(dockerfile)), 0o644); err != nil {
			return fmt.Errorf("failed to write definition file: %w", err)
		}
		recipePath = defPath
	}

	m.logger.Info("building image", "tag", env.ImageRef, "runtime", engine.Kind())
	err := engine.Build(ctx, container.BuildOptions{
		ContextDir: m.store.EnvDir(env.Name),
		Recipe:     recipePath,
		Tag:        env.ImageRef,
		NoCache:    noCache,
		Stdout:     m.stdout,
		Stderr:     m.stderr,
	})
	if err != nil {
		return err
	}

	dig, err := m.store.ManifestDigest(env.Name)
	if err != nil {
		return err
	}
	env.BuiltManifestDigest = dig
	return nil
}

// Rebuild rebuilds the environment image from its recipe and clears the
// stale state. With noCache the runtime rebuilds every layer from scratch.
func (m *Manager) Rebuild(ctx context.Context, name types.EnvironmentName, noCache bool) (*store.Environment, error) {
	env, err := m.store.Get(name)
	if err != nil {
		return nil, err
	}
	lock, err := m.store.Lock(name)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	engine, err := m.resolveEngine(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.buildImage(ctx, engine, env, noCache); err != nil {
		return nil, err
	}
	if err := m.store.Save(env); err != nil {
		return nil, err
	}
	return env, nil
}

// Run starts a session in the environment and blocks until it exits. The
// command's exit code is data, not an error. After the session ends, the
// auto-save tracker reconciles package state when enabled.
func (m *Manager) Run(ctx context.Context, name types.EnvironmentName, opts SessionOptions) (types.ExitCode, error) {
	env, err := m.store.Get(name)
	if err != nil {
		return types.ExitFailure, err
	}

	state, err := m.store.State(name)
	if err != nil {
		return types.ExitFailure, err
	}
	if state == store.StateStale {
		m.logger.Warn("declared manifest changed since the last build; run 'venvoy rebuild' to apply it", "name", name)
	}

	engine, err := m.resolveEngine(ctx)
	if err != nil {
		return types.ExitNoRuntime, err
	}
	if err := m.ensureImage(ctx, engine, env); err != nil {
		return types.ExitFailure, err
	}

	runOpts, stateDir, err := m.sessionRunOptions(env, opts)
	if err != nil {
		return types.ExitFailure, err
	}
	defer os.RemoveAll(stateDir)

	var (
		tracker  *Tracker
		stopPoll func()
	)
	if m.cfg.AutoSave.Enabled {
		tracker = NewTracker(m.store, m.sessionPackageLister(stateDir, engine, env))
		if interval := time.Duration(m.cfg.AutoSave.PollSeconds) * time.Second; interval > 0 {
			stopPoll = tracker.Poll(ctx, name, interval)
		}
	}

	code, err := m.runSession(ctx, engine, runOpts)
	if stopPoll != nil {
		stopPoll()
	}
	if err != nil {
		return code, err
	}

	if tracker != nil {
		if _, err := tracker.Reconcile(ctx, name); err != nil {
			// The session already succeeded; a reconcile failure must not
			// change its exit code.
			m.logger.Warn("package snapshot failed", "name", name, "err", err)
		}
	}
	return code, nil
}

// sessionRunOptions translates a SessionOptions into the runtime-level run
// request: default home mount, workspace workdir, and the wrapper script that
// reports the installed package set through a mounted state directory. The
// returned state directory is owned by the caller. The session container is
// removed on exit, so its writable layer cannot be inspected afterwards; the
// wrapper's reports are the only view of in-session package changes.
func (m *Manager) sessionRunOptions(env *store.Environment, opts SessionOptions) (container.RunOptions, string, error) {
	stateDir, err := os.MkdirTemp("", "venvoy-session-*")
	if err != nil {
		return container.RunOptions{}, "", fmt.Errorf("failed to create session state directory: %w", err)
	}

	mounts := opts.Mounts
	if home, err := platform.HomeMountPath(); err == nil {
		mounts = append([]container.VolumeMount{{HostPath: home, ContainerPath: home}}, mounts...)
	}
	mounts = append(mounts, container.VolumeMount{HostPath: stateDir, ContainerPath: sessionStateMount})

	command := opts.Command
	if len(command) == 0 {
		command = defaultSessionCommand(env.Track)
	}
	refresh := time.Duration(m.cfg.AutoSave.PollSeconds) * time.Second
	script, err := sessionScript(env.Track, command, refresh)
	if err != nil {
		os.RemoveAll(stateDir)
		return container.RunOptions{}, "", err
	}

	return container.RunOptions{
		Image:       env.ImageRef,
		Command:     []string{"sh", "-c", script},
		WorkDir:     workspaceDir,
		Env:         opts.Env,
		Mounts:      mounts,
		Name:        "venvoy-" + string(env.Name),
		Remove:      true,
		Interactive: opts.Interactive,
		TTY:         opts.Interactive,
		Stdin:       m.stdin,
		Stdout:      m.stdout,
		Stderr:      m.stderr,
	}, stateDir, nil
}

// runSession dispatches between the PTY path and the plain path. The PTY
// path is taken only for interactive sessions on a real terminal.
func (m *Manager) runSession(ctx context.Context, engine container.Engine, opts container.RunOptions) (types.ExitCode, error) {
	if opts.Interactive && stdinIsTerminal(m.stdin) {
		return runInteractive(ctx, engine, opts)
	}
	res, err := engine.Run(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return types.ExitInterrupted, err
		}
		return types.ExitFailure, err
	}
	if res.Error != nil {
		return res.ExitCode, res.Error
	}
	return res.ExitCode, nil
}

// ensureImage builds the environment image when it is not present locally.
func (m *Manager) ensureImage(ctx context.Context, engine container.Engine, env *store.Environment) error {
	_, err := engine.InspectImage(ctx, env.ImageRef)
	if err == nil {
		return nil
	}
	if !errors.Is(err, container.ErrImageNotFound) {
		return err
	}
	m.logger.Info("image not present locally, building", "tag", env.ImageRef)
	if err := m.buildImage(ctx, engine, env, false); err != nil {
		return err
	}
	return m.store.Save(env)
}

// Freeze resolves the full installed package set inside the environment,
// persists it as the declared manifest, and records a freeze snapshot.
// includeDev keeps editable installs in the pinned set.
func (m *Manager) Freeze(ctx context.Context, name types.EnvironmentName, includeDev bool) (*store.Snapshot, error) {
	env, err := m.store.Get(name)
	if err != nil {
		return nil, err
	}
	lock, err := m.store.Lock(name)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	engine, err := m.resolveEngine(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.ensureImage(ctx, engine, env); err != nil {
		return nil, err
	}

	pkgs, err := m.listPackages(ctx, engine, env, includeDev)
	if err != nil {
		return nil, err
	}

	if err := m.store.WriteManifest(name, store.FormatFreeze(pkgs)); err != nil {
		return nil, err
	}
	// The frozen manifest describes exactly what the image contains, so the
	// build digest moves with it.
	dig, err := m.store.ManifestDigest(name)
	if err != nil {
		return nil, err
	}
	env.BuiltManifestDigest = dig
	if err := m.store.Save(env); err != nil {
		return nil, err
	}

	snap, err := m.store.AddSnapshot(name, store.Snapshot{
		Trigger:  store.TriggerFreeze,
		TakenAt:  m.now().UTC(),
		Packages: pkgs,
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("environment frozen", "name", name, "packages", len(pkgs))
	return snap, nil
}

// listPackages runs the track's freeze command inside the image and parses
// its output.
func (m *Manager) listPackages(ctx context.Context, engine container.Engine, env *store.Environment, includeDev bool) ([]store.Package, error) {
	var out bytes.Buffer
	res, err := engine.Run(ctx, container.RunOptions{
		Image:   env.ImageRef,
		Command: freezeCommand(env.Track, includeDev),
		Remove:  true,
		Name:    "venvoy-" + string(env.Name) + "-freeze",
		Stdout:  &out,
		Stderr:  m.stderr,
	})
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, res.Error
	}
	if !res.ExitCode.IsSuccess() {
		return nil, fmt.Errorf("package listing exited with code %s", res.ExitCode)
	}
	return store.ParseFreeze(out.String())
}

// sessionPackageLister reads the package set the session wrapper reports
// through the state directory, editable installs included. Before the first
// report lands it falls back to listing the image, which equals the session's
// starting state.
func (m *Manager) sessionPackageLister(stateDir string, engine container.Engine, env *store.Environment) PackageLister {
	return func(ctx context.Context) ([]store.Package, error) {
		data, err := os.ReadFile(filepath.Join(stateDir, sessionPackagesFile))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return m.listPackages(ctx, engine, env, true)
			}
			return nil, fmt.Errorf("failed to read session package state: %w", err)
		}
		return store.ParseFreeze(string(data))
	}
}

// Remove deletes an environment and, when removeImages is set, its built
// image from the selected runtime.
func (m *Manager) Remove(ctx context.Context, name types.EnvironmentName, removeImages bool) error {
	env, err := m.store.Get(name)
	if err != nil {
		return err
	}
	lock, err := m.store.Lock(name)
	if err != nil {
		return err
	}
	defer lock.Release()

	if removeImages {
		if engine, err := m.resolveEngine(ctx); err == nil {
			if err := engine.RemoveImage(ctx, env.ImageRef, true); err != nil {
				m.logger.Warn("image removal failed", "ref", env.ImageRef, "err", err)
			}
		}
	}
	return m.store.Remove(name)
}

// List returns all environments with their current state.
func (m *Manager) List() ([]*store.Environment, error) {
	return m.store.List()
}

// History returns the snapshot history of an environment, oldest first.
func (m *Manager) History(name types.EnvironmentName) ([]store.Snapshot, error) {
	return m.store.Snapshots(name)
}

// State classifies an environment for status output.
func (m *Manager) State(name types.EnvironmentName) (store.EnvironmentState, error) {
	return m.store.State(name)
}

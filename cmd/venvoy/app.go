// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/venvoy/venvoy/internal/archive"
	"github.com/venvoy/venvoy/internal/config"
	"github.com/venvoy/venvoy/internal/container"
	"github.com/venvoy/venvoy/internal/manager"
	"github.com/venvoy/venvoy/internal/platform"
	"github.com/venvoy/venvoy/internal/store"
)

// App is the composition root for the CLI layer: it loads configuration and
// wires the store, runtime registry, manager, and archive codec together.
// Every command handler builds one App per invocation, so runtime detection
// and config are always fresh.
type App struct {
	Config  *config.Config
	Store   *store.Store
	Manager *manager.Manager
	Codec   *archive.Codec
	Logger  *log.Logger

	registry *container.Registry
	probe    *platform.Probe
}

// newApp loads configuration and builds the service graph.
func newApp(ctx context.Context) (*App, error) {
	cfg, err := config.NewProvider().Load(ctx, config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.UI.Verbose = true
	}

	dataDir := cfg.StoreDir
	if dataDir == "" {
		dataDir, err = config.DataDir()
		if err != nil {
			return nil, err
		}
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	if cfg.UI.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	st := store.New(dataDir)
	registry := container.NewRegistry(filepath.Join(dataDir, "images"))

	// Config lists extend the built-in detection defaults, never replace them.
	probe := platform.NewProbe(
		platform.WithSchedulerVars(append(slices.Clone(platform.DefaultSchedulerVars), cfg.Cluster.SchedulerVars...)),
		platform.WithHostnamePatterns(append(slices.Clone(platform.DefaultHostnamePatterns), cfg.Cluster.HostnamePatterns...)),
	)

	mgr := manager.New(cfg, st, registry, probe, manager.WithLogger(logger))
	codec := archive.NewCodec(st, func(ctx context.Context) (container.Engine, error) {
		return registry.Resolve(ctx, probe.Detect(), cfg.PreferredRuntime())
	})

	return &App{
		Config:   cfg,
		Store:    st,
		Manager:  mgr,
		Codec:    codec,
		Logger:   logger,
		registry: registry,
		probe:    probe,
	}, nil
}

// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"time"

	"github.com/venvoy/venvoy/internal/platform"
)

// Priority orders by execution context. On clusters the SIF runtimes come
// first because daemon runtimes are rarely installed or permitted there;
// docker stays last as a fallback for clusters that do run a daemon. On
// workstations docker leads because it is the most commonly installed.
var (
	clusterPriority     = []Kind{KindApptainer, KindSingularity, KindPodman, KindDocker}
	workstationPriority = []Kind{KindDocker, KindApptainer, KindSingularity, KindPodman}
)

const (
	pullMaxAttempts = 3
	pullBaseBackoff = 2 * time.Second
)

// Registry owns one engine per runtime kind and picks the best available one
// for the current execution context. Engines are constructed eagerly (cheap;
// just a PATH lookup) but probed lazily, once per Detect call. Probe results
// are never cached across calls.
type Registry struct {
	engines map[Kind]Engine
}

// NewRegistry creates a registry with the four standard engines. SIF images
// are stored under imageDir. Options (exec injection in particular) apply to
// every engine.
func NewRegistry(imageDir string, opts ...BaseCLIEngineOption) *Registry {
	return &Registry{
		engines: map[Kind]Engine{
			KindDocker:      NewDockerEngine(opts...),
			KindPodman:      NewPodmanEngine(opts...),
			KindApptainer:   NewApptainerEngine(imageDir, opts...),
			KindSingularity: NewSingularityEngine(imageDir, opts...),
		},
	}
}

// NewRegistryWithEngines creates a registry over explicit engines, for tests
// and for callers that need to substitute a fake runtime.
func NewRegistryWithEngines(engines ...Engine) *Registry {
	m := make(map[Kind]Engine, len(engines))
	for _, e := range engines {
		m[e.Kind()] = e
	}
	return &Registry{engines: m}
}

// Engine returns the engine for a kind, or nil if the registry has none.
func (r *Registry) Engine(kind Kind) Engine {
	return r.engines[kind]
}

// Detect probes every registered runtime in the fixed order returned by
// Kinds and reports one RuntimeInfo per kind. Detection runs fresh on every
// call: availability can change between invocations (module load on a
// cluster, daemon started on a workstation), so verdicts are never cached.
func (r *Registry) Detect(ctx context.Context) []RuntimeInfo {
	infos := make([]RuntimeInfo, 0, len(r.engines))
	for _, kind := range Kinds() {
		e, ok := r.engines[kind]
		if !ok {
			continue
		}
		info := RuntimeInfo{Kind: kind}
		if e.BinaryPath() == "" {
			info.Detail = "executable not found in PATH"
			infos = append(infos, info)
			continue
		}
		if !e.Available() {
			info.Detail = "found at " + e.BinaryPath() + " but not responding"
			infos = append(infos, info)
			continue
		}
		info.Healthy = true
		if v, err := e.Version(ctx); err == nil {
			info.Version = v
		}
		infos = append(infos, info)
	}
	return infos
}

// Select picks the highest-priority healthy runtime for the execution
// context. A preferred kind is moved to the front of the priority order but
// still has to pass its health probe; preference reorders, it never bypasses.
// Select is a pure function of its inputs.
func Select(execCtx platform.ExecutionContext, detected []RuntimeInfo, preferred Kind) (Kind, error) {
	priority := workstationPriority
	if execCtx.IsCluster {
		priority = clusterPriority
	}
	if preferred != "" {
		reordered := make([]Kind, 0, len(priority))
		reordered = append(reordered, preferred)
		for _, k := range priority {
			if k != preferred {
				reordered = append(reordered, k)
			}
		}
		priority = reordered
	}

	byKind := make(map[Kind]RuntimeInfo, len(detected))
	for _, info := range detected {
		byKind[info.Kind] = info
	}
	for _, kind := range priority {
		if info, ok := byKind[kind]; ok && info.Healthy {
			return kind, nil
		}
	}
	return "", &NoRuntimeAvailableError{Probed: detected}
}

// Resolve detects and selects in one step, returning the chosen engine.
func (r *Registry) Resolve(ctx context.Context, execCtx platform.ExecutionContext, preferred Kind) (Engine, error) {
	detected := r.Detect(ctx)
	kind, err := Select(execCtx, detected, preferred)
	if err != nil {
		return nil, err
	}
	return r.engines[kind], nil
}

// PullWithRetry pulls an image, retrying transient failures with exponential
// backoff. Pull is idempotent so retrying is safe; build and run are not
// retried anywhere.
func PullWithRetry(ctx context.Context, e Engine, ref string, opts PullOptions) error {
	return RetryWithBackoff(ctx, pullMaxAttempts, pullBaseBackoff, func(int) (bool, error) {
		err := e.Pull(ctx, ref, opts)
		if err == nil {
			return false, nil
		}
		return IsTransient(err), err
	})
}

// SPDX-License-Identifier: MPL-2.0

// Package platform detects properties of the host that drive runtime
// selection: OS family, CPU architecture, and whether the process is running
// inside a batch/cluster scheduler context (HPC login or compute node).
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	hostos "github.com/venvoy/venvoy/pkg/platform"
)

// DefaultSchedulerVars are the job-id environment variables of the common
// batch schedulers. Presence of any of them means the process runs inside a
// scheduled job. The list is configuration data, not a closed set: it can
// be extended via config so new clusters are supported without a code change.
var DefaultSchedulerVars = []string{
	"SLURM_JOB_ID",
	"PBS_JOBID",
	"LSB_JOBID",
	"SGE_JOB_ID",
}

// DefaultHostnamePatterns are substrings commonly found in the hostnames of
// HPC login and compute nodes. Checked only when no scheduler variable is set.
var DefaultHostnamePatterns = []string{
	"login",
	"compute",
	"node",
	"hpc",
	"cluster",
}

type (
	// ExecutionContext is the verdict of a detection pass. It is computed
	// once per invocation, immutable after construction, and consumed by the
	// runtime registry to pick a priority order.
	ExecutionContext struct {
		// IsCluster reports whether the process appears to run on an HPC
		// login or compute node.
		IsCluster bool
		// SchedulerHints lists the scheduler environment variables that were
		// present, in probe order.
		SchedulerHints []string
		// HostnamePattern is the pattern the hostname matched, if any.
		HostnamePattern string
	}

	// Probe detects the execution context. Detection is a pure function of
	// the injected environment accessors, so tests can exercise it without
	// mutating process-global state.
	Probe struct {
		schedulerVars    []string
		hostnamePatterns []string
		getenv           func(string) string
		hostname         func() (string, error)
	}

	// Option configures a Probe.
	Option func(*Probe)
)

// WithSchedulerVars overrides the scheduler environment variable list.
func WithSchedulerVars(vars []string) Option {
	return func(p *Probe) {
		if len(vars) > 0 {
			p.schedulerVars = vars
		}
	}
}

// WithHostnamePatterns overrides the hostname substring pattern list.
func WithHostnamePatterns(patterns []string) Option {
	return func(p *Probe) {
		if len(patterns) > 0 {
			p.hostnamePatterns = patterns
		}
	}
}

// WithGetenv injects an environment lookup function for testing.
func WithGetenv(fn func(string) string) Option {
	return func(p *Probe) { p.getenv = fn }
}

// WithHostname injects a hostname lookup function for testing.
func WithHostname(fn func() (string, error)) Option {
	return func(p *Probe) { p.hostname = fn }
}

// NewProbe creates a Probe backed by the real process environment unless
// overridden by options.
func NewProbe(opts ...Option) *Probe {
	p := &Probe{
		schedulerVars:    DefaultSchedulerVars,
		hostnamePatterns: DefaultHostnamePatterns,
		getenv:           os.Getenv,
		hostname:         os.Hostname,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Detect computes the ExecutionContext. Scheduler variables win over
// hostname patterns; absence of both yields a non-cluster verdict. Detect
// has no side effects and is deterministic for a fixed environment.
func (p *Probe) Detect() ExecutionContext {
	ctx := ExecutionContext{}

	for _, v := range p.schedulerVars {
		if p.getenv(v) != "" {
			ctx.SchedulerHints = append(ctx.SchedulerHints, v)
		}
	}
	if len(ctx.SchedulerHints) > 0 {
		ctx.IsCluster = true
		return ctx
	}

	host, err := p.hostname()
	if err != nil {
		return ctx
	}
	host = strings.ToLower(host)
	for _, pat := range p.hostnamePatterns {
		if strings.Contains(host, pat) {
			ctx.IsCluster = true
			ctx.HostnamePattern = pat
			return ctx
		}
	}

	return ctx
}

// Arch returns the host CPU architecture in OCI platform notation.
func Arch() string { return runtime.GOARCH }

// HostPlatform returns the "os/arch" platform string used in archive
// manifests and multi-arch image references.
func HostPlatform() string {
	return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
}

// NormalizeArch maps machine architecture spellings (uname -m and friends)
// to OCI platform names. Unknown values pass through unchanged. Archives
// written by other tooling may carry non-normalized names.
func NormalizeArch(machine string) string {
	switch strings.ToLower(machine) {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	case "i386", "i686", "386":
		return "386"
	case "armv7l":
		return "arm"
	default:
		return strings.ToLower(machine)
	}
}

// HomeMountPath returns the user home directory in a form suitable for a
// container bind mount. Windows paths are converted to forward slashes
// because every supported runtime expects them.
func HomeMountPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if runtime.GOOS == hostos.Windows {
		return filepath.ToSlash(home), nil
	}
	return home, nil
}

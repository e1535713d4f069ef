// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func staticEnv(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func staticHostname(name string) func() (string, error) {
	return func() (string, error) { return name, nil }
}

func TestProbe_Detect_SchedulerVars(t *testing.T) {
	t.Parallel()

	// Each scheduler variable alone must flip the cluster verdict.
	for _, v := range DefaultSchedulerVars {
		t.Run(v, func(t *testing.T) {
			t.Parallel()
			p := NewProbe(
				WithGetenv(staticEnv(map[string]string{v: "12345"})),
				WithHostname(staticHostname("workstation")),
			)
			ctx := p.Detect()
			if !ctx.IsCluster {
				t.Errorf("IsCluster = false with %s set, want true", v)
			}
			if diff := cmp.Diff([]string{v}, ctx.SchedulerHints); diff != "" {
				t.Errorf("SchedulerHints mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProbe_Detect_HostnamePattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hostname    string
		wantCluster bool
		wantPattern string
	}{
		{"login01.cluster.example.edu", true, "login"},
		{"compute-0-12", true, "compute"},
		{"gpunode42", true, "node"},
		{"HPC-HEAD", true, "hpc"},
		{"workstation", false, ""},
		{"laptop.local", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			t.Parallel()
			p := NewProbe(
				WithGetenv(staticEnv(nil)),
				WithHostname(staticHostname(tt.hostname)),
			)
			ctx := p.Detect()
			if ctx.IsCluster != tt.wantCluster {
				t.Errorf("IsCluster = %v, want %v", ctx.IsCluster, tt.wantCluster)
			}
			if ctx.HostnamePattern != tt.wantPattern {
				t.Errorf("HostnamePattern = %q, want %q", ctx.HostnamePattern, tt.wantPattern)
			}
		})
	}
}

func TestProbe_Detect_SchedulerWinsOverHostname(t *testing.T) {
	t.Parallel()

	p := NewProbe(
		WithGetenv(staticEnv(map[string]string{"PBS_JOBID": "99"})),
		WithHostname(staticHostname("login01")),
	)
	ctx := p.Detect()
	if !ctx.IsCluster {
		t.Fatal("IsCluster = false, want true")
	}
	// Scheduler evidence short-circuits the hostname check.
	if ctx.HostnamePattern != "" {
		t.Errorf("HostnamePattern = %q, want empty", ctx.HostnamePattern)
	}
}

func TestProbe_Detect_Deterministic(t *testing.T) {
	t.Parallel()

	p := NewProbe(
		WithGetenv(staticEnv(map[string]string{"SLURM_JOB_ID": "7", "LSB_JOBID": "8"})),
		WithHostname(staticHostname("compute-3")),
	)
	first := p.Detect()
	second := p.Detect()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Detect is not deterministic (-first +second):\n%s", diff)
	}
}

func TestProbe_CustomLists(t *testing.T) {
	t.Parallel()

	p := NewProbe(
		WithSchedulerVars([]string{"FLUX_JOB_ID"}),
		WithHostnamePatterns([]string{"frontier"}),
		WithGetenv(staticEnv(nil)),
		WithHostname(staticHostname("frontier-login-04")),
	)
	ctx := p.Detect()
	if !ctx.IsCluster || ctx.HostnamePattern != "frontier" {
		t.Errorf("custom pattern not honored: %+v", ctx)
	}
}

func TestNormalizeArch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"x86_64", "amd64"},
		{"AMD64", "amd64"},
		{"aarch64", "arm64"},
		{"arm64", "arm64"},
		{"i686", "386"},
		{"armv7l", "arm"},
		{"riscv64", "riscv64"},
	}
	for _, tt := range tests {
		if got := NormalizeArch(tt.in); got != tt.want {
			t.Errorf("NormalizeArch(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// SPDX-License-Identifier: MPL-2.0

package container

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDockerEngine_RunArgs(t *testing.T) {
	t.Parallel()

	e := NewDockerEngine(WithBinaryPath("docker"))

	opts := RunOptions{
		Image:       "venvoy/demo:latest",
		Command:     []string{"python", "-V"},
		WorkDir:     "/workspace",
		Env:         map[string]string{"B": "2", "A": "1"},
		Mounts:      []VolumeMount{{HostPath: "/home/u", ContainerPath: "/home/u"}},
		Name:        "venvoy-demo",
		Remove:      true,
		Interactive: true,
		TTY:         true,
	}

	want := []string{
		"run", "--rm", "--name", "venvoy-demo", "-w", "/workspace", "-i", "-t",
		"-e", "A=1", "-e", "B=2",
		"-v", "/home/u:/home/u",
		"venvoy/demo:latest", "python", "-V",
	}
	if diff := cmp.Diff(want, e.RunArgs(opts)); diff != "" {
		t.Errorf("RunArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestDockerEngine_RunArgs_ReadOnlyMount(t *testing.T) {
	t.Parallel()

	e := NewDockerEngine(WithBinaryPath("docker"))
	args := e.RunArgs(RunOptions{
		Image:  "alpine",
		Mounts: []VolumeMount{{HostPath: "/data", ContainerPath: "/data", ReadOnly: true}},
	})

	want := []string{"run", "-v", "/data:/data:ro", "alpine"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("RunArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestDockerEngine_RunArgs_Deterministic(t *testing.T) {
	t.Parallel()

	// Env is a map; the emitted vector must not depend on iteration order.
	e := NewDockerEngine(WithBinaryPath("docker"))
	opts := RunOptions{
		Image: "alpine",
		Env:   map[string]string{"Z": "26", "A": "1", "M": "13"},
	}
	first := e.RunArgs(opts)
	for range 10 {
		if diff := cmp.Diff(first, e.RunArgs(opts)); diff != "" {
			t.Fatalf("RunArgs not deterministic (-first +got):\n%s", diff)
		}
	}
}

func TestDockerEngine_BuildArgs(t *testing.T) {
	t.Parallel()

	e := NewDockerEngine(WithBinaryPath("docker"))
	args := e.BuildArgs(BuildOptions{
		ContextDir: "/ctx",
		Recipe:     "Dockerfile",
		Tag:        "venvoy/demo:latest",
		NoCache:    true,
		BuildArgs:  map[string]string{"PYTHON_VERSION": "3.11"},
	})

	want := []string{
		"build", "-f", "/ctx/Dockerfile", "-t", "venvoy/demo:latest", "--no-cache",
		"--build-arg", "PYTHON_VERSION=3.11", "/ctx",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("BuildArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestDockerEngine_PullArgs_Platform(t *testing.T) {
	t.Parallel()

	e := NewDockerEngine(WithBinaryPath("docker"))
	args := e.PullArgs("python:3.11-slim", "", PullOptions{Platform: "linux/amd64"})

	want := []string{"pull", "--platform", "linux/amd64", "python:3.11-slim"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("PullArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestPodmanEngine_RunArgs_SharesDaemonDialect(t *testing.T) {
	t.Parallel()

	e := NewPodmanEngine(WithBinaryPath("podman"))
	args := e.RunArgs(RunOptions{
		Image:   "venvoy/demo:latest",
		Remove:  true,
		WorkDir: "/workspace",
	})

	want := []string{"run", "--rm", "-w", "/workspace", "venvoy/demo:latest"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("RunArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestApptainerEngine_RunArgs_ExplicitCommandUsesExec(t *testing.T) {
	t.Parallel()

	e := NewApptainerEngine("/imgs", WithBinaryPath("apptainer"))
	args := e.BuildRunArgs(RunOptions{
		Image:   "/imgs/env.sif",
		Command: []string{"python", "-V"},
		WorkDir: "/workspace",
		Env:     map[string]string{"A": "1"},
		Mounts:  []VolumeMount{{HostPath: "/home/u", ContainerPath: "/home/u"}},
		// Daemon-only options must be silently dropped, not mistranslated.
		Name:        "venvoy-demo",
		Remove:      true,
		Interactive: true,
		TTY:         true,
	})

	want := []string{
		"exec", "--pwd", "/workspace",
		"--env", "A=1",
		"--bind", "/home/u:/home/u",
		"/imgs/env.sif", "python", "-V",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("BuildRunArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestApptainerEngine_RunArgs_DefaultCommandUsesRun(t *testing.T) {
	t.Parallel()

	e := NewApptainerEngine("/imgs", WithBinaryPath("apptainer"))
	args := e.BuildRunArgs(RunOptions{Image: "/imgs/env.sif"})

	want := []string{"run", "/imgs/env.sif"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("BuildRunArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestApptainerEngine_RunArgs_RefResolvesToImageDir(t *testing.T) {
	t.Parallel()

	e := NewApptainerEngine("/imgs", WithBinaryPath("apptainer"))
	args := e.BuildRunArgs(RunOptions{Image: "venvoy/demo:latest", Command: []string{"true"}})

	want := []string{"exec", "/imgs/venvoy_demo_latest.sif", "true"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("BuildRunArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestApptainerEngine_BuildArgs(t *testing.T) {
	t.Parallel()

	e := NewApptainerEngine("/imgs", WithBinaryPath("apptainer"))
	args := e.BuildArgs(BuildOptions{
		Recipe: "/ctx/env.def",
		Tag:    "venvoy/demo:latest",
	})

	want := []string{"build", "--force", "/imgs/venvoy_demo_latest.sif", "/ctx/env.def"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("BuildArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestApptainerEngine_PullArgs_RemoteScheme(t *testing.T) {
	t.Parallel()

	e := NewApptainerEngine("/imgs", WithBinaryPath("apptainer"))
	args := e.PullArgs("python:3.11-slim", "/imgs/python_3.11-slim.sif", PullOptions{})

	want := []string{"pull", "--force", "/imgs/python_3.11-slim.sif", "docker://python:3.11-slim"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("PullArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestSingularityEngine_SharesSIFDialect(t *testing.T) {
	t.Parallel()

	apptainer := NewApptainerEngine("/imgs", WithBinaryPath("apptainer"))
	singularity := NewSingularityEngine("/imgs", WithBinaryPath("singularity"))

	opts := RunOptions{
		Image:   "venvoy/demo:latest",
		Command: []string{"Rscript", "-e", "1+1"},
		Env:     map[string]string{"R_LIBS": "/opt/r"},
	}
	if diff := cmp.Diff(apptainer.BuildRunArgs(opts), singularity.BuildRunArgs(opts)); diff != "" {
		t.Errorf("singularity argv differs from apptainer:\n%s", diff)
	}
	if singularity.Kind() != KindSingularity {
		t.Errorf("Kind = %q, want singularity", singularity.Kind())
	}
}

func TestParseVolumeMount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    VolumeMount
		wantErr bool
	}{
		{"host and container", "/a:/b", VolumeMount{HostPath: "/a", ContainerPath: "/b"}, false},
		{"read only", "/a:/b:ro", VolumeMount{HostPath: "/a", ContainerPath: "/b", ReadOnly: true}, false},
		{"missing container", "/a", VolumeMount{}, true},
		{"unknown option", "/a:/b:rw", VolumeMount{}, true},
		{"empty host", ":/b", VolumeMount{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseVolumeMount(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVolumeMount(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseVolumeMount(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParseVersionOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Docker version 27.1.1, build 6312585", "27.1.1"},
		{"podman version 5.2.2", "5.2.2"},
		{"apptainer version 1.3.4", "1.3.4"},
		{"singularity-ce version 4.1.0\nmore lines", "4.1.0"},
		{"4.1.0", "4.1.0"},
	}
	for _, tt := range tests {
		if got := parseVersionOutput(tt.in); got != tt.want {
			t.Errorf("parseVersionOutput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

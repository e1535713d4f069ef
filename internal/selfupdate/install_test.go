// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"path/filepath"
	"runtime/debug"
	"testing"
)

func venvoyBuildInfo() (*debug.BuildInfo, bool) {
	return &debug.BuildInfo{Main: debug.Module{Path: "github.com/venvoy/venvoy/cmd/venvoy"}}, true
}

func TestDetectInstallMethod_Paths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		want InstallMethod
	}{
		{
			name: "homebrew cellar",
			path: "/usr/local/Cellar/venvoy/1.0.0/bin/venvoy",
			want: InstallMethodHomebrew,
		},
		{
			name: "homebrew on apple silicon",
			path: "/opt/homebrew/bin/venvoy",
			want: InstallMethodHomebrew,
		},
		{
			name: "linuxbrew",
			path: "/home/linuxbrew/.linuxbrew/bin/venvoy",
			want: InstallMethodHomebrew,
		},
		{
			name: "install script target",
			path: "/home/dev/.local/bin/venvoy",
			want: InstallMethodScript,
		},
		{
			name: "usr local bin",
			path: "/usr/local/bin/venvoy",
			want: InstallMethodScript,
		},
		{
			name: "anywhere else",
			path: "/srv/tools/venvoy",
			want: InstallMethodUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := detectInstallMethod(tt.path, noBuildInfo); got != tt.want {
				t.Errorf("detectInstallMethod(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestDetectInstallMethod_GoInstall(t *testing.T) {
	gopath := t.TempDir()
	t.Setenv("GOPATH", gopath)
	t.Setenv("GOBIN", "")
	exe := filepath.Join(gopath, "bin", "venvoy")

	if got := detectInstallMethod(exe, venvoyBuildInfo); got != InstallMethodGoInstall {
		t.Errorf("detectInstallMethod = %q, want go-install", got)
	}

	// Without module build info the path alone does not prove go install;
	// release binaries copied into GOPATH/bin stay upgradable.
	if got := detectInstallMethod(exe, noBuildInfo); got != InstallMethodUnknown {
		t.Errorf("detectInstallMethod without build info = %q, want unknown", got)
	}
}

func TestDetectInstallMethod_HintWins(t *testing.T) {
	old := installMethodHint
	installMethodHint = string(InstallMethodHomebrew)
	t.Cleanup(func() { installMethodHint = old })

	if got := detectInstallMethod("/srv/tools/venvoy", noBuildInfo); got != InstallMethodHomebrew {
		t.Errorf("detectInstallMethod = %q, want the stamped hint", got)
	}
}

func TestInstallMethod_Managed(t *testing.T) {
	t.Parallel()

	if !InstallMethodHomebrew.Managed() || !InstallMethodGoInstall.Managed() {
		t.Error("package-manager installs must report managed")
	}
	if InstallMethodScript.Managed() || InstallMethodUnknown.Managed() {
		t.Error("self-managed installs must not report managed")
	}
	if InstallMethodScript.Guidance() != "" {
		t.Error("self-managed installs need no guidance")
	}
}

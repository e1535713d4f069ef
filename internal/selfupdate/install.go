// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
)

const (
	// InstallMethodScript marks a binary placed by the install script or by
	// a previous self-upgrade. These venvoy replaces itself.
	InstallMethodScript InstallMethod = "script"
	// InstallMethodHomebrew marks a Homebrew-managed binary.
	InstallMethodHomebrew InstallMethod = "homebrew"
	// InstallMethodGoInstall marks a go-install-managed binary.
	InstallMethodGoInstall InstallMethod = "go-install"
	// InstallMethodUnknown means detection found no signal. Unknown installs
	// are upgraded in place, same as script installs.
	InstallMethodUnknown InstallMethod = "unknown"
)

// installMethodHint is stamped with -ldflags by packaged builds, so a binary
// knows its install method without guessing from paths.
var installMethodHint string

// InstallMethod classifies how the running binary was installed.
type InstallMethod string

// String returns the string representation of the InstallMethod.
func (m InstallMethod) String() string { return string(m) }

// Managed reports whether a package manager owns the binary. Managed
// installs are never replaced in place; the manager would fight back on its
// next sync.
func (m InstallMethod) Managed() bool {
	return m == InstallMethodHomebrew || m == InstallMethodGoInstall
}

// Guidance names the command that upgrades a managed install.
func (m InstallMethod) Guidance() string {
	switch m {
	case InstallMethodHomebrew:
		return "venvoy is managed by Homebrew; upgrade with:\n  brew upgrade venvoy"
	case InstallMethodGoInstall:
		return "venvoy is managed by go install; upgrade with:\n  go install github.com/venvoy/venvoy/cmd/venvoy@latest"
	default:
		return ""
	}
}

// detectInstallMethod classifies an executable path. The ldflags hint wins
// when set; otherwise the path and build info decide.
func detectInstallMethod(exePath string, buildInfo func() (*debug.BuildInfo, bool)) InstallMethod {
	if hint := InstallMethod(installMethodHint); hint != "" {
		return hint
	}

	path := filepath.ToSlash(exePath)
	switch {
	case strings.Contains(path, "/Cellar/"),
		strings.HasPrefix(path, "/opt/homebrew/"),
		strings.HasPrefix(path, "/home/linuxbrew/"):
		return InstallMethodHomebrew
	case underGoBin(path) && builtFromModule(buildInfo):
		return InstallMethodGoInstall
	case strings.HasSuffix(filepath.Dir(path), "/.local/bin"),
		strings.HasPrefix(path, "/usr/local/bin/"):
		return InstallMethodScript
	default:
		return InstallMethodUnknown
	}
}

// underGoBin reports whether path sits in the go-install target directory.
func underGoBin(path string) bool {
	if gobin := os.Getenv("GOBIN"); gobin != "" && filepath.Dir(path) == filepath.ToSlash(gobin) {
		return true
	}
	gopath := os.Getenv("GOPATH")
	if gopath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		gopath = filepath.Join(home, "go")
	}
	return filepath.Dir(path) == filepath.ToSlash(filepath.Join(gopath, "bin"))
}

// builtFromModule reports whether the binary's build info names the venvoy
// module, which go install records and the release pipeline does not.
func builtFromModule(buildInfo func() (*debug.BuildInfo, bool)) bool {
	info, ok := buildInfo()
	return ok && strings.HasPrefix(info.Main.Path, "github.com/venvoy/venvoy")
}

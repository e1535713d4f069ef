// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	hostos "github.com/venvoy/venvoy/pkg/platform"
)

// PodmanEngine implements the Engine interface using the Podman CLI.
type PodmanEngine struct {
	*daemonEngine
}

var _ Engine = (*PodmanEngine)(nil)

// NewPodmanEngine creates a new Podman engine.
// On Linux with SELinux enforcing, volume mounts are labeled with :z so the
// container can read bind-mounted environment directories.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	allOpts := append([]BaseCLIEngineOption{WithVolumeFormatter(addSELinuxLabel)}, opts...)
	return &PodmanEngine{
		daemonEngine: newDaemonEngine(KindPodman, allOpts...),
	}
}

// Available checks that the podman binary exists and answers its version query.
// Podman is daemonless, so a working CLI is a working runtime.
func (e *PodmanEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	cmd := e.CreateCommand(context.Background(), "version", "--format", "{{.Version}}")
	return cmd.Run() == nil
}

// Version returns the Podman version.
func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommand(ctx, "version", "--format", "{{.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get podman version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// isSELinuxEnabled checks /sys/fs/selinux/enforce for SELinux status.
func isSELinuxEnabled() bool {
	data, err := os.ReadFile("/sys/fs/selinux/enforce")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// addSELinuxLabel appends the z relabel option on SELinux-enforcing Linux.
// Mount options are comma-joined in a single suffix ("host:ctr:ro,z").
func addSELinuxLabel(v VolumeMount) string {
	if runtime.GOOS != hostos.Linux || !isSELinuxEnabled() {
		return v.String()
	}
	opts := []string{"z"}
	if v.ReadOnly {
		opts = append([]string{"ro"}, opts...)
	}
	return v.HostPath + ":" + v.ContainerPath + ":" + strings.Join(opts, ",")
}

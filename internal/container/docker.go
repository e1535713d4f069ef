// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"strings"
)

// DockerEngine implements the Engine interface using the Docker CLI.
type DockerEngine struct {
	*daemonEngine
}

var _ Engine = (*DockerEngine)(nil)

// NewDockerEngine creates a new Docker engine.
func NewDockerEngine(opts ...BaseCLIEngineOption) *DockerEngine {
	return &DockerEngine{
		daemonEngine: newDaemonEngine(KindDocker, opts...),
	}
}

// Available checks that the docker binary exists and the daemon answers.
// A CLI without a reachable daemon is not a usable runtime.
func (e *DockerEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	cmd := e.CreateCommand(context.Background(), "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

// Version returns the Docker server version.
func (e *DockerEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommand(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get docker version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

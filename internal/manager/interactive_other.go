// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package manager

import (
	"context"

	"github.com/venvoy/venvoy/internal/container"
	"github.com/venvoy/venvoy/pkg/types"
)

// runInteractive falls back to the runtime's own TTY handling where no PTY
// support is available.
func runInteractive(ctx context.Context, engine container.Engine, opts container.RunOptions) (types.ExitCode, error) {
	res, err := engine.Run(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return types.ExitInterrupted, err
		}
		return types.ExitFailure, err
	}
	return res.ExitCode, res.Error
}

// SPDX-License-Identifier: MPL-2.0

//go:build unix

package manager

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/venvoy/venvoy/internal/container"
	"github.com/venvoy/venvoy/pkg/types"
)

// runInteractive attaches a container session to the caller's terminal
// through a pseudo-terminal. The host terminal goes raw for the duration so
// control sequences reach the container shell, and window resizes are
// propagated via SIGWINCH.
func runInteractive(ctx context.Context, engine container.Engine, opts container.RunOptions) (types.ExitCode, error) {
	args := engine.BuildRunArgs(opts)
	cmd := exec.CommandContext(ctx, engine.BinaryPath(), args...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return types.ExitFailure, err
	}
	defer ptmx.Close()

	stdin, stdinIsFile := opts.Stdin.(*os.File)
	if stdinIsFile {
		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				_ = pty.InheritSize(stdin, ptmx)
			}
		}()
		winch <- syscall.SIGWINCH // initial size

		oldState, err := term.MakeRaw(int(stdin.Fd()))
		if err == nil {
			defer term.Restore(int(stdin.Fd()), oldState)
		}
		go func() { _, _ = io.Copy(ptmx, stdin) }()
	} else if opts.Stdin != nil {
		go func() { _, _ = io.Copy(ptmx, opts.Stdin) }()
	}

	// Reading until the PTY closes is the session's lifetime; the copy error
	// on close is expected and carries no information.
	_, _ = io.Copy(opts.Stdout, ptmx)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return types.ExitInterrupted, ctx.Err()
		}
		if exitErr, ok := errors.AsType[*exec.ExitError](err); ok {
			return types.ExitCode(exitErr.ExitCode()), nil
		}
		return types.ExitFailure, err
	}
	return types.ExitSuccess, nil
}

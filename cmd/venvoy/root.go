// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/internal/archive"
	"github.com/venvoy/venvoy/internal/container"
	"github.com/venvoy/venvoy/internal/issue"
	"github.com/venvoy/venvoy/internal/store"
	"github.com/venvoy/venvoy/pkg/types"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"

	// verbose enables verbose output
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "venvoy",
		Short: "Portable container-backed environments for data science",
		Long: TitleStyle.Render("venvoy") + SubtitleStyle.Render(" - portable container-backed environments") + `

venvoy manages reproducible Python and R environments that run the same
on a laptop and on an HPC cluster. Environments are backed by whatever
container runtime is available: Docker, Podman, Apptainer, or
Singularity, picked automatically for the machine you are on.

` + SubtitleStyle.Render("Quick Start:") + `
  1. venvoy init analysis           Create a Python environment
  2. venvoy run analysis            Start a session in it
  3. venvoy freeze analysis         Pin the full installed package set
  4. venvoy export analysis         Bundle it for another machine

` + SubtitleStyle.Render("Examples:") + `
  venvoy init stats --track r       Create an R environment
  venvoy run analysis -- python main.py
  venvoy export analysis --format image
  venvoy runtime-info               Show detected container runtimes`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/venvoy/config.cue)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(freezeCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(runtimeInfoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(upgradeCmd)
}

// Execute runs the root command and maps failures to process exit codes:
// 3 when no container runtime is usable, 130 on interruption, 1 otherwise.
func Execute() {
	err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(Version),
		fang.WithNotifySignal(os.Interrupt),
	)
	if err == nil {
		return
	}
	renderIssueFor(err)

	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr):
		os.Exit(int(exitErr.Code))
	case errors.Is(err, container.ErrNoRuntimeAvailable):
		os.Exit(int(types.ExitNoRuntime))
	case errors.Is(err, context.Canceled):
		os.Exit(int(types.ExitInterrupted))
	default:
		os.Exit(int(types.ExitFailure))
	}
}

// renderIssueFor prints the troubleshooting guide matching the failure, if
// one exists. Guides are advisory output on stderr; rendering failures are
// swallowed so they never mask the original error.
func renderIssueFor(err error) {
	id, ok := issueIDFor(err)
	if !ok {
		return
	}
	rendered, rerr := issue.Get(id).Render("dark")
	if rerr != nil {
		return
	}
	fmt.Fprint(os.Stderr, rendered)
}

func issueIDFor(err error) (issue.Id, bool) {
	switch {
	case errors.Is(err, container.ErrNoRuntimeAvailable):
		return issue.NoRuntimeAvailableId, true
	case errors.Is(err, store.ErrAlreadyExists):
		return issue.EnvironmentExistsId, true
	case errors.Is(err, store.ErrNotFound):
		return issue.EnvironmentNotFoundId, true
	case errors.Is(err, store.ErrEnvironmentBusy):
		return issue.EnvironmentBusyId, true
	case errors.Is(err, archive.ErrArchitectureMismatch):
		return issue.ArchitectureMismatchId, true
	case errors.Is(err, archive.ErrInvalidArchive), errors.Is(err, archive.ErrInvalidFormat):
		return issue.ArchiveInvalidId, true
	case errors.Is(err, container.ErrRuntimeExecution):
		return issue.ImageBuildFailedId, true
	case errors.Is(err, fs.ErrPermission):
		return issue.PermissionDeniedId, true
	default:
		return 0, false
	}
}

// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/internal/selfupdate"
	"github.com/venvoy/venvoy/pkg/types"
)

// upgradeParams carries the upgrade command's dependencies so runUpgrade can
// be tested without Cobra or the GitHub API.
type upgradeParams struct {
	stdin   io.Reader
	stdout  io.Writer
	updater *selfupdate.Updater
	target  string // requested version, empty for latest
	check   bool   // report availability without installing
	yes     bool   // skip the confirmation prompt
}

var (
	upgradeCheck bool
	upgradeYes   bool

	upgradeCmd = &cobra.Command{
		Use:   "upgrade [version]",
		Short: "Upgrade venvoy to the latest release",
		Long: `Upgrade venvoy to the latest stable release, or to a named version.

The new binary is downloaded from GitHub releases, verified against the
release's SHA256SUMS, and swapped in atomically. Installs managed by
Homebrew or go install are left to their package manager.`,
		Example: `  # Upgrade to the latest stable release
  venvoy upgrade

  # See what an upgrade would do
  venvoy upgrade --check

  # Pin a specific version
  venvoy upgrade v1.2.0 --yes`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			var target string
			if len(args) > 0 {
				target = args[0]
			}

			// A token lifts the API rate budget from 60 to 5000 per hour.
			opts := []selfupdate.SourceOption{
				selfupdate.WithUserAgent("venvoy/" + Version),
			}
			if token := os.Getenv("GITHUB_TOKEN"); token != "" {
				opts = append(opts, selfupdate.WithToken(token))
			}
			source := selfupdate.NewGitHubSource(opts...)

			p := upgradeParams{
				stdin:   cmd.InOrStdin(),
				stdout:  cmd.OutOrStdout(),
				updater: selfupdate.NewUpdater(source, Version),
				target:  target,
				check:   upgradeCheck,
				yes:     upgradeYes,
			}
			if err := runUpgrade(cmd.Context(), p); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), formatUpgradeError(err))
				return &ExitError{Code: classifyUpgradeExitCode(err), Err: err}
			}
			return nil
		},
	}
)

func init() {
	upgradeCmd.Flags().BoolVar(&upgradeCheck, "check", false, "check for an available upgrade without installing")
	upgradeCmd.Flags().BoolVarP(&upgradeYes, "yes", "y", false, "skip the confirmation prompt")
}

// runUpgrade checks for an applicable release, then either reports, asks,
// or applies, depending on the plan and flags.
func runUpgrade(ctx context.Context, p upgradeParams) error {
	plan, err := p.updater.Check(ctx, p.target)
	if err != nil {
		return fmt.Errorf("upgrade check failed: %w", err)
	}

	if !plan.Ready {
		// Managed install, up to date, or ahead of the target; the plan's
		// message says which.
		fmt.Fprintln(p.stdout, plan.Message)
		return nil
	}

	fmt.Fprintf(p.stdout, "Current version: %s\n", plan.Current)
	fmt.Fprintf(p.stdout, "Target version:  %s\n", plan.Target.Tag)

	if p.check {
		fmt.Fprintf(p.stdout, "\n%s\nRun 'venvoy upgrade' to install.\n", plan.Message)
		return nil
	}

	if !p.yes && !confirm(p.stdin, p.stdout, fmt.Sprintf("Upgrade venvoy to %s?", plan.Target.Tag)) {
		return nil
	}

	fmt.Fprintf(p.stdout, "\nDownloading %s...\n", plan.Target.Tag)
	if err := p.updater.Apply(ctx, plan.Target); err != nil {
		return fmt.Errorf("upgrade to %s failed: %w", plan.Target.Tag, err)
	}
	fmt.Fprintln(p.stdout, SuccessStyle.Render("✓")+fmt.Sprintf(" upgraded to %s", plan.Target.Tag))
	return nil
}

// confirm asks a yes/no question and defaults to no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// classifyUpgradeExitCode separates user-correctable failures (exit 1) from
// unexpected or transient ones (exit 2).
func classifyUpgradeExitCode(err error) types.ExitCode {
	switch {
	case errors.Is(err, os.ErrPermission),
		errors.Is(err, selfupdate.ErrReleaseNotFound),
		errors.Is(err, selfupdate.ErrInvalidVersion):
		return types.ExitFailure
	default:
		return types.ExitCode(2)
	}
}

// formatUpgradeError turns an upgrade failure into a message with a concrete
// next step.
func formatUpgradeError(err error) string {
	var rateLimit *selfupdate.RateLimitError
	if errors.As(err, &rateLimit) {
		return fmt.Sprintf("%s\n\nSet a GitHub token for a higher rate limit:\n  export GITHUB_TOKEN=ghp_...\nThen retry: venvoy upgrade", rateLimit.Error())
	}

	var mismatch *selfupdate.ChecksumMismatchError
	if errors.As(err, &mismatch) {
		return fmt.Sprintf("checksum verification failed for %s\n\nExpected: %s\nGot:      %s\n\nThe download may be corrupted; try again. If this persists, report it at\nhttps://github.com/venvoy/venvoy/issues", mismatch.Asset, mismatch.Want, mismatch.Got)
	}

	if errors.Is(err, os.ErrPermission) {
		return "insufficient permissions to replace the binary\n\nRetry with elevated privileges:\n  sudo venvoy upgrade"
	}

	return fmt.Sprintf("%s\n\nCheck your network connection and try again.\nIf behind a firewall, set GITHUB_TOKEN for authenticated access.", err.Error())
}

// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/internal/container"
	"github.com/venvoy/venvoy/internal/manager"
	"github.com/venvoy/venvoy/pkg/types"
)

var (
	runMounts []string
	runEnv    []string
	runPlain  bool

	runCmd = &cobra.Command{
		Use:   "run <name> [-- command...]",
		Short: "Run a session in an environment",
		Long: `Run a session in an environment. Without a command this starts the
track's interactive interpreter attached to your terminal; with a
command after --, it runs that command and exits with its exit code.

The home directory is bind-mounted by default; add more mounts with
--mount host:container[:ro].`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			mounts := make([]container.VolumeMount, 0, len(runMounts))
			for _, spec := range runMounts {
				m, err := container.ParseVolumeMount(spec)
				if err != nil {
					return err
				}
				mounts = append(mounts, m)
			}

			env := make(map[string]string, len(runEnv))
			for _, kv := range runEnv {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
				}
				env[k] = v
			}

			command := args[1:]
			code, err := app.Manager.Run(cmd.Context(), types.EnvironmentName(args[0]), manager.SessionOptions{
				Command:     command,
				Mounts:      mounts,
				Env:         env,
				Interactive: !runPlain && len(command) == 0,
			})
			if err != nil {
				return &ExitError{Code: code, Err: err}
			}
			if code != types.ExitSuccess {
				// The containerized command failed; forward its code silently.
				return &ExitError{Code: code}
			}
			return nil
		},
	}
)

func init() {
	runCmd.Flags().StringArrayVar(&runMounts, "mount", nil, "bind mount host:container[:ro] (repeatable)")
	runCmd.Flags().StringArrayVar(&runEnv, "env", nil, "environment variable KEY=VALUE (repeatable)")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "never attach a terminal, even without a command")
}

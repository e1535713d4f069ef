// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/internal/store"
)

var (
	importForce bool

	importCmd = &cobra.Command{
		Use:   "import <bundle>",
		Short: "Import an environment from a bundle",
		Long: `Import an environment from a bundle produced by 'venvoy export'.
Recipe and wheelhouse bundles leave the environment stale until the
next run or rebuild; image bundles are ready immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			env, err := app.Codec.Import(cmd.Context(), args[0], importForce)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" imported "+CmdStyle.Render(string(env.Name)))
			state, err := app.Manager.State(env.Name)
			if err == nil && state == store.StateStale {
				fmt.Fprintln(cmd.OutOrStdout(), WarningStyle.Render("!")+" image will be built on first run, or now with "+
					CmdStyle.Render("venvoy rebuild "+string(env.Name)))
			}
			return nil
		},
	}
)

func init() {
	importCmd.Flags().BoolVar(&importForce, "force", false, "replace an existing environment with the same name")
}

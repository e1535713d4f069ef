// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/pkg/types"
)

var (
	rebuildNoCache bool

	rebuildCmd = &cobra.Command{
		Use:   "rebuild <name>",
		Short: "Rebuild the environment image from its recipe",
		Long: `Rebuild the environment image from its stored recipe and declared
manifest. Use this after editing the manifest or importing a recipe
bundle; it clears the stale state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			env, err := app.Manager.Rebuild(cmd.Context(), types.EnvironmentName(args[0]), rebuildNoCache)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" rebuilt "+CmdStyle.Render(env.ImageRef))
			return nil
		},
	}
)

func init() {
	rebuildCmd.Flags().BoolVar(&rebuildNoCache, "no-cache", false, "rebuild every layer without the build cache")
}

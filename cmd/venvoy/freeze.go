// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/pkg/types"
)

var freezeIncludeDev bool

var freezeCmd = &cobra.Command{
	Use:   "freeze <name>",
	Short: "Pin the full installed package set",
	Long: `Resolve every package installed in the environment image, write the
result as the declared manifest, and record a snapshot. After a freeze
the environment rebuilds identically on any machine.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}

		snap, err := app.Manager.Freeze(cmd.Context(), types.EnvironmentName(args[0]), freezeIncludeDev)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+
			fmt.Sprintf(" froze %d packages (snapshot %s)", len(snap.Packages), snap.ID))
		return nil
	},
}

func init() {
	freezeCmd.Flags().BoolVar(&freezeIncludeDev, "include-dev", false,
		"keep editable installs in the pinned manifest")
}

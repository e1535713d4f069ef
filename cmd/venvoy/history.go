// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show the snapshot history of an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}

		snaps, err := app.Manager.History(types.EnvironmentName(args[0]))
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), SubtitleStyle.Render("no snapshots yet"))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TAKEN\tTRIGGER\tPACKAGES\tID")
		for _, snap := range snaps {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				snap.TakenAt.Local().Format("2006-01-02 15:04:05"),
				snap.Trigger, len(snap.Packages), snap.ID)
		}
		return w.Flush()
	},
}

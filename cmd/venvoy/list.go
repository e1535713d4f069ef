// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List environments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}

		envs, err := app.Manager.List()
		if err != nil {
			return err
		}
		if len(envs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), SubtitleStyle.Render("no environments yet; create one with 'venvoy init <name>'"))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTRACK\tVERSION\tARCH\tSTATE\tUPDATED")
		for _, env := range envs {
			state, err := app.Manager.State(env.Name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				env.Name, env.Track, env.TrackVersion, env.Architecture,
				renderState(state), env.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func renderState(state store.EnvironmentState) string {
	switch state {
	case store.StateReady:
		return SuccessStyle.Render(string(state))
	case store.StateStale:
		return WarningStyle.Render(string(state))
	default:
		return string(state)
	}
}

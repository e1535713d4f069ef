// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/pkg/types"
)

var (
	initTrack   string
	initVersion string
	initForce   bool

	initCmd = &cobra.Command{
		Use:   "init <name>",
		Short: "Create a new environment",
		Long: `Create a new environment: a store directory with a generated build
recipe and a freshly built container image.

The track picks the interpreter family (python or r); the version picks
its release. Defaults are python 3.11 and r 4.4.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			env, err := app.Manager.Init(cmd.Context(),
				types.EnvironmentName(args[0]), types.Track(initTrack), initVersion, initForce)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" environment "+CmdStyle.Render(string(env.Name))+
				fmt.Sprintf(" created (%s %s, %s)", env.Track, env.TrackVersion, env.Architecture))
			return nil
		},
	}
)

func init() {
	initCmd.Flags().StringVar(&initTrack, "track", string(types.TrackPython), "interpreter track (python or r)")
	initCmd.Flags().StringVar(&initVersion, "version", "", "track version (default 3.11 for python, 4.4 for r)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "destroy and recreate an existing environment")
}

// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/pkg/types"
)

var (
	removeYes        bool
	removeKeepImages bool

	removeCmd = &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete an environment",
		Long: `Delete an environment: its store directory, snapshot history, and,
unless --keep-images is set, its built container image.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := types.EnvironmentName(args[0])

			if !removeYes {
				fmt.Fprintf(cmd.OutOrStdout(), "remove environment %s and its history? [y/N] ", CmdStyle.Render(string(name)))
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.Manager.Remove(cmd.Context(), name, !removeKeepImages); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" removed "+CmdStyle.Render(string(name)))
			return nil
		},
	}
)

func init() {
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "skip the confirmation prompt")
	removeCmd.Flags().BoolVar(&removeKeepImages, "keep-images", false, "keep the built container image")
}

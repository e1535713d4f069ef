// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/venvoy/venvoy/internal/archive"
	"github.com/venvoy/venvoy/pkg/types"
)

var (
	exportFormat string
	exportOutput string

	exportCmd = &cobra.Command{
		Use:   "export <name>",
		Short: "Export an environment as a portable bundle",
		Long: `Export an environment as a single-file bundle.

Formats:
  recipe      recipe and pinned manifest; rebuilt on import (portable)
  image       full container image; importable on the same architecture only
  wheelhouse  recipe plus pre-downloaded wheels for offline installs (python)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			path, err := app.Codec.Export(cmd.Context(), types.EnvironmentName(args[0]), archive.Format(exportFormat), exportOutput)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" exported "+CmdStyle.Render(path))
			return nil
		},
	}
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", string(archive.FormatRecipe), "bundle format (recipe, image, wheelhouse)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output path (default <name>-<format> in the current directory)")
}

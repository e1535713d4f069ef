// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runtimeInfoCmd = &cobra.Command{
	Use:   "runtime-info",
	Short: "Show detected container runtimes and the selection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}

		report := app.Manager.Report(cmd.Context())
		out := cmd.OutOrStdout()

		context := "workstation"
		if report.ExecContext.IsCluster {
			context = "cluster"
		}
		fmt.Fprintln(out, TitleStyle.Render("Execution context: ")+context)
		if len(report.ExecContext.SchedulerHints) > 0 {
			fmt.Fprintln(out, SubtitleStyle.Render("  scheduler hints: "+strings.Join(report.ExecContext.SchedulerHints, ", ")))
		}
		if report.ExecContext.HostnamePattern != "" {
			fmt.Fprintln(out, SubtitleStyle.Render("  hostname pattern: "+report.ExecContext.HostnamePattern))
		}
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUNTIME\tVERSION\tSTATUS")
		for _, rt := range report.Runtimes {
			status := SuccessStyle.Render("healthy")
			if !rt.Healthy {
				status = ErrorStyle.Render("unavailable")
				if rt.Detail != "" {
					status += " (" + rt.Detail + ")"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", rt.Kind, rt.Version, status)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintln(out)
		if report.SelectErr != nil {
			fmt.Fprintln(out, ErrorStyle.Render("✗")+" no usable runtime: "+report.SelectErr.Error())
			return nil
		}
		fmt.Fprintln(out, SuccessStyle.Render("✓")+" selected "+CmdStyle.Render(string(report.Selected)))
		return nil
	},
}

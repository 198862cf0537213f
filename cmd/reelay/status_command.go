package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().health(cmd.Context())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(status.Checks))
			for name := range status.Checks {
				names = append(names, name)
			}
			sort.Strings(names)

			state := "ready"
			if !status.Ready {
				state = "not ready"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daemon: %s\n", state)

			checks := newTable(column{title: "Check"}, column{title: "Result"})
			for _, name := range names {
				checks.addRow(name, status.Checks[name])
			}
			if !checks.empty() {
				fmt.Fprintln(cmd.OutOrStdout(), checks.render())
			}

			// Journal step counts are informational; skip silently if the
			// daemon cannot report them.
			if stats, err := ctx.client().stats(cmd.Context()); err == nil && len(stats) > 0 {
				statuses := make([]string, 0, len(stats))
				for name := range stats {
					statuses = append(statuses, name)
				}
				sort.Strings(statuses)

				steps := newTable(column{title: "Journal Steps"}, column{title: "Count", right: true})
				for _, name := range statuses {
					steps.addRow(name, fmt.Sprintf("%d", stats[name]))
				}
				fmt.Fprintln(cmd.OutOrStdout(), steps.render())
			}
			return nil
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs [key]",
		Short: "List recorded job outcomes, or show one by request key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()

			if len(args) == 1 {
				out, err := client.job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(out)
			}

			jobs, err := client.jobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recorded jobs")
				return nil
			}

			tbl := newTable(
				column{title: "Key"},
				column{title: "Status"},
				column{title: "Error"},
				column{title: "Detail"},
			)
			for _, job := range jobs {
				detail := job.OutputDescriptor
				if detail == "" {
					detail = job.Message
				}
				tbl.addRow(job.RequestKey, string(job.Status), string(job.ErrorKind), detail)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tbl.render())
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of outcomes to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

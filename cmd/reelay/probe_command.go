package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe <source>",
		Short: "Inspect a media source through the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := ctx.client().probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(info)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "format: %s duration: %s\n",
				info.Format.FormatName, info.InputDuration())
			tbl := newTable(
				column{title: "#", right: true},
				column{title: "Type"},
				column{title: "Codec"},
				column{title: "Detail"},
			)
			for _, stream := range info.Streams {
				detail := ""
				switch stream.CodecType {
				case "video":
					detail = fmt.Sprintf("%dx%d", stream.Width, stream.Height)
				case "audio":
					detail = fmt.Sprintf("%dch %s Hz", stream.Channels, stream.SampleRate)
				}
				tbl.addRow(fmt.Sprintf("%d", stream.Index), stream.CodecType, stream.CodecName, detail)
			}
			if !tbl.empty() {
				fmt.Fprintln(cmd.OutOrStdout(), tbl.render())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/mobu/internal/flock"
	"github.com/wesleyorama2/mobu/internal/output"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize every running flock",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusLines, _ := cmd.Flags().GetBool("status-lines")

		f, format, err := formatter(cmd)
		if err != nil {
			return err
		}
		var summaries []flock.Summary
		if err := getJSON(cmd.Context(), "/mobu/summary", &summaries); err != nil {
			return err
		}

		switch {
		case format != output.FormatTable:
			return output.Encode(f.Out, format, summaries)
		case statusLines:
			f.StatusLines(summaries)
			return nil
		default:
			return f.Summaries(summaries)
		}
	},
}

func init() {
	summaryCmd.Flags().Bool("status-lines", false, "print the status digest lines instead of a table")
	RootCmd.AddCommand(summaryCmd)
}

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"covtrace.dev/pkg/covtrace/internal/adapter"
)

// reportCmd represents the report command.
var reportCmd = newReportCmd()

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the coverage summary of the last run",
		Long:  "Print per-file line coverage from the summary in the output directory.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := adapter.ReadSummary(appFs, viper.GetString(outputFlagName))
			if err != nil {
				return err
			}

			return newUI(cmd, true).DisplayReport(cmd.Context(), report)
		},
	}
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

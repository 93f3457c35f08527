package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"covtrace.dev/pkg/covtrace/internal/adapter"
	"covtrace.dev/pkg/covtrace/internal/controller"
)

// viewCmd represents the view command.
var viewCmd = newViewCmd()

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Browse previously collected coverage",
		Long: `Browse files and lines of the last run interactively. Without a terminal
the report is printed instead.`,
		Args: cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := adapter.ReadSummary(appFs, viper.GetString(outputFlagName))
			if err != nil {
				return err
			}

			ui := newUI(cmd, true)
			if browser, ok := ui.(controller.Browser); ok {
				return browser.Browse(cmd.Context(), report)
			}

			return ui.DisplayReport(cmd.Context(), report)
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(viewCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"covtrace.dev/pkg/covtrace/internal/adapter"
	"covtrace.dev/pkg/covtrace/internal/domain"
	m "covtrace.dev/pkg/covtrace/internal/model"
)

// listCmd represents the list command.
var listCmd = newListCmd()

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [executable]",
		Short: "List tracing backends",
		Long: `List the available tracing backends. Given an executable, list the
backends that accept it in the order a run would try them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := domain.NewRegistry()

			cfg := adapter.BackendConfig{Fs: appFs, DataDir: viper.GetString(dataDirConfigKey)}
			if err := adapter.RegisterBackends(registry, cfg); err != nil {
				return err
			}

			if len(args) == 0 {
				for _, name := range registry.Names() {
					cmd.Println(name)
				}

				return nil
			}

			store := adapter.NewCoverageStore(appFs, viper.GetString(outputFlagName))

			header, err := store.Header(cmd.Context(), m.Path(args[0]), domain.HeaderSize)
			if err != nil {
				return fmt.Errorf("read executable: %w", err)
			}

			candidates := registry.Candidates(m.Path(args[0]), header)
			if len(candidates) == 0 {
				return fmt.Errorf("%s: %w", args[0], domain.ErrNoBackend)
			}

			for _, c := range candidates {
				cmd.Printf("%s\t%d\n", c.Name, c.MatchFile(m.Path(args[0]), header))
			}

			return nil
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(listCmd)
}

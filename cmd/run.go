package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"covtrace.dev/pkg/covtrace/internal/adapter"
	"covtrace.dev/pkg/covtrace/internal/domain"
	m "covtrace.dev/pkg/covtrace/internal/model"
)

const runLongDescription = `Run an executable under coverage and update the database for it.

Arguments after the executable are passed to it unchanged; use -- to keep
covtrace from reading them as its own flags:

  covtrace run -o out -- ./app --port 8080

The backend is picked by scoring the executable unless --backend is given.
covtrace exits with the target's exit status.`

// runCmd represents the run command.
var runCmd = newRunCmd()

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] -- <executable> [args...]",
		Short: "Run an executable and collect line coverage",
		Long:  runLongDescription,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			exe, err := resolveExecutable(args[0])
			if err != nil {
				return err
			}

			filter, err := adapter.NewRegexFilter(
				viper.GetStringSlice(includeConfigKey),
				viper.GetStringSlice(excludeConfigKey),
			)
			if err != nil {
				return err
			}

			output := viper.GetString(outputFlagName)

			session, err := newSession(sessionConfig{
				output: output,
				filter: filter.Filter(),
				backends: adapter.BackendConfig{
					Fs:            appFs,
					Args:          args[1:],
					DataDir:       viper.GetString(dataDirConfigKey),
					HelperCommand: strings.Fields(viper.GetString(helperConfigKey)),
					Stdin:         cmd.InOrStdin(),
					Stdout:        cmd.OutOrStdout(),
					Stderr:        cmd.ErrOrStderr(),
				},
			})
			if err != nil {
				return err
			}

			result, err := session.Run(ctx, domain.RunArgs{
				Executable:    m.Path(exe),
				Backend:       viper.GetString(backendConfigKey),
				FlushInterval: viper.GetDuration(flushIntervalConfigKey),
			})
			if err != nil && result.Backend == "" {
				return err
			}

			if err != nil {
				// The target ran; report what was collected before failing.
				cmd.PrintErrln("Warning:", err)
			}

			if err := newUI(cmd, false).DisplayRunResult(ctx, result); err != nil {
				return err
			}

			if result.Errored {
				return fmt.Errorf("target %s did not exit normally", exe)
			}

			if result.ExitStatus != 0 {
				return &ExitStatusError{Code: result.ExitStatus}
			}

			return nil
		},
	}

	configureRunFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func configureRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(backendFlagName, "b", "", "force a backend by name (see covtrace list)")
	bindFlagToConfig(cmd.Flags().Lookup(backendFlagName), backendConfigKey)

	cmd.Flags().Duration(flushIntervalFlagName, defaultFlushInterval, "how often coverage is written while the target runs")
	bindFlagToConfig(cmd.Flags().Lookup(flushIntervalFlagName), flushIntervalConfigKey)

	cmd.Flags().String(helperFlagName, "", "command that runs scripts for the helper backend")
	bindFlagToConfig(cmd.Flags().Lookup(helperFlagName), helperConfigKey)

	cmd.Flags().String(dataDirFlagName, "", "directory instrumented binaries write snapshots to")
	bindFlagToConfig(cmd.Flags().Lookup(dataDirFlagName), dataDirConfigKey)
}

// resolveExecutable finds bare names on PATH and makes the result absolute.
func resolveExecutable(name string) (string, error) {
	path := name
	if !strings.ContainsRune(name, filepath.Separator) {
		found, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("find %s: %w", name, err)
		}

		path = found
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if _, err := appFs.Stat(abs); err != nil {
		return "", err
	}

	return abs, nil
}

// Package cmd provides the root command and CLI setup for covtrace.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"covtrace.dev/pkg/covtrace/internal/adapter"
	"covtrace.dev/pkg/covtrace/internal/controller"
	"covtrace.dev/pkg/covtrace/internal/domain"
)

// appFs is the filesystem reports, databases and snapshots live on.
var appFs afero.Fs = afero.NewOsFs()

// newSession builds the session for a run. Tests replace it.
var newSession = defaultSession

// newUI picks the output for a command. Tests replace it.
var newUI = controller.NewUI

var (
	verboseFlag bool
	logFileFlag string
)

// sessionConfig is everything a session needs that comes from flags and config.
type sessionConfig struct {
	output   string
	filter   domain.Filter
	backends adapter.BackendConfig
}

func defaultSession(cfg sessionConfig) (domain.Session, error) {
	registry := domain.NewRegistry()
	if err := adapter.RegisterBackends(registry, cfg.backends); err != nil {
		return nil, err
	}

	return domain.NewSession(
		registry,
		adapter.NewCoverageStore(appFs, cfg.output),
		cfg.filter,
		adapter.NewLcovWriter(appFs, cfg.output),
		adapter.NewSummaryWriter(appFs, cfg.output),
	), nil
}

const rootLongDescription = `covtrace measures which source lines of a program execute.

It runs the program under a tracing backend, maps every executed address
back to file and line, and keeps a per-binary database so coverage
accumulates across runs. Results are written as lcov and YAML to the
output directory.`

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "covtrace",
		Short:         "Line coverage for compiled and interpreted programs",
		Long:          rootLongDescription,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger(logFileFlag, verboseFlag || viper.GetBool(logVerboseKey))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	configureRootFlags(cmd)

	return cmd
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP(outputFlagName, "o", defaultOutputDir, "output directory for coverage databases and reports")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(outputFlagName), outputFlagName)

	cmd.PersistentFlags().StringArrayP(includeFlagName, "i", nil, "only measure files matching regex (can be repeated)")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(includeFlagName), includeConfigKey)

	cmd.PersistentFlags().StringArrayP(excludeFlagName, "x", nil, "exclude files matching regex (can be repeated)")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(excludeFlagName), excludeConfigKey)

	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", false, "log at debug level")
	cmd.PersistentFlags().StringVar(&logFileFlag, logFileFlagName, "", "log file (default from log.filename)")
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// ExitStatusError carries the target's exit status out of the run command.
type ExitStatusError struct {
	Code int
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("target exited with status %d", e.Code)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if code := exitCode(rootCmd, rootCmd.Execute()); code != 0 {
		os.Exit(code)
	}
}

// exitCode reports err on cmd's error stream and maps it to a process status.
// A failing target passes its own status through.
func exitCode(cmd *cobra.Command, err error) int {
	if err == nil {
		return 0
	}

	var status *ExitStatusError
	if errors.As(err, &status) {
		return status.Code
	}

	cmd.PrintErrln("Error:", err)

	return 1
}

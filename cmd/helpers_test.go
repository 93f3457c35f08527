package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"covtrace.dev/pkg/covtrace/internal/domain"
)

// withSession makes run use s and records the configuration it was built with.
func withSession(t *testing.T, s domain.Session) *sessionConfig {
	t.Helper()

	captured := &sessionConfig{}
	original := newSession

	newSession = func(cfg sessionConfig) (domain.Session, error) {
		*captured = cfg
		return s, nil
	}

	t.Cleanup(func() { newSession = original })

	return captured
}

// withMemFs swaps the command filesystem for an in-memory one.
func withMemFs(t *testing.T) afero.Fs {
	t.Helper()

	original := appFs
	appFs = afero.NewMemMapFs()

	t.Cleanup(func() { appFs = original })

	return appFs
}

// newTestRoot returns a root command with sub attached and output captured.
func newTestRoot(t *testing.T, sub *cobra.Command) (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	cmd := newRootCmd()
	cmd.AddCommand(sub)

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	return cmd, out, errOut
}

// logArgs keeps test runs from writing a log file into the package directory.
func logArgs(t *testing.T) []string {
	t.Helper()
	return []string{"--" + logFileFlagName, filepath.Join(t.TempDir(), "covtrace.log")}
}

func writeExecutable(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755)) // #nosec G306

	return path
}

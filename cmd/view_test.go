package cmd

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covtrace.dev/pkg/covtrace/internal/controller"
	m "covtrace.dev/pkg/covtrace/internal/model"
)

type browsingUI struct {
	browsed   []m.CoverageReport
	displayed []m.CoverageReport
}

func (b *browsingUI) DisplayRunResult(context.Context, m.RunResult) error { return nil }

func (b *browsingUI) DisplayReport(_ context.Context, report m.CoverageReport) error {
	b.displayed = append(b.displayed, report)
	return nil
}

func (b *browsingUI) Browse(_ context.Context, report m.CoverageReport) error {
	b.browsed = append(b.browsed, report)
	return nil
}

func withUI(t *testing.T, ui controller.UI) {
	t.Helper()

	original := newUI
	newUI = func(*cobra.Command, bool) controller.UI { return ui }

	t.Cleanup(func() { newUI = original })
}

func TestViewCmd_BrowsesWhenSupported(t *testing.T) {
	withMemFs(t)
	writeSummary(t, defaultOutputDir, sampleReport())

	ui := &browsingUI{}
	withUI(t, ui)

	cmd, _, _ := newTestRoot(t, newViewCmd())
	cmd.SetArgs(append(logArgs(t), "view"))

	require.NoError(t, cmd.Execute())
	require.Len(t, ui.browsed, 1)
	assert.Empty(t, ui.displayed)
	assert.Equal(t, sampleReport(), ui.browsed[0])
}

func TestViewCmd_FallsBackToTableWithoutTerminal(t *testing.T) {
	withMemFs(t)
	writeSummary(t, "./reports-dir", sampleReport())

	cmd, out, _ := newTestRoot(t, newViewCmd())
	cmd.SetArgs(append(logArgs(t), "view", "--output", "./reports-dir"))

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "TOTAL FILES 2")
}

func TestViewCmd_RejectsPositionalArgs(t *testing.T) {
	withMemFs(t)

	cmd, _, _ := newTestRoot(t, newViewCmd())
	cmd.SetArgs(append(logArgs(t), "view", "./reports-dir"))

	require.Error(t, cmd.Execute())
}

func TestViewCmd_MissingSummary(t *testing.T) {
	withMemFs(t)

	cmd, _, _ := newTestRoot(t, newViewCmd())
	cmd.SetArgs(append(logArgs(t), "view"))

	require.Error(t, cmd.Execute())
}

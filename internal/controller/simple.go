package controller

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "covtrace.dev/pkg/covtrace/internal/model"
)

// SimpleUI implements UI using cobra Command's output.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// DisplayRunResult prints how the target ended and the covered share.
func (s *SimpleUI) DisplayRunResult(ctx context.Context, result m.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state := fmt.Sprintf("exited with status %d", result.ExitStatus)
	if result.Errored {
		state = "terminated abnormally"
	}

	s.printf("Target %s (backend %s)\n", state, result.Backend)
	s.printf("%s\n", summaryLine(result.Summary))

	return nil
}

// DisplayReport prints a per-file table.
func (s *SimpleUI) DisplayReport(ctx context.Context, report m.CoverageReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(report.Files) == 0 {
		s.printf("No coverage recorded for %s\n", report.Binary)
		return nil
	}

	s.printf("\n%s", renderReportTable(report))

	return nil
}

func renderReportTable(report m.CoverageReport) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Path", "Lines", "Executed", "Coverage"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
	})

	for _, file := range report.Files {
		table.Append([]string{
			file.Path,
			humanize.Comma(int64(file.Summary.Lines)),
			humanize.Comma(int64(file.Summary.ExecutedLines)),
			formatPercent(file.Summary),
		})
	}

	table.SetFooter([]string{
		fmt.Sprintf("Total Files %d", len(report.Files)),
		humanize.Comma(int64(report.Summary.Lines)),
		humanize.Comma(int64(report.Summary.ExecutedLines)),
		formatPercent(report.Summary),
	})

	table.Render()

	return tableBuffer.String()
}

func summaryLine(s m.ExecutionSummary) string {
	return fmt.Sprintf("Covered %s of %s lines (%s)",
		humanize.Comma(int64(s.ExecutedLines)),
		humanize.Comma(int64(s.Lines)),
		formatPercent(s),
	)
}

func formatPercent(s m.ExecutionSummary) string {
	return fmt.Sprintf("%.1f%%", s.Percent())
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

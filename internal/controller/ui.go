// Package controller renders coverage results for the CLI.
package controller

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	m "covtrace.dev/pkg/covtrace/internal/model"
)

// UI displays the outcome of a run and stored reports.
// Implementations can use different output methods (simple text, TUI, etc).
type UI interface {
	DisplayRunResult(ctx context.Context, result m.RunResult) error
	DisplayReport(ctx context.Context, report m.CoverageReport) error
}

// NewUI returns the interactive viewer when asked for one and stdout is a
// terminal, and plain tables otherwise.
func NewUI(cmd *cobra.Command, interactive bool) UI {
	out := cmd.OutOrStdout()

	if interactive && IsTTY(out) {
		return NewTUI(out)
	}

	return NewSimpleUI(cmd)
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Browser is implemented by UIs that can keep a report open for browsing.
type Browser interface {
	Browse(ctx context.Context, report m.CoverageReport) error
}

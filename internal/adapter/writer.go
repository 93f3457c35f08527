package adapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"covtrace.dev/pkg/covtrace/internal/domain"
	m "covtrace.dev/pkg/covtrace/internal/model"
)

const (
	// LcovFile is the name of the lcov tracefile in the output directory.
	LcovFile = "lcov.info"
	// SummaryFile is the name of the YAML summary in the output directory.
	SummaryFile = "summary.yaml"
)

var (
	_ domain.Writer = (*LcovWriter)(nil)
	_ domain.Writer = (*SummaryWriter)(nil)
)

// LcovWriter renders the report as an lcov tracefile.
type LcovWriter struct {
	fs  afero.Fs
	dir string
}

// NewLcovWriter creates a writer that keeps <dir>/lcov.info current.
func NewLcovWriter(fs afero.Fs, dir string) *LcovWriter {
	return &LcovWriter{fs: fs, dir: dir}
}

// Path is the tracefile location.
func (w *LcovWriter) Path() string {
	return filepath.Join(w.dir, LcovFile)
}

// OnStartup creates the output directory.
func (w *LcovWriter) OnStartup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return w.fs.MkdirAll(w.dir, 0o750)
}

// Write replaces the tracefile with the current report.
func (w *LcovWriter) Write(ctx context.Context, report m.CoverageReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return writeFileAtomic(w.fs, w.Path(), RenderLcov(report))
}

// OnStop logs where the tracefile ended up.
func (w *LcovWriter) OnStop(context.Context) error {
	slog.Debug("Wrote lcov tracefile", "path", w.Path())
	return nil
}

// RenderLcov formats report in lcov tracefile syntax.
func RenderLcov(report m.CoverageReport) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "TN:%s\n", report.Binary)

	for _, file := range report.Files {
		fmt.Fprintf(&b, "SF:%s\n", file.Path)

		for _, l := range file.Lines {
			fmt.Fprintf(&b, "DA:%d,%d\n", l.Line, l.Hits)
		}

		fmt.Fprintf(&b, "LF:%d\n", file.Summary.Lines)
		fmt.Fprintf(&b, "LH:%d\n", file.Summary.ExecutedLines)
		b.WriteString("end_of_record\n")
	}

	return b.Bytes()
}

// SummaryWriter keeps a YAML copy of the report for the report and view
// commands.
type SummaryWriter struct {
	fs  afero.Fs
	dir string
}

// NewSummaryWriter creates a writer for <dir>/summary.yaml.
func NewSummaryWriter(fs afero.Fs, dir string) *SummaryWriter {
	return &SummaryWriter{fs: fs, dir: dir}
}

// OnStartup creates the output directory.
func (w *SummaryWriter) OnStartup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return w.fs.MkdirAll(w.dir, 0o750)
}

func (w *SummaryWriter) Write(ctx context.Context, report m.CoverageReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	return writeFileAtomic(w.fs, filepath.Join(w.dir, SummaryFile), data)
}

func (w *SummaryWriter) OnStop(context.Context) error {
	return nil
}

// ReadSummary loads the report written by SummaryWriter.
func ReadSummary(fs afero.Fs, dir string) (m.CoverageReport, error) {
	var report m.CoverageReport

	data, err := afero.ReadFile(fs, filepath.Join(dir, SummaryFile))
	if err != nil {
		return report, fmt.Errorf("read summary: %w", err)
	}

	if err := yaml.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("parse summary: %w", err)
	}

	return report, nil
}

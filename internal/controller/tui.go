package controller

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	m "covtrace.dev/pkg/covtrace/internal/model"
)

const (
	// Rows above and below the table: title, summary, help and padding.
	chromeHeight = 6
	// A table header is its title row plus the bottom border.
	headerRows = 2
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	helpStyle  = lipgloss.NewStyle().Faint(true)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	fairStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	poorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// TUI implements UI using Bubble Tea for interactive display.
type TUI struct {
	output io.Writer
}

// NewTUI creates a new TUI.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// DisplayRunResult prints a styled summary; there is nothing to browse yet.
func (p *TUI) DisplayRunResult(ctx context.Context, result m.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("covtrace: "+result.Report.Binary) + "\n")

	if result.Errored {
		b.WriteString(poorStyle.Render("target terminated abnormally") + "\n")
	} else {
		fmt.Fprintf(&b, "target exited with status %d\n", result.ExitStatus)
	}

	b.WriteString(percentStyle(result.Summary).Render(summaryLine(result.Summary)) + "\n")

	_, err := fmt.Fprint(p.output, b.String())

	return err
}

// DisplayReport browses the report. Reports that fit the terminal are
// printed and the call returns at once.
func (p *TUI) DisplayReport(ctx context.Context, report m.CoverageReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	model := newReportModel(report)

	// Get initial terminal size
	if f, ok := p.output.(*os.File); ok {
		width, height, err := term.GetSize(int(f.Fd()))
		if err == nil {
			model = model.resize(width, height)
		}
	}

	if !model.needsPagination() {
		_, err := fmt.Fprint(p.output, model.View())
		return err
	}

	return p.run(ctx, model)
}

// Browse runs the viewer until the user quits, however small the report.
func (p *TUI) Browse(ctx context.Context, report m.CoverageReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return p.run(ctx, newReportModel(report))
}

func (p *TUI) run(ctx context.Context, model reportModel) error {
	program := tea.NewProgram(model, tea.WithOutput(p.output), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return err
	}

	return nil
}

func percentStyle(s m.ExecutionSummary) lipgloss.Style {
	switch pct := s.Percent(); {
	case pct >= 80:
		return goodStyle
	case pct >= 50:
		return fairStyle
	default:
		return poorStyle
	}
}

// reportModel lists files; enter opens the line view of the selected file.
type reportModel struct {
	report   m.CoverageReport
	files    table.Model
	lines    table.Model
	detail   int // index into report.Files, -1 for the file list
	height   int
	width    int
	quitting bool
}

func newReportModel(report m.CoverageReport) reportModel {
	rows := make([]table.Row, 0, len(report.Files))
	for _, f := range report.Files {
		rows = append(rows, table.Row{
			f.Path,
			fmt.Sprintf("%d", f.Summary.Lines),
			fmt.Sprintf("%d", f.Summary.ExecutedLines),
			formatPercent(f.Summary),
		})
	}

	files := table.New(
		table.WithColumns([]table.Column{
			{Title: "Path", Width: pathWidth(report)},
			{Title: "Lines", Width: 8},
			{Title: "Executed", Width: 9},
			{Title: "Coverage", Width: 9},
		}),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithStyles(tableStyles()),
		table.WithHeight(len(rows)+headerRows),
	)

	return reportModel{report: report, files: files, detail: -1}
}

func pathWidth(report m.CoverageReport) int {
	width := len("Path")
	for _, f := range report.Files {
		width = max(width, len(f.Path))
	}

	return min(width, 60)
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))

	return s
}

func newLinesTable(file m.FileCoverage, height int) table.Model {
	rows := make([]table.Row, 0, len(file.Lines))
	for _, l := range file.Lines {
		status := "miss"
		if l.Hits > 0 {
			status = "hit"
		}

		rows = append(rows, table.Row{
			fmt.Sprintf("%d", l.Line),
			fmt.Sprintf("%d/%d", l.Hits, l.PossibleHits),
			status,
		})
	}

	if height <= 0 {
		height = len(rows) + headerRows
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Line", Width: 8},
			{Title: "Addresses", Width: 10},
			{Title: "Status", Width: 6},
		}),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithStyles(tableStyles()),
		table.WithHeight(height),
	)

	return t
}

func (rm reportModel) resize(width, height int) reportModel {
	rm.width = width
	rm.height = height

	if h := height - chromeHeight; h > 0 {
		rm.files.SetHeight(min(h, len(rm.report.Files)+headerRows))

		if rm.detail >= 0 {
			rm.lines.SetHeight(h)
		}
	}

	return rm
}

func (rm reportModel) needsPagination() bool {
	if rm.height <= 0 {
		return false
	}

	return len(rm.report.Files)+chromeHeight > rm.height
}

func (rm reportModel) Init() tea.Cmd {
	return nil
}

func (rm reportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return rm.resize(msg.Width, msg.Height), nil
	case tea.KeyMsg:
		return rm.handleKeyPress(msg)
	}

	return rm, nil
}

func (rm reportModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		rm.quitting = true
		return rm, tea.Quit
	case "esc", "backspace":
		if rm.detail < 0 {
			rm.quitting = true
			return rm, tea.Quit
		}

		rm.detail = -1

		return rm, nil
	case "enter":
		if rm.detail < 0 && len(rm.report.Files) > 0 {
			rm.detail = rm.files.Cursor()
			rm.lines = newLinesTable(rm.report.Files[rm.detail], rm.height-chromeHeight)
		}

		return rm, nil
	}

	var cmd tea.Cmd

	if rm.detail >= 0 {
		rm.lines, cmd = rm.lines.Update(msg)
	} else {
		rm.files, cmd = rm.files.Update(msg)
	}

	return rm, cmd
}

func (rm reportModel) View() string {
	if rm.quitting {
		return ""
	}

	var b strings.Builder

	if rm.detail >= 0 {
		file := rm.report.Files[rm.detail]

		b.WriteString(titleStyle.Render(file.Path) + "\n")
		b.WriteString(rm.lines.View() + "\n")
		b.WriteString(percentStyle(file.Summary).Render(summaryLine(file.Summary)) + "\n")
		b.WriteString(helpStyle.Render("↑/↓ move • esc back • q quit") + "\n")

		return b.String()
	}

	b.WriteString(titleStyle.Render("covtrace: "+rm.report.Binary) + "\n")

	if len(rm.report.Files) == 0 {
		b.WriteString("No coverage recorded.\n")
		return b.String()
	}

	b.WriteString(rm.files.View() + "\n")
	b.WriteString(percentStyle(rm.report.Summary).Render(summaryLine(rm.report.Summary)) + "\n")
	b.WriteString(helpStyle.Render("↑/↓ move • enter lines • q quit") + "\n")

	return b.String()
}

package model

// LineExecutionCount is the hit state of one line.
type LineExecutionCount struct {
	Hits         uint
	PossibleHits uint
}

// ExecutionSummary counts code lines and how many of them ran.
type ExecutionSummary struct {
	Lines         uint `yaml:"lines"`
	ExecutedLines uint `yaml:"executed_lines"`
}

// Percent returns the executed share of lines in [0, 100].
func (s ExecutionSummary) Percent() float64 {
	if s.Lines == 0 {
		return 0
	}

	return 100 * float64(s.ExecutedLines) / float64(s.Lines)
}

// LineCoverage is one line in a coverage report.
type LineCoverage struct {
	Line         uint32 `yaml:"line"`
	Hits         uint   `yaml:"hits"`
	PossibleHits uint   `yaml:"possible_hits"`
}

// FileCoverage groups the code lines of one source file.
type FileCoverage struct {
	Path    string           `yaml:"path"`
	Summary ExecutionSummary `yaml:"summary"`
	Lines   []LineCoverage   `yaml:"lines,omitempty"`
}

// CoverageReport is a point-in-time view of the index handed to writers.
type CoverageReport struct {
	Binary  string           `yaml:"binary"`
	Summary ExecutionSummary `yaml:"summary"`
	Files   []FileCoverage   `yaml:"files"`
}

// RunResult describes how a coverage session ended.
type RunResult struct {
	Backend    string
	ExitStatus int
	Errored    bool
	Summary    ExecutionSummary
	Report     CoverageReport
}

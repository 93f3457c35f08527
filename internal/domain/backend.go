package domain

import (
	"context"
	"syscall"

	m "covtrace.dev/pkg/covtrace/internal/model"
)

// NoBreakpoint is returned by RegisterBreakpoint when a backend has no
// breakpoint concept (binary rewriting, source-level helpers).
const NoBreakpoint = 0

// MatchNone is the score of a backend or parser that cannot handle a file.
const MatchNone uint = 0

// LineListener receives line to address mappings during discovery.
type LineListener interface {
	OnLine(file string, line uint32, addr uint64)
}

// FileListener is told about every newly seen file.
type FileListener interface {
	OnFile(file m.File)
}

// EventListener observes the execution of a target.
type EventListener interface {
	OnEvent(ev m.Event)
}

// Checksummer identifies the version of the binary being measured.
type Checksummer interface {
	Checksum() uint64
}

// Parser is the discovery half of a backend. It turns an executable into
// (file, line, address) triples.
type Parser interface {
	Checksummer

	// AddFile registers the executable to discover lines in.
	AddFile(ctx context.Context, path m.Path) error
	// Parse emits OnLine for every mapping the parser can determine up front.
	// Backends that discover lines while running may emit nothing here.
	Parse(ctx context.Context) error
	RegisterLineListener(listener LineListener)
	RegisterFileListener(listener FileListener)
	// MatchParser scores how well the parser understands the file.
	MatchParser(path m.Path, header []byte) uint
}

// Engine is the execution half of a backend.
type Engine interface {
	// Start launches or attaches to the target.
	Start(ctx context.Context, listener EventListener, executable m.Path) error
	// ContinueExecution advances the target until it produces one event.
	// It returns false once the target is gone or reporting is complete.
	ContinueExecution(ctx context.Context) bool
	// RegisterBreakpoint asks the engine to report addr when it executes.
	RegisterBreakpoint(addr uint64) int
	// Kill terminates the target.
	Kill(sig syscall.Signal)
}

// Backend is a concrete tracing implementation. It provides both
// capability sets.
type Backend interface {
	Parser
	Engine

	Name() string
}

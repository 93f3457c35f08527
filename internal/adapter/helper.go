package adapter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"covtrace.dev/pkg/covtrace/internal/domain"
	m "covtrace.dev/pkg/covtrace/internal/model"
	"covtrace.dev/pkg/covtrace/pkg/covfmt"
)

const (
	// HelperBackendName selects the source-level helper backend.
	HelperBackendName = "helper"
	// EnvHelperFD tells the helper which descriptor to write frames to.
	EnvHelperFD = "COVTRACE_HELPER_FD"

	// helperFD is the first ExtraFiles descriptor in the child.
	helperFD = 3

	scriptScore  uint = 200
	shebangScore uint = 100
)

// ErrNoHelper is returned when no helper command is configured.
var ErrNoHelper = errors.New("no helper command configured")

var _ domain.Backend = (*HelperBackend)(nil)

// HelperBackend measures interpreted programs. A helper process runs the
// script under the interpreter's trace hook and writes one frame per executed
// line. Lines are discovered as they run; each gets a stable synthetic
// address derived from file and line.
type HelperBackend struct {
	cfg      BackendConfig
	exe      m.Path
	checksum uint64
	lines    []domain.LineListener
	files    []domain.FileListener

	// Owned by the monitor goroutine once started.
	seenFiles map[string]bool
	seenLines map[m.LineID]uint64

	proc *tracedProcess
}

// NewHelperBackend creates a backend for one session.
func NewHelperBackend(cfg BackendConfig) *HelperBackend {
	return &HelperBackend{
		cfg:       cfg.withDefaults(),
		seenFiles: make(map[string]bool),
		seenLines: make(map[m.LineID]uint64),
	}
}

func (h *HelperBackend) Name() string { return HelperBackendName }

// Checksum is the xxhash of the script.
func (h *HelperBackend) Checksum() uint64 { return h.checksum }

// MatchParser prefers .py scripts and accepts anything with a shebang.
func (h *HelperBackend) MatchParser(path m.Path, header []byte) uint {
	if filepath.Ext(string(path)) == ".py" {
		return scriptScore
	}

	if bytes.HasPrefix(header, []byte("#!")) {
		return shebangScore
	}

	return domain.MatchNone
}

func (h *HelperBackend) AddFile(ctx context.Context, path m.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	script, err := afero.ReadFile(h.cfg.Fs, string(path))
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	h.exe = path
	h.checksum = xxhash.Sum64(script)

	return nil
}

// Parse only announces the script; lines show up while it runs.
func (h *HelperBackend) Parse(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, l := range h.files {
		l.OnFile(m.File{Path: h.exe, Flags: m.FileFlagScript})
	}

	return nil
}

func (h *HelperBackend) RegisterLineListener(l domain.LineListener) {
	h.lines = append(h.lines, l)
}

func (h *HelperBackend) RegisterFileListener(l domain.FileListener) {
	h.files = append(h.files, l)
}

// RegisterBreakpoint is a no-op; the helper reports every line.
func (h *HelperBackend) RegisterBreakpoint(uint64) int {
	return domain.NoBreakpoint
}

// Start launches the helper with the script and hands it the write end of a
// pipe as descriptor 3.
func (h *HelperBackend) Start(ctx context.Context, listener domain.EventListener, exe m.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(h.cfg.HelperCommand) == 0 {
		return ErrNoHelper
	}

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create helper pipe: %w", err)
	}

	args := append(append([]string{}, h.cfg.HelperCommand[1:]...), string(exe))
	args = append(args, h.cfg.Args...)

	cmd := h.cfg.command(h.cfg.HelperCommand[0], args...)
	cmd.ExtraFiles = []*os.File{w}
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", EnvHelperFD, helperFD))

	proc, err := startProcess(cmd, listener, func(p *tracedProcess) { h.monitor(p, r) })

	// The child owns its copy now.
	_ = w.Close()

	if err != nil {
		_ = r.Close()
		return fmt.Errorf("start helper %s: %w", h.cfg.HelperCommand[0], err)
	}

	h.proc = proc

	return nil
}

func (h *HelperBackend) monitor(p *tracedProcess, r io.ReadCloser) {
	p.closeOnStop(r)

	reader := bufio.NewReader(r)

	for {
		frame, err := covfmt.ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("Helper stream broken", "error", err)
			}

			break
		}

		if !p.push(m.Event{Type: m.EventBreakpoint, Addr: h.observe(frame)}) {
			break
		}
	}

	_ = r.Close()

	if exited, err := p.awaitExit(); exited {
		p.pushExit(err)
	}
}

// observe announces new files and lines and returns the line's address.
func (h *HelperBackend) observe(f covfmt.Frame) uint64 {
	if !h.seenFiles[f.File] {
		h.seenFiles[f.File] = true

		for _, l := range h.files {
			l.OnFile(m.File{Path: m.Path(f.File), Flags: m.FileFlagScript})
		}
	}

	id := m.NewLineID(f.File, f.Line)

	addr, ok := h.seenLines[id]
	if !ok {
		addr = LineAddress(id)
		h.seenLines[id] = addr

		for _, l := range h.lines {
			l.OnLine(f.File, f.Line, addr)
		}
	}

	return addr
}

// LineAddress derives the synthetic address of a script line.
func LineAddress(id m.LineID) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s:%d", id.File, id.Line))
}

func (h *HelperBackend) ContinueExecution(ctx context.Context) bool {
	if h.proc == nil {
		return false
	}

	return h.proc.next(ctx)
}

func (h *HelperBackend) Kill(sig syscall.Signal) {
	h.proc.kill(sig)
}

package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"covtrace.dev/pkg/covtrace/internal/domain"
	m "covtrace.dev/pkg/covtrace/internal/model"
	"covtrace.dev/pkg/covtrace/pkg/covfmt"
	"covtrace.dev/pkg/covtrace/pkg/runtimecov"
)

const (
	// BitVectorBackendName selects the instrumented-binary backend.
	BitVectorBackendName = "bitvector"
	// PointMapSuffix is appended to the executable path to find its point map.
	PointMapSuffix = ".points.yaml"
	// PointMapVersion is the point map layout this backend reads.
	PointMapVersion = 1

	bitVectorScore uint = 200
)

// ErrPointMapVersion is returned for a point map written by another version.
var ErrPointMapVersion = errors.New("unsupported point map version")

// Point ties an instrumentation point id to the source line it guards.
type Point struct {
	ID      uint32 `yaml:"id"`
	File    string `yaml:"file"`
	Line    uint32 `yaml:"line"`
	Address uint64 `yaml:"address"`
}

// PointMap is the sidecar written next to an instrumented executable.
type PointMap struct {
	Version int     `yaml:"version"`
	Points  []Point `yaml:"points"`
}

var _ domain.Backend = (*BitVectorBackend)(nil)

// BitVectorBackend measures binaries that were instrumented to call the
// runtimecov collector. Hits arrive as snapshots of the collector's bit
// vector, which the backend diffs into breakpoint events.
type BitVectorBackend struct {
	cfg      BackendConfig
	exe      m.Path
	checksum uint64
	points   map[uint32]Point
	wanted   map[uint64]bool
	lines    []domain.LineListener
	files    []domain.FileListener

	runID uint64
	seen  []uint32
	proc  *tracedProcess
}

// NewBitVectorBackend creates a backend for one session.
func NewBitVectorBackend(cfg BackendConfig) *BitVectorBackend {
	return &BitVectorBackend{
		cfg:    cfg.withDefaults(),
		points: make(map[uint32]Point),
		wanted: make(map[uint64]bool),
	}
}

// Name identifies the backend.
func (b *BitVectorBackend) Name() string { return BitVectorBackendName }

// Checksum is the xxhash of the executable image.
func (b *BitVectorBackend) Checksum() uint64 { return b.checksum }

// MatchParser accepts executables that have a point map next to them.
func (b *BitVectorBackend) MatchParser(path m.Path, _ []byte) uint {
	ok, err := afero.Exists(b.cfg.Fs, string(path)+PointMapSuffix)
	if err != nil || !ok {
		return domain.MatchNone
	}

	return bitVectorScore
}

// AddFile reads the executable for its checksum and loads the point map.
func (b *BitVectorBackend) AddFile(ctx context.Context, path m.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	image, err := afero.ReadFile(b.cfg.Fs, string(path))
	if err != nil {
		return fmt.Errorf("read executable: %w", err)
	}

	pm, err := ReadPointMap(b.cfg.Fs, string(path)+PointMapSuffix)
	if err != nil {
		return err
	}

	b.exe = path
	b.checksum = xxhash.Sum64(image)

	for _, p := range pm.Points {
		b.points[p.ID] = p
	}

	slog.Debug("Loaded point map", "executable", path, "points", len(pm.Points))

	return nil
}

// ReadPointMap loads and validates a point map.
func ReadPointMap(fs afero.Fs, path string) (PointMap, error) {
	var pm PointMap

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return pm, fmt.Errorf("read point map: %w", err)
	}

	if err := yaml.Unmarshal(data, &pm); err != nil {
		return pm, fmt.Errorf("parse point map %s: %w", path, err)
	}

	if pm.Version != PointMapVersion {
		return pm, fmt.Errorf("point map %s version %d: %w", path, pm.Version, ErrPointMapVersion)
	}

	return pm, nil
}

// Parse reports every point of the map.
func (b *BitVectorBackend) Parse(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ids := make([]uint32, 0, len(b.points))
	for id := range b.points {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	seen := map[string]bool{}

	for _, id := range ids {
		p := b.points[id]

		if !seen[p.File] {
			seen[p.File] = true

			for _, l := range b.files {
				l.OnFile(m.File{Path: m.Path(p.File)})
			}
		}

		for _, l := range b.lines {
			l.OnLine(p.File, p.Line, p.Address)
		}
	}

	return nil
}

func (b *BitVectorBackend) RegisterLineListener(l domain.LineListener) {
	b.lines = append(b.lines, l)
}

func (b *BitVectorBackend) RegisterFileListener(l domain.FileListener) {
	b.files = append(b.files, l)
}

// RegisterBreakpoint selects addr for reporting. Instrumented binaries have
// no breakpoints, so the id is always NoBreakpoint.
func (b *BitVectorBackend) RegisterBreakpoint(addr uint64) int {
	b.wanted[addr] = true
	return domain.NoBreakpoint
}

// Start runs the instrumented executable with a fresh run id.
func (b *BitVectorBackend) Start(ctx context.Context, listener domain.EventListener, exe m.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.cfg.Fs.MkdirAll(b.cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	b.runID = newRunID(exe)

	cmd := b.cfg.command(string(exe), b.cfg.Args...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("%s=%016x", runtimecov.EnvRunID, b.runID),
		fmt.Sprintf("%s=%s", runtimecov.EnvDataDir, b.cfg.DataDir),
	)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Debug("File notifications unavailable, polling", "error", err)
	} else if err := watcher.Add(b.cfg.DataDir); err != nil {
		slog.Debug("Cannot watch data dir, polling", "dir", b.cfg.DataDir, "error", err)

		_ = watcher.Close()
		watcher = nil
	}

	proc, err := startProcess(cmd, listener, func(p *tracedProcess) { b.monitor(p, watcher) })
	if err != nil {
		if watcher != nil {
			_ = watcher.Close()
		}

		return fmt.Errorf("start %s: %w", exe, err)
	}

	b.proc = proc

	slog.Debug("Started instrumented target", "pid", cmd.Process.Pid, "run", fmt.Sprintf("%016x", b.runID))

	return nil
}

// SnapshotPath is where the target's collector writes its bit vector.
func (b *BitVectorBackend) SnapshotPath() string {
	return runtimecov.SnapshotPath(b.cfg.DataDir, b.runID)
}

func (b *BitVectorBackend) monitor(p *tracedProcess, watcher *fsnotify.Watcher) {
	var (
		notify <-chan fsnotify.Event
		errs   <-chan error
	)

	if watcher != nil {
		defer func() { _ = watcher.Close() }()

		notify = watcher.Events
		errs = watcher.Errors
	}

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	snapshot := filepath.Base(b.SnapshotPath())

	for {
		select {
		case ev, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}

			if filepath.Base(ev.Name) != snapshot || !ev.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}

			if !b.scan(p) {
				p.reap()
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}

			slog.Debug("Watch error", "error", err)
		case <-ticker.C:
			if !b.scan(p) {
				p.reap()
				return
			}
		case err := <-p.exited:
			// The collector's last flush happens before exit.
			if b.scan(p) {
				p.pushExit(err)
			}

			return
		case <-p.stop:
			p.reap()
			return
		}
	}
}

// scan reads the current snapshot and queues a breakpoint event for every
// newly set point. It returns false once the driver stopped listening.
func (b *BitVectorBackend) scan(p *tracedProcess) bool {
	data, err := afero.ReadFile(b.cfg.Fs, b.SnapshotPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("Cannot read snapshot", "path", b.SnapshotPath(), "error", err)
		}

		return true
	}

	words, err := covfmt.DecodeSnapshot(data)
	if err != nil {
		slog.Warn("Ignoring snapshot", "path", b.SnapshotPath(), "error", err)
		return true
	}

	for _, ev := range b.diff(words) {
		if !p.push(ev) {
			return false
		}
	}

	return true
}

// diff returns events for bits set in words but not in any earlier snapshot.
func (b *BitVectorBackend) diff(words []uint32) []m.Event {
	if len(words) > len(b.seen) {
		b.seen = append(b.seen, make([]uint32, len(words)-len(b.seen))...)
	}

	var out []m.Event

	for i, w := range words {
		fresh := w &^ b.seen[i]
		b.seen[i] |= w

		for fresh != 0 {
			bit := bits.TrailingZeros32(fresh)
			fresh &= fresh - 1

			p, ok := b.points[uint32(i*32+bit)]
			if !ok || !b.wanted[p.Address] {
				continue
			}

			out = append(out, m.Event{Type: m.EventBreakpoint, Addr: p.Address})
		}
	}

	return out
}

// ContinueExecution delivers the next hit or the exit.
func (b *BitVectorBackend) ContinueExecution(ctx context.Context) bool {
	if b.proc == nil {
		return false
	}

	return b.proc.next(ctx)
}

// Kill signals the target.
func (b *BitVectorBackend) Kill(sig syscall.Signal) {
	b.proc.kill(sig)
}

func newRunID(exe m.Path) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s:%d:%d", exe, os.Getpid(), time.Now().UnixNano()))
}

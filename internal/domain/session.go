package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	m "covtrace.dev/pkg/covtrace/internal/model"
)

// DefaultFlushInterval is how often a running session persists coverage.
const DefaultFlushInterval = time.Second

// HeaderSize is how much of the executable backends get to score.
const HeaderSize = 80

// ErrNoBackend is returned when no registered backend accepts the executable.
var ErrNoBackend = errors.New("no backend matches executable")

// Storage persists the line database and reads executables for scoring.
type Storage interface {
	// Load returns the stored database for binary, or nil when none exists.
	Load(ctx context.Context, binary string) ([]byte, error)
	Save(ctx context.Context, binary string, data []byte) error
	// Header returns up to n leading bytes of the file.
	Header(ctx context.Context, path m.Path, n int) ([]byte, error)
}

// Writer renders coverage while a session runs.
type Writer interface {
	OnStartup(ctx context.Context) error
	Write(ctx context.Context, report m.CoverageReport) error
	OnStop(ctx context.Context) error
}

// RunArgs contains the arguments for one coverage session.
type RunArgs struct {
	Executable m.Path
	// Backend forces a backend by name; empty selects by score.
	Backend       string
	FlushInterval time.Duration
}

// Session runs an executable under a tracing backend and collects coverage.
type Session interface {
	Run(ctx context.Context, args RunArgs) (m.RunResult, error)
}

type session struct {
	registry *Registry
	storage  Storage
	filter   Filter
	writers  []Writer
}

// NewSession constructs a Session that picks backends from registry.
func NewSession(registry *Registry, storage Storage, filter Filter, writers ...Writer) Session {
	return &session{
		registry: registry,
		storage:  storage,
		filter:   filter,
		writers:  writers,
	}
}

func (s *session) Run(ctx context.Context, args RunArgs) (m.RunResult, error) {
	candidates, err := s.candidates(ctx, args)
	if err != nil {
		return m.RunResult{}, err
	}

	var startErr error

	for _, creator := range candidates {
		backend := creator.Create()
		index := NewIndex(backend, s.filter)
		index.SetBinary(filepath.Base(string(args.Executable)))

		if err := s.prepare(ctx, backend, index, args.Executable); err != nil {
			slog.Warn("Backend failed to prepare", "backend", creator.Name, "error", err)
			startErr = multierror.Append(startErr, fmt.Errorf("%s: %w", creator.Name, err))

			continue
		}

		tracker := NewExecutionTracker()
		sink := &eventSink{index: index, tracker: tracker}

		if err := backend.Start(ctx, sink, args.Executable); err != nil {
			slog.Warn("Backend failed to start", "backend", creator.Name, "error", err)
			startErr = multierror.Append(startErr, fmt.Errorf("%s: %w", creator.Name, err))

			continue
		}

		if err := tracker.Started(); err != nil {
			return m.RunResult{}, err
		}

		slog.Info("Started target", "backend", creator.Name, "executable", args.Executable)

		return s.drive(ctx, creator.Name, backend, index, tracker, args)
	}

	return m.RunResult{}, fmt.Errorf("no backend could start %s: %w", args.Executable, startErr)
}

func (s *session) candidates(ctx context.Context, args RunArgs) ([]BackendCreator, error) {
	if args.Backend != "" {
		creator, ok := s.registry.Lookup(args.Backend)
		if !ok {
			return nil, fmt.Errorf("unknown backend %q", args.Backend)
		}

		return []BackendCreator{creator}, nil
	}

	header, err := s.storage.Header(ctx, args.Executable, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("read executable: %w", err)
	}

	candidates := s.registry.Candidates(args.Executable, header)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s: %w", args.Executable, ErrNoBackend)
	}

	return candidates, nil
}

// prepare runs discovery, merges the previous database and registers
// breakpoints for every discovered address.
func (s *session) prepare(ctx context.Context, backend Backend, index *Index, exe m.Path) error {
	backend.RegisterFileListener(index)
	backend.RegisterLineListener(index)

	if err := backend.AddFile(ctx, exe); err != nil {
		return fmt.Errorf("add file: %w", err)
	}

	if err := backend.Parse(ctx); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	s.loadDatabase(ctx, index)

	for _, addr := range index.Addresses() {
		backend.RegisterBreakpoint(addr)
	}

	return nil
}

func (s *session) loadDatabase(ctx context.Context, index *Index) {
	binary := index.Binary()

	data, err := s.storage.Load(ctx, binary)
	if err != nil {
		slog.Warn("Failed to read coverage database", "binary", binary, "error", err)
		return
	}

	if data == nil {
		return
	}

	if err := index.Unmarshal(data); err != nil {
		slog.Warn("Discarding coverage database", "binary", binary, "error", err)
		return
	}

	slog.Debug("Merged previous coverage", "binary", binary, "bytes", len(data))
}

func (s *session) drive(ctx context.Context, name string, backend Backend, index *Index, tracker *ExecutionTracker, args RunArgs) (m.RunResult, error) {
	var errs error

	for _, w := range s.writers {
		if err := w.OnStartup(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	interval := args.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	stopKill := context.AfterFunc(ctx, func() {
		slog.Info("Session cancelled, terminating target", "backend", name)
		backend.Kill(syscall.SIGTERM)
	})
	defer stopKill()

	done := make(chan struct{})

	var group errgroup.Group

	group.Go(func() error {
		defer close(done)

		for backend.ContinueExecution(ctx) {
			tracker.Resumed()
		}

		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return nil
			case <-ticker.C:
				if err := s.flush(ctx, index); err != nil {
					slog.Warn("Periodic flush failed", "error", err)
				}
			}
		}
	})

	_ = group.Wait()

	stopCtx := context.WithoutCancel(ctx)

	if err := s.flush(stopCtx, index); err != nil {
		errs = multierror.Append(errs, err)
	}

	for _, w := range s.writers {
		if err := w.OnStop(stopCtx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	result := m.RunResult{
		Backend:    name,
		ExitStatus: tracker.ExitStatus(),
		Errored:    tracker.State() != m.StateExited,
		Summary:    index.ExecutionSummary(),
		Report:     index.Report(),
	}

	slog.Info("Coverage session finished",
		"backend", name,
		"state", tracker.State(),
		"events", tracker.Events(),
		"exitStatus", result.ExitStatus,
		"lines", result.Summary.Lines,
		"executed", result.Summary.ExecutedLines,
	)

	return result, errs
}

// flush persists the database and lets every writer render the index.
func (s *session) flush(ctx context.Context, index *Index) error {
	var errs error

	report := index.Report()

	if err := s.storage.Save(ctx, report.Binary, index.Marshal()); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("save database: %w", err))
	}

	for _, w := range s.writers {
		if err := w.Write(ctx, report); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs
}

// eventSink feeds driver events into the tracker and the index.
type eventSink struct {
	index   *Index
	tracker *ExecutionTracker
}

func (e *eventSink) OnEvent(ev m.Event) {
	if err := e.tracker.Observe(ev); err != nil {
		slog.Warn("Ignoring event", "type", ev.Type, "addr", ev.Addr, "error", err)
		return
	}

	if ev.Type == m.EventBreakpoint {
		e.index.OnAddress(ev.Addr, 1)
	}
}

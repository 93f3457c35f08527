// Package runtimecov records executed instrumentation points inside an
// instrumented process and snapshots them to disk for the coverage tool.
//
// A binary-rewriting backend injects calls to ReportHit at every
// instrumentation point and a call to Init (or InitFromEnv) at startup. Hits
// may arrive from any goroutine or thread, including before Init has run. The
// hit path takes no locks: each bit is set with a compare-and-swap on its word.
package runtimecov

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/atomic"

	"covtrace.dev/pkg/covtrace/pkg/covfmt"
)

// DefaultEarlyBufferSize is the number of hits kept before Init.
const DefaultEarlyBufferSize = 1024

// ErrNotInitialized is returned by Flush before Init.
var ErrNotInitialized = errors.New("collector not initialized")

// Stats counts what happened on the hit path.
type Stats struct {
	// SetBits is the number of 0->1 transitions.
	SetBits uint64
	// EarlyDropped counts hits lost because the early buffer was full.
	EarlyDropped uint64
	// OutOfRange counts hits for points beyond the bit vector.
	OutOfRange uint64
	// Flushes counts successful snapshot writes.
	Flushes uint64
}

// Collector owns one bit vector. Instrumented code either holds a pointer to
// a Collector or uses the package-level Default.
type Collector struct {
	bits        []atomic.Uint32
	id          uint64
	initialized atomic.Bool

	early earlyBuffer

	fs       afero.Fs
	dir      string
	clock    Clock
	interval time.Duration
	throttle *Throttle
	log      *slog.Logger

	setBits      atomic.Uint64
	earlyDropped atomic.Uint64
	outOfRange   atomic.Uint64
	flushes      atomic.Uint64
}

// Option configures a Collector.
type Option func(*Collector)

// WithFs sets the filesystem snapshots are written to.
func WithFs(fs afero.Fs) Option {
	return func(c *Collector) { c.fs = fs }
}

// WithDir sets the snapshot directory.
func WithDir(dir string) Option {
	return func(c *Collector) { c.dir = dir }
}

// WithClock replaces the wall clock used for flush decisions.
func WithClock(clock Clock) Option {
	return func(c *Collector) { c.clock = clock }
}

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Collector) { c.interval = d }
}

// WithLogger sets where diagnostics go.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.log = l }
}

// WithEarlyBufferSize sets the capacity of the pre-Init buffer.
func WithEarlyBufferSize(n int) Option {
	return func(c *Collector) { c.early = newEarlyBuffer(n) }
}

// DefaultDir is where snapshots go unless configured otherwise.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "covtrace-data")
}

// New returns a collector that buffers hits until Init is called.
func New(opts ...Option) *Collector {
	c := &Collector{
		early:    newEarlyBuffer(DefaultEarlyBufferSize),
		fs:       afero.NewOsFs(),
		dir:      DefaultDir(),
		clock:    systemClock{},
		interval: DefaultFlushInterval,
		log:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.log = c.log.With("component", "runtimecov")

	return c
}

// Init allocates room for words*32 points and starts accepting hits.
//
// Init must be called exactly once, before any other goroutine can observe the
// collector as initialized. A second call is not guarded.
func (c *Collector) Init(id uint64, words int) {
	c.bits = make([]atomic.Uint32, words)
	c.id = id
	c.throttle = NewThrottle(c.interval, c.clock.Now())
	c.initialized.Store(true)
}

// ID returns the run identifier given to Init.
func (c *Collector) ID() uint64 {
	return c.id
}

// Capacity is the number of points the bit vector can hold.
func (c *Collector) Capacity() int {
	return len(c.bits) * 32
}

// ReportHit records that point executed.
func (c *Collector) ReportHit(point uint32) {
	if !c.initialized.Load() {
		if !c.early.record(point) {
			c.earlyDropped.Inc()
			c.log.Warn("collector not initialized yet, dropping point", "point", point)
		}

		return
	}

	if c.early.pending() {
		c.drainEarly()
	}

	c.hit(point)
}

// drainEarly replays buffered hits once. The range is claimed up front so
// anything buffered during the replay waits for the next call.
func (c *Collector) drainEarly() {
	from, to := c.early.claim()

	for i := from; i < to; i++ {
		c.hit(c.early.take(i))
	}
}

func (c *Collector) hit(point uint32) {
	word := point / 32
	if int(word) >= len(c.bits) {
		c.outOfRange.Inc()
		c.log.Error("internal error: point out of bounds", "point", point, "words", len(c.bits))

		return
	}

	mask := uint32(1) << (point % 32)
	p := &c.bits[word]

	if p.Load()&mask != 0 {
		return
	}

	for {
		old := p.Load()
		if old&mask != 0 {
			// Another goroutine won the transition.
			return
		}

		if p.CompareAndSwap(old, old|mask) {
			break
		}
	}

	c.setBits.Inc()

	if c.throttle.Due(c.clock.Now()) {
		_ = c.Flush()
	}
}

// IsSet reports whether point has been recorded.
func (c *Collector) IsSet(point uint32) bool {
	if !c.initialized.Load() {
		return false
	}

	return covfmt.BitSet(c.Words(), point)
}

// Words copies the current bit vector.
func (c *Collector) Words() []uint32 {
	words := make([]uint32, len(c.bits))
	for i := range c.bits {
		words[i] = c.bits[i].Load()
	}

	return words
}

// SnapshotPath is the file Flush renames snapshots into.
func (c *Collector) SnapshotPath() string {
	return SnapshotPath(c.dir, c.id)
}

// SnapshotPath derives the snapshot file for a run identifier.
func SnapshotPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%016x", id))
}

// Flush writes the bit vector to a temporary file and renames it over the
// snapshot, so readers never see a partial file. Failures are logged and the
// in-memory bits are kept for the next attempt. Hits buffered before Init are
// replayed first.
func (c *Collector) Flush() error {
	if !c.initialized.Load() {
		return ErrNotInitialized
	}

	if c.early.pending() {
		c.drainEarly()
	}

	if err := c.writeSnapshot(); err != nil {
		c.log.Error("failed to write snapshot", "dir", c.dir, "error", err)
		return err
	}

	c.flushes.Inc()
	c.throttle.Reset(c.clock.Now())

	return nil
}

func (c *Collector) writeSnapshot() error {
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	final := c.SnapshotPath()

	tmp, err := afero.TempFile(c.fs, c.dir, filepath.Base(final)+".*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}

	if err := covfmt.WriteSnapshot(tmp, c.Words()); err != nil {
		_ = tmp.Close()
		_ = c.fs.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		_ = c.fs.Remove(tmp.Name())
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := c.fs.Rename(tmp.Name(), final); err != nil {
		_ = c.fs.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}

	return nil
}

// Stats returns the hit-path counters.
func (c *Collector) Stats() Stats {
	return Stats{
		SetBits:      c.setBits.Load(),
		EarlyDropped: c.earlyDropped.Load(),
		OutOfRange:   c.outOfRange.Load(),
		Flushes:      c.flushes.Load(),
	}
}

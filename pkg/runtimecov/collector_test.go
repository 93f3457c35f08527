package runtimecov

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"covtrace.dev/pkg/covtrace/pkg/covfmt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
}

// countingHandler counts diagnostics at or above Warn.
type countingHandler struct {
	n atomic.Int64
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *countingHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.n.Inc()
	}

	return nil
}

func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func newTestCollector(t *testing.T, opts ...Option) (*Collector, afero.Fs, *fakeClock, *countingHandler) {
	t.Helper()

	fs := afero.NewMemMapFs()
	clock := newFakeClock()
	diag := &countingHandler{}

	base := []Option{
		WithFs(fs),
		WithDir("/data"),
		WithClock(clock),
		WithLogger(slog.New(diag)),
	}

	return New(append(base, opts...)...), fs, clock, diag
}

func TestCollector_ReportHit_SetsBit(t *testing.T) {
	c, _, _, diag := newTestCollector(t)
	c.Init(0xabc, 2)

	c.ReportHit(0)
	c.ReportHit(33)
	c.ReportHit(33)

	assert.True(t, c.IsSet(0))
	assert.True(t, c.IsSet(33))
	assert.False(t, c.IsSet(1))
	assert.Equal(t, []uint32{1, 1 << 1}, c.Words())
	assert.Equal(t, uint64(2), c.Stats().SetBits)
	assert.Zero(t, diag.n.Load())
}

func TestCollector_ConcurrentHitsSameBit(t *testing.T) {
	c, _, _, _ := newTestCollector(t)
	c.Init(1, 4)

	const goroutines = 64

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)

	for range goroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()
			<-start
			c.ReportHit(77)
		}()
	}

	close(start)
	wg.Wait()

	assert.True(t, c.IsSet(77))
	assert.Equal(t, uint64(1), c.Stats().SetBits, "exactly one 0->1 transition")
	assert.Equal(t, uint32(1<<(77%32)), c.Words()[77/32])
}

func TestCollector_ConcurrentHitsSameWord(t *testing.T) {
	c, _, _, _ := newTestCollector(t)
	c.Init(1, 1)

	var wg sync.WaitGroup
	for bit := range uint32(32) {
		wg.Add(1)

		go func() {
			defer wg.Done()
			c.ReportHit(bit)
		}()
	}

	wg.Wait()

	assert.Equal(t, []uint32{0xffffffff}, c.Words(), "no update lost to a racing CAS")
	assert.Equal(t, uint64(32), c.Stats().SetBits)
}

func TestCollector_EarlyHitReplay(t *testing.T) {
	c, _, _, diag := newTestCollector(t)

	early := []uint32{3, 40, 5, 63}
	for _, p := range early {
		c.ReportHit(p)
	}

	assert.False(t, c.IsSet(3), "nothing is visible before Init")

	c.Init(9, 2)
	c.ReportHit(10)

	for _, p := range append(early, 10) {
		assert.True(t, c.IsSet(p), "point %d", p)
	}

	assert.False(t, c.early.pending(), "buffer emptied")
	assert.Equal(t, uint64(5), c.Stats().SetBits)

	// A later hit does not replay anything again.
	c.ReportHit(11)
	assert.Equal(t, uint64(6), c.Stats().SetBits)
	assert.Zero(t, diag.n.Load())
}

func TestCollector_EarlyBufferFull(t *testing.T) {
	c, _, _, diag := newTestCollector(t, WithEarlyBufferSize(2))

	c.ReportHit(1)
	c.ReportHit(2)
	c.ReportHit(3)

	assert.Equal(t, uint64(1), c.Stats().EarlyDropped)
	assert.Equal(t, int64(1), diag.n.Load())

	c.Init(1, 1)
	c.ReportHit(4)

	assert.True(t, c.IsSet(1))
	assert.True(t, c.IsSet(2))
	assert.False(t, c.IsSet(3), "dropped hit is lost")
	assert.True(t, c.IsSet(4))
}

func TestCollector_EarlyHitStoredAfterDrainStarts(t *testing.T) {
	c, _, _, _ := newTestCollector(t)

	// A pre-Init reporter has reserved its slot but not yet written it.
	slot := c.early.count.Inc() - 1

	c.Init(1, 4)

	stored := make(chan struct{})
	time.AfterFunc(10*time.Millisecond, func() {
		c.early.slots[slot].Store(7 + 1)
		close(stored)
	})

	c.ReportHit(1)
	<-stored

	assert.True(t, c.IsSet(7), "late store replayed by the drain")
	assert.True(t, c.IsSet(1))
	assert.False(t, c.early.pending())

	c.ReportHit(2)
	assert.Equal(t, uint64(3), c.Stats().SetBits)
}

func TestCollector_EarlyHitsConcurrentWithInit(t *testing.T) {
	c, _, _, _ := newTestCollector(t)

	const points = 256

	var wg sync.WaitGroup

	for p := range uint32(points) {
		wg.Add(1)

		go func() {
			defer wg.Done()
			c.ReportHit(p)
		}()

		if p == points/2 {
			c.Init(1, points/32)
		}
	}

	wg.Wait()
	require.NoError(t, c.Flush())

	for p := range uint32(points) {
		assert.True(t, c.IsSet(p), "point %d", p)
	}

	assert.Zero(t, c.Stats().EarlyDropped)
}

func TestCollector_FlushReplaysEarlyHits(t *testing.T) {
	c, fs, _, _ := newTestCollector(t)

	c.ReportHit(5)
	c.Init(1, 1)

	require.NoError(t, c.Flush())
	assert.True(t, c.IsSet(5))

	data, err := afero.ReadFile(fs, c.SnapshotPath())
	require.NoError(t, err)

	words, err := covfmt.DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1 << 5}, words)
}

func TestCollector_OutOfRange(t *testing.T) {
	c, _, _, diag := newTestCollector(t)
	c.Init(1, 2)
	c.ReportHit(5)

	before := c.Words()
	c.ReportHit(uint32(c.Capacity()))

	assert.Equal(t, before, c.Words())
	assert.Equal(t, int64(1), diag.n.Load(), "exactly one diagnostic")
	assert.Equal(t, uint64(1), c.Stats().OutOfRange)
}

func TestCollector_FlushWritesSnapshot(t *testing.T) {
	c, fs, _, _ := newTestCollector(t)
	c.Init(0x1234, 2)
	c.ReportHit(1)
	c.ReportHit(35)

	require.NoError(t, c.Flush())

	f, err := fs.Open("/data/0000000000001234")
	require.NoError(t, err)
	defer f.Close()

	words, err := covfmt.ReadSnapshot(f)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1 << 1, 1 << 3}, words)

	entries, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file renamed away")
}

func TestCollector_OpportunisticFlush(t *testing.T) {
	c, fs, clock, _ := newTestCollector(t)
	c.Init(7, 1)

	c.ReportHit(0)
	assert.Zero(t, c.Stats().Flushes, "interval not elapsed")

	exists, err := afero.Exists(fs, c.SnapshotPath())
	require.NoError(t, err)
	assert.False(t, exists)

	clock.Advance(DefaultFlushInterval)
	c.ReportHit(1)
	assert.Equal(t, uint64(1), c.Stats().Flushes)

	// Already-set bits take the fast path and never flush.
	clock.Advance(DefaultFlushInterval)
	c.ReportHit(1)
	assert.Equal(t, uint64(1), c.Stats().Flushes)

	c.ReportHit(2)
	assert.Equal(t, uint64(2), c.Stats().Flushes)
}

func TestCollector_ExplicitFlushRestartsInterval(t *testing.T) {
	c, _, clock, _ := newTestCollector(t)
	c.Init(7, 1)

	clock.Advance(DefaultFlushInterval + DefaultFlushInterval/2)
	require.NoError(t, c.Flush())
	assert.Equal(t, uint64(1), c.Stats().Flushes)

	clock.Advance(DefaultFlushInterval / 2)
	c.ReportHit(3)
	assert.Equal(t, uint64(1), c.Stats().Flushes, "interval counts from the last flush")

	clock.Advance(DefaultFlushInterval / 2)
	c.ReportHit(4)
	assert.Equal(t, uint64(2), c.Stats().Flushes)
}

func TestCollector_FlushFailureKeepsBits(t *testing.T) {
	c, _, _, diag := newTestCollector(t, WithFs(afero.NewReadOnlyFs(afero.NewMemMapFs())))
	c.Init(1, 1)
	c.ReportHit(4)

	require.Error(t, c.Flush())
	assert.Equal(t, int64(1), diag.n.Load())
	assert.True(t, c.IsSet(4))
}

func TestCollector_FlushBeforeInit(t *testing.T) {
	c, _, _, _ := newTestCollector(t)
	require.ErrorIs(t, c.Flush(), ErrNotInitialized)
}

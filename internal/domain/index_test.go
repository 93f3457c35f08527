package domain

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "covtrace.dev/pkg/covtrace/internal/model"
	"covtrace.dev/pkg/covtrace/pkg/covfmt"
)

type staticChecksum uint64

func (s staticChecksum) Checksum() uint64 { return uint64(s) }

func newScenarioIndex(t *testing.T) *Index {
	t.Helper()

	ix := NewIndex(staticChecksum(0xc0ffee), nil)
	ix.OnLine("a.c", 10, 0x1000)
	ix.OnLine("a.c", 11, 0x1010)
	ix.OnLine("a.c", 11, 0x1014)

	return ix
}

func TestIndex_EndToEndScenario(t *testing.T) {
	ix := newScenarioIndex(t)

	ix.OnAddress(0x1000, 1)
	ix.OnAddress(0x1010, 1)

	assert.Equal(t, m.ExecutionSummary{Lines: 2, ExecutedLines: 2}, ix.ExecutionSummary())
	assert.Equal(t, m.LineExecutionCount{Hits: 1, PossibleHits: 2}, ix.LineExecutionCount("a.c", 11))
	assert.Equal(t, m.LineExecutionCount{Hits: 1, PossibleHits: 1}, ix.LineExecutionCount("a.c", 10))
}

func TestIndex_LineIsCode(t *testing.T) {
	ix := newScenarioIndex(t)

	assert.True(t, ix.LineIsCode("a.c", 10))
	assert.True(t, ix.LineIsCode("./a.c", 11), "paths are normalized")
	assert.False(t, ix.LineIsCode("a.c", 12))
	assert.False(t, ix.LineIsCode("b.c", 10))
	assert.Equal(t, m.LineExecutionCount{}, ix.LineExecutionCount("b.c", 10))
}

func TestIndex_HitsAreIdempotent(t *testing.T) {
	ix := newScenarioIndex(t)

	for range 5 {
		ix.OnAddress(0x1014, 3)
	}

	assert.Equal(t, m.LineExecutionCount{Hits: 1, PossibleHits: 2}, ix.LineExecutionCount("a.c", 11))
}

func TestIndex_UnknownAddressDropped(t *testing.T) {
	ix := newScenarioIndex(t)

	ix.OnAddress(0xdead, 1)

	assert.Equal(t, m.ExecutionSummary{Lines: 2}, ix.ExecutionSummary())
}

func TestIndex_FilterRejectsDiscovery(t *testing.T) {
	ix := NewIndex(staticChecksum(1), func(file string) bool { return !strings.HasPrefix(file, "/usr/") })

	ix.OnLine("/usr/include/stdio.h", 3, 0x10)
	ix.OnLine("main.c", 3, 0x20)
	ix.OnAddress(0x10, 1)

	assert.False(t, ix.LineIsCode("/usr/include/stdio.h", 3))
	assert.Equal(t, m.ExecutionSummary{Lines: 1}, ix.ExecutionSummary())
	assert.Equal(t, []uint64{0x20}, ix.Addresses())
}

func TestIndex_FilterSeesCleanPath(t *testing.T) {
	var seen []string

	ix := NewIndex(staticChecksum(1), func(file string) bool {
		seen = append(seen, file)
		return file != "src/gen.c"
	})

	ix.OnLine("./src/../src/gen.c", 1, 0x10)
	ix.OnLine("src//main.c", 2, 0x20)

	assert.Equal(t, []string{"src/gen.c", "src/main.c"}, seen)
	assert.False(t, ix.LineIsCode("src/gen.c", 1))
	assert.Equal(t, m.ExecutionSummary{Lines: 1}, ix.ExecutionSummary())
}

func TestIndex_RemappedAddressFollowsLatestLine(t *testing.T) {
	ix := NewIndex(staticChecksum(1), nil)

	ix.OnLine("a.c", 1, 0x100)
	ix.OnLine("a.c", 2, 0x100)
	ix.OnAddress(0x100, 1)

	assert.Equal(t, m.LineExecutionCount{Hits: 1, PossibleHits: 1}, ix.LineExecutionCount("a.c", 2))
	assert.Equal(t, m.LineExecutionCount{Hits: 0, PossibleHits: 1}, ix.LineExecutionCount("a.c", 1), "address sets never shrink")
}

func TestIndex_HitsNeverExceedPossibleHits(t *testing.T) {
	ix := NewIndex(staticChecksum(1), nil)

	for i := range uint64(200) {
		ix.OnLine("f.c", uint32(i%7), 0x1000+i)
		ix.OnAddress(0x1000+i/2, 1)
		ix.OnAddress(0x1000+i, 1)

		for _, fc := range ix.Report().Files {
			for _, lc := range fc.Lines {
				require.LessOrEqual(t, lc.Hits, lc.PossibleHits)
			}
		}
	}
}

func TestIndex_MarshalRoundTrip(t *testing.T) {
	src := newScenarioIndex(t)
	src.OnAddress(0x1010, 1)

	data := src.Marshal()

	records, err := covfmt.DecodeDatabase(data, 0xc0ffee)
	require.NoError(t, err)
	assert.Equal(t, []covfmt.Record{
		{Address: 0x1000, HitCount: 0},
		{Address: 0x1010, HitCount: 1},
		{Address: 0x1014, HitCount: 0},
	}, records)

	dst := newScenarioIndex(t)
	require.NoError(t, dst.Unmarshal(data))

	assert.Equal(t, data, dst.Marshal())
	assert.Equal(t, src.Report(), dst.Report())
}

func TestIndex_UnmarshalRejectsWithoutChange(t *testing.T) {
	src := newScenarioIndex(t)
	src.OnAddress(0x1000, 1)
	src.OnAddress(0x1014, 1)
	data := src.Marshal()

	tests := []struct {
		name    string
		sums    staticChecksum
		data    []byte
		wantErr error
	}{
		{"checksum one bit off", 0xc0ffee ^ 1, data, covfmt.ErrChecksumMismatch},
		{"truncated record", 0xc0ffee, data[:len(data)-1], covfmt.ErrTruncated},
		{"empty", 0xc0ffee, nil, covfmt.ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := NewIndex(tt.sums, nil)
			dst.OnLine("a.c", 10, 0x1000)
			dst.OnLine("a.c", 11, 0x1010)
			dst.OnLine("a.c", 11, 0x1014)
			dst.OnAddress(0x1010, 1)

			before := dst.Report()

			err := dst.Unmarshal(tt.data)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, dst.Report())
		})
	}
}

func TestIndex_UnmarshalDropsUnknownAndClamps(t *testing.T) {
	data := covfmt.EncodeDatabase(7, []covfmt.Record{
		{Address: 0x1000, HitCount: 99},
		{Address: 0x9999, HitCount: 1},
		{Address: 0x1010, HitCount: 0},
	})

	ix := NewIndex(staticChecksum(7), nil)
	ix.OnLine("a.c", 10, 0x1000)
	ix.OnLine("a.c", 11, 0x1010)

	require.NoError(t, ix.Unmarshal(data))

	assert.Equal(t, m.LineExecutionCount{Hits: 1, PossibleHits: 1}, ix.LineExecutionCount("a.c", 10))
	assert.Equal(t, m.LineExecutionCount{Hits: 0, PossibleHits: 1}, ix.LineExecutionCount("a.c", 11))
	assert.NotContains(t, ix.Addresses(), uint64(0x9999))
}

func TestIndex_Report(t *testing.T) {
	ix := NewIndex(staticChecksum(1), nil)
	ix.SetBinary("app")
	ix.OnLine("b.c", 2, 0x20)
	ix.OnLine("a.c", 9, 0x10)
	ix.OnLine("a.c", 3, 0x11)
	ix.OnAddress(0x11, 1)

	report := ix.Report()

	assert.Equal(t, "app", report.Binary)
	assert.Equal(t, m.ExecutionSummary{Lines: 3, ExecutedLines: 1}, report.Summary)
	require.Len(t, report.Files, 2)
	assert.Equal(t, "a.c", report.Files[0].Path)
	assert.Equal(t, []m.LineCoverage{
		{Line: 3, Hits: 1, PossibleHits: 1},
		{Line: 9, Hits: 0, PossibleHits: 1},
	}, report.Files[0].Lines)
	assert.Equal(t, "b.c", report.Files[1].Path)
}

func TestIndex_OnFile(t *testing.T) {
	ix := NewIndex(nil, nil)
	ix.OnFile(m.File{Path: "z"})
	ix.OnFile(m.File{Path: "a", Flags: m.FileFlagScript})
	ix.OnFile(m.File{Path: "z"})

	assert.Equal(t, []m.File{{Path: "a", Flags: m.FileFlagScript}, {Path: "z"}}, ix.Files())
}

func TestIndex_ConcurrentMarshalAndHits(t *testing.T) {
	ix := NewIndex(staticChecksum(3), nil)
	for i := range uint64(64) {
		ix.OnLine("c.c", uint32(i), i)
	}

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		for i := range uint64(64) {
			ix.OnAddress(i, 1)
		}
	}()

	go func() {
		defer wg.Done()

		for range 50 {
			_, err := covfmt.DecodeDatabase(ix.Marshal(), 3)
			assert.NoError(t, err)
		}
	}()

	wg.Wait()
	assert.Equal(t, m.ExecutionSummary{Lines: 64, ExecutedLines: 64}, ix.ExecutionSummary())
}

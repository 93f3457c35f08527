package domain

import (
	"log/slog"
	"slices"
	"sort"
	"sync"

	m "covtrace.dev/pkg/covtrace/internal/model"
	"covtrace.dev/pkg/covtrace/pkg/covfmt"
)

// Filter decides whether a source file takes part in coverage.
type Filter func(file string) bool

// AcceptAll is a Filter that keeps every file.
func AcceptAll(string) bool { return true }

// line is the set of addresses implementing one source line.
type line struct {
	id    m.LineID
	addrs map[uint64]uint64
}

func newLine(id m.LineID) *line {
	return &line{id: id, addrs: make(map[uint64]uint64)}
}

func (l *line) addAddress(addr uint64) {
	if _, ok := l.addrs[addr]; !ok {
		l.addrs[addr] = 0
	}
}

// registerHit marks addr as executed. Only "at least once" is kept.
func (l *line) registerHit(addr uint64) {
	l.addrs[addr] = 1
}

func (l *line) hits() uint {
	var n uint

	for _, h := range l.addrs {
		if h > 0 {
			n++
		}
	}

	return n
}

func (l *line) possibleHits() uint {
	return uint(len(l.addrs))
}

// Index maps source lines to addresses and addresses to hit state.
//
// Discovery and hit callbacks come from the backend driver goroutine while a
// session flush goroutine marshals concurrently, so every method takes mu.
type Index struct {
	mu     sync.Mutex
	sums   Checksummer
	filter Filter
	lines  map[m.LineID]*line
	addrs  map[uint64]*line
	files  map[m.Path]m.File
	binary string
}

// NewIndex creates an empty index. sums supplies the binary checksum written
// into and verified against the persisted database.
func NewIndex(sums Checksummer, filter Filter) *Index {
	if filter == nil {
		filter = AcceptAll
	}

	return &Index{
		sums:   sums,
		filter: filter,
		lines:  make(map[m.LineID]*line),
		addrs:  make(map[uint64]*line),
		files:  make(map[m.Path]m.File),
	}
}

// SetBinary names the measured executable in reports.
func (ix *Index) SetBinary(name string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.binary = name
}

// Binary returns the name set by SetBinary.
func (ix *Index) Binary() string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.binary
}

// OnFile records a file announced by the discovery provider.
func (ix *Index) OnFile(file m.File) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.files[file.Path] = file
}

// Files returns the announced files sorted by path.
func (ix *Index) Files() []m.File {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]m.File, 0, len(ix.files))
	for _, f := range ix.files {
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out
}

// OnLine records that addr implements file:lineNr. Filtered files are
// ignored. An address seen before is re-pointed at this line.
func (ix *Index) OnLine(file string, lineNr uint32, addr uint64) {
	key := m.NewLineID(file, lineNr)

	if !ix.filter(key.File) {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	l, ok := ix.lines[key]
	if !ok {
		l = newLine(key)
		ix.lines[key] = l
	}

	l.addAddress(addr)

	if prev, ok := ix.addrs[addr]; ok && prev != l {
		slog.Debug("Address remapped to another line", "addr", addr, "from", prev.id, "to", key)
	}

	ix.addrs[addr] = l
}

// OnAddress records a hit. Addresses outside any discovered line, such as
// library code, are dropped.
func (ix *Index) OnAddress(addr uint64, _ uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if l, ok := ix.addrs[addr]; ok {
		l.registerHit(addr)
	}
}

// LineIsCode reports whether any address implements the line.
func (ix *Index) LineIsCode(file string, lineNr uint32) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, ok := ix.lines[m.NewLineID(file, lineNr)]

	return ok
}

// LineExecutionCount returns how many of a line's addresses executed.
func (ix *Index) LineExecutionCount(file string, lineNr uint32) m.LineExecutionCount {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	l, ok := ix.lines[m.NewLineID(file, lineNr)]
	if !ok {
		return m.LineExecutionCount{}
	}

	return m.LineExecutionCount{Hits: l.hits(), PossibleHits: l.possibleHits()}
}

// ExecutionSummary counts lines and executed lines in files passing the filter.
func (ix *Index) ExecutionSummary() m.ExecutionSummary {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var s m.ExecutionSummary

	for _, l := range ix.lines {
		if !ix.filter(l.id.File) {
			continue
		}

		s.Lines++

		if l.hits() > 0 {
			s.ExecutedLines++
		}
	}

	return s
}

// Addresses lists every discovered address in ascending order.
func (ix *Index) Addresses() []uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]uint64, 0, len(ix.addrs))
	for addr := range ix.addrs {
		out = append(out, addr)
	}

	slices.Sort(out)

	return out
}

// Report builds a per-file view of the index for writers.
func (ix *Index) Report() m.CoverageReport {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	byFile := make(map[string]*m.FileCoverage)
	report := m.CoverageReport{Binary: ix.binary}

	for _, l := range ix.lines {
		if !ix.filter(l.id.File) {
			continue
		}

		fc, ok := byFile[l.id.File]
		if !ok {
			fc = &m.FileCoverage{Path: l.id.File}
			byFile[l.id.File] = fc
		}

		hits := l.hits()
		fc.Lines = append(fc.Lines, m.LineCoverage{Line: l.id.Line, Hits: hits, PossibleHits: l.possibleHits()})
		fc.Summary.Lines++
		report.Summary.Lines++

		if hits > 0 {
			fc.Summary.ExecutedLines++
			report.Summary.ExecutedLines++
		}
	}

	report.Files = make([]m.FileCoverage, 0, len(byFile))
	for _, fc := range byFile {
		sort.Slice(fc.Lines, func(i, j int) bool { return fc.Lines[i].Line < fc.Lines[j].Line })
		report.Files = append(report.Files, *fc)
	}

	sort.Slice(report.Files, func(i, j int) bool { return report.Files[i].Path < report.Files[j].Path })

	return report
}

// Marshal serializes hit state keyed by address, so the database does not
// depend on how paths are spelled from one run to the next.
func (ix *Index) Marshal() []byte {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	records := make([]covfmt.Record, 0, len(ix.addrs))

	for addr, l := range ix.addrs {
		records = append(records, covfmt.Record{Address: addr, HitCount: l.addrs[addr]})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Address < records[j].Address })

	return covfmt.EncodeDatabase(ix.checksum(), records)
}

// Unmarshal merges a database produced by Marshal. On any error the index is
// left exactly as it was.
func (ix *Index) Unmarshal(data []byte) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	records, err := covfmt.DecodeDatabase(data, ix.checksum())
	if err != nil {
		return err
	}

	for _, rec := range records {
		l, ok := ix.addrs[rec.Address]
		if !ok || rec.HitCount == 0 {
			continue
		}

		hits := rec.HitCount
		// Corrupted or foreign data; clamp rather than trust it.
		if hits > uint64(l.possibleHits()) {
			hits = uint64(l.possibleHits())
		}

		if hits > 0 {
			l.registerHit(rec.Address)
		}
	}

	return nil
}

func (ix *Index) checksum() uint64 {
	if ix.sums == nil {
		return 0
	}

	return ix.sums.Checksum()
}

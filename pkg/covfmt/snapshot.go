package covfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// SnapshotMagic identifies a runtime snapshot ("MERG").
	SnapshotMagic uint32 = 0x4d455247
	// SnapshotVersion is the current runtime snapshot layout.
	SnapshotVersion uint32 = 1

	// SnapshotHeaderSize is magic + version.
	SnapshotHeaderSize = 4 + 4
)

// Snapshots are only read back on the host that wrote them, so they use the
// native byte order.
var snapshotOrder = binary.NativeEndian

// WriteSnapshot writes the snapshot header followed by the raw bit-vector words.
func WriteSnapshot(w io.Writer, words []uint32) error {
	buf := make([]byte, SnapshotHeaderSize+4*len(words))

	snapshotOrder.PutUint32(buf[0:4], SnapshotMagic)
	snapshotOrder.PutUint32(buf[4:8], SnapshotVersion)

	for i, word := range words {
		off := SnapshotHeaderSize + 4*i
		snapshotOrder.PutUint32(buf[off:off+4], word)
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return nil
}

// ReadSnapshot reads a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) ([]uint32, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	return DecodeSnapshot(data)
}

// DecodeSnapshot parses an in-memory snapshot.
func DecodeSnapshot(data []byte) ([]uint32, error) {
	if len(data) < SnapshotHeaderSize {
		return nil, fmt.Errorf("snapshot header: %w", ErrTruncated)
	}

	if magic := snapshotOrder.Uint32(data[0:4]); magic != SnapshotMagic {
		return nil, fmt.Errorf("snapshot magic 0x%08x: %w", magic, ErrBadMagic)
	}

	if version := snapshotOrder.Uint32(data[4:8]); version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d: %w", version, ErrBadVersion)
	}

	body := data[SnapshotHeaderSize:]
	if len(body)%4 != 0 {
		return nil, fmt.Errorf("snapshot body of %d bytes: %w", len(body), ErrTruncated)
	}

	words := make([]uint32, len(body)/4)
	for i := range words {
		words[i] = snapshotOrder.Uint32(body[4*i : 4*i+4])
	}

	return words, nil
}

// ErrSizeMismatch is returned when merging snapshots of different capacity.
var ErrSizeMismatch = errors.New("snapshot size mismatch")

// MergeSnapshots ORs b into a copy of a. Both runs must come from the same
// instrumented binary, so a length difference is an error.
func MergeSnapshots(a, b []uint32) ([]uint32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("merge %d and %d words: %w", len(a), len(b), ErrSizeMismatch)
	}

	out := make([]uint32, len(a))
	for i := range a {
		out[i] = a[i] | b[i]
	}

	return out, nil
}

// BitSet reports whether point is set in words.
func BitSet(words []uint32, point uint32) bool {
	idx := point / 32
	if int(idx) >= len(words) {
		return false
	}

	return words[idx]&(1<<(point%32)) != 0
}

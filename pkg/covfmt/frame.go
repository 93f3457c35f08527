package covfmt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// FrameMagic starts every helper frame ("metallgu").
	FrameMagic uint64 = 0x6d6574616c6c6775
	// FrameHeaderSize is magic + size + line.
	FrameHeaderSize = 8 + 4 + 4
	// MaxFrameSize bounds a single frame including its header.
	MaxFrameSize = 8192
)

// ErrBadFrame is returned for a frame with a wrong magic or an impossible size.
var ErrBadFrame = errors.New("bad helper frame")

// Frame is one "line executed" report from a source-level helper process.
type Frame struct {
	File string
	Line uint32
}

// WriteFrame encodes f. The filename is NUL terminated and the frame padded to
// eight bytes, which is what helpers written in other languages produce.
func WriteFrame(w io.Writer, f Frame) error {
	size := FrameHeaderSize + len(f.File) + 1
	if pad := size % 8; pad != 0 {
		size += 8 - pad
	}

	if size > MaxFrameSize {
		return fmt.Errorf("frame for %q is %d bytes: %w", f.File, size, ErrBadFrame)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint64(buf[0:8], FrameMagic)
	binary.BigEndian.PutUint32(buf[8:12], uint32(size))
	binary.BigEndian.PutUint32(buf[12:16], f.Line)
	copy(buf[FrameHeaderSize:], f.File)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

// ReadFrame decodes the next frame. A clean end of stream before any header
// byte is reported as io.EOF.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [FrameHeaderSize]byte

	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}

		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}

	magic := binary.BigEndian.Uint64(hdr[0:8])
	size := binary.BigEndian.Uint32(hdr[8:12])
	line := binary.BigEndian.Uint32(hdr[12:16])

	if magic != FrameMagic || size < FrameHeaderSize || size > MaxFrameSize {
		return Frame{}, fmt.Errorf("magic 0x%016x size %d: %w", magic, size, ErrBadFrame)
	}

	name := make([]byte, size-FrameHeaderSize)
	if _, err := io.ReadFull(r, name); err != nil {
		return Frame{}, fmt.Errorf("read frame body: %w", err)
	}

	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return Frame{File: string(name), Line: line}, nil
}

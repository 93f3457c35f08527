// Package covfmt encodes and decodes the on-disk formats shared by the coverage
// tool and the code it injects into target processes.
package covfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DatabaseMagic identifies a line database ("kcov").
	DatabaseMagic uint32 = 0x6b636f76
	// DatabaseVersion is the only database layout this package understands.
	DatabaseVersion uint32 = 2

	// DatabaseHeaderSize is magic + version + checksum.
	DatabaseHeaderSize = 4 + 4 + 8
	// RecordSize is one (address, hitCount) pair.
	RecordSize = 8 + 8
)

var (
	// ErrBadMagic is returned when a file does not start with the expected magic.
	ErrBadMagic = errors.New("bad magic")
	// ErrBadVersion is returned for an unsupported format version.
	ErrBadVersion = errors.New("unsupported version")
	// ErrChecksumMismatch is returned when a database was produced for another binary.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrTruncated is returned when the body is not a whole number of records.
	ErrTruncated = errors.New("truncated data")
)

// Record is one persisted address and its hit count.
type Record struct {
	Address  uint64
	HitCount uint64
}

// EncodeDatabase lays out a line database. All fields are big-endian.
func EncodeDatabase(checksum uint64, records []Record) []byte {
	out := make([]byte, DatabaseHeaderSize+len(records)*RecordSize)

	binary.BigEndian.PutUint32(out[0:4], DatabaseMagic)
	binary.BigEndian.PutUint32(out[4:8], DatabaseVersion)
	binary.BigEndian.PutUint64(out[8:16], checksum)

	p := out[DatabaseHeaderSize:]
	for _, rec := range records {
		binary.BigEndian.PutUint64(p[0:8], rec.Address)
		binary.BigEndian.PutUint64(p[8:16], rec.HitCount)
		p = p[RecordSize:]
	}

	return out
}

// DecodeDatabase validates the header against checksum and returns the records.
// Nothing is returned unless the whole buffer is valid.
func DecodeDatabase(data []byte, checksum uint64) ([]Record, error) {
	if len(data) < DatabaseHeaderSize {
		return nil, fmt.Errorf("database header: %w", ErrTruncated)
	}

	if magic := binary.BigEndian.Uint32(data[0:4]); magic != DatabaseMagic {
		return nil, fmt.Errorf("database magic 0x%08x: %w", magic, ErrBadMagic)
	}

	if version := binary.BigEndian.Uint32(data[4:8]); version != DatabaseVersion {
		return nil, fmt.Errorf("database version %d: %w", version, ErrBadVersion)
	}

	if sum := binary.BigEndian.Uint64(data[8:16]); sum != checksum {
		return nil, fmt.Errorf("database checksum 0x%016x, want 0x%016x: %w", sum, checksum, ErrChecksumMismatch)
	}

	body := data[DatabaseHeaderSize:]
	if len(body)%RecordSize != 0 {
		return nil, fmt.Errorf("database body of %d bytes: %w", len(body), ErrTruncated)
	}

	records := make([]Record, len(body)/RecordSize)
	for i := range records {
		records[i] = Record{
			Address:  binary.BigEndian.Uint64(body[0:8]),
			HitCount: binary.BigEndian.Uint64(body[8:16]),
		}
		body = body[RecordSize:]
	}

	return records, nil
}

// Package adapter contains the storage, filter, writer and backend adapters
// behind the covtrace CLI.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	m "covtrace.dev/pkg/covtrace/internal/model"
)

// DatabaseFile is the per-binary database name under the output directory.
const DatabaseFile = "coverage.db"

// CoverageStore keeps one line database per measured binary under root.
type CoverageStore struct {
	fs   afero.Fs
	root string
}

// NewCoverageStore creates a store rooted at the output directory.
func NewCoverageStore(fs afero.Fs, root string) *CoverageStore {
	return &CoverageStore{fs: fs, root: root}
}

// DatabasePath returns where the database for binary lives.
func (s *CoverageStore) DatabasePath(binary string) string {
	return filepath.Join(s.root, binary, DatabaseFile)
}

// Load returns the stored database or nil when none was written yet.
func (s *CoverageStore) Load(ctx context.Context, binary string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.DatabasePath(binary))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read database: %w", err)
	}

	return data, nil
}

// Save replaces the database for binary.
func (s *CoverageStore) Save(ctx context.Context, binary string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return writeFileAtomic(s.fs, s.DatabasePath(binary), data)
}

// Header reads up to n leading bytes of path. Short files return what they
// have.
func (s *CoverageStore) Header(ctx context.Context, path m.Path, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(string(path))
	if err != nil {
		return nil, err
	}

	defer func() { _ = f.Close() }()

	buf := make([]byte, n)

	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return buf[:read], nil
}

// writeFileAtomic writes data next to path and renames it into place so
// readers never see a partial file.
func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)

	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fs, dir, filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)

		return fmt.Errorf("write %s: %w", tmpName, err)
	}

	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return err
	}

	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}

	return nil
}

// Package model defines the data structures shared by the coverage engine.
package model

import "path/filepath"

// Path represents a file system path.
type Path string

// FileFlags describe a file announced by a discovery provider.
type FileFlags uint

const (
	// FileFlagNone marks the main executable or a plain source file.
	FileFlagNone FileFlags = 0
	// FileFlagSharedLibrary marks a shared object loaded by the target.
	FileFlagSharedLibrary FileFlags = 1 << iota
	// FileFlagScript marks an interpreted source file.
	FileFlagScript
)

// File is a file reported by a discovery provider.
type File struct {
	Path  Path
	Flags FileFlags
}

// LineID identifies a source line by normalized path and 1-based number.
type LineID struct {
	File string
	Line uint32
}

// NewLineID normalizes file so the same line always maps to the same key.
func NewLineID(file string, line uint32) LineID {
	return LineID{File: filepath.Clean(file), Line: line}
}

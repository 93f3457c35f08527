package runtimecov

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables the coverage tool sets for an instrumented target.
const (
	EnvRunID   = "COVTRACE_RUN_ID"
	EnvDataDir = "COVTRACE_DATA_DIR"
)

// Default is the collector used by injected call sites. Instrumentation is
// spliced into foreign code with no constructor to receive a *Collector, so
// this one package-level instance is the hand-off point. It is written once by
// Init and only read afterwards.
var Default = New()

// Init initializes Default.
func Init(id uint64, words int) {
	Default.Init(id, words)
}

// ReportHit records point on Default.
func ReportHit(point uint32) {
	Default.ReportHit(point)
}

// InitFromEnv initializes Default from the run identifier and data directory
// exported by the coverage tool.
func InitFromEnv(words int) error {
	raw := os.Getenv(EnvRunID)
	if raw == "" {
		return fmt.Errorf("%s is not set", EnvRunID)
	}

	id, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", EnvRunID, err)
	}

	if dir := os.Getenv(EnvDataDir); dir != "" {
		Default.dir = dir
	}

	Default.Init(id, words)

	return nil
}

// Shutdown performs the final flush of Default. Go has no atexit, so
// instrumented programs defer Shutdown in main or leave through Exit.
func Shutdown() {
	_ = Default.Flush()
}

// Exit flushes Default and terminates the process.
func Exit(code int) {
	Shutdown()
	os.Exit(code)
}

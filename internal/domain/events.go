package domain

import (
	"errors"
	"fmt"
	"sync"

	m "covtrace.dev/pkg/covtrace/internal/model"
)

var (
	// ErrNotStarted is returned for events that arrive before Start.
	ErrNotStarted = errors.New("target not started")
	// ErrTerminated is returned for events after exit or error.
	ErrTerminated = errors.New("target already terminated")
)

// ExecutionTracker follows a target through
// not-started -> running -> (stopped-at-event)* -> exited | errored.
type ExecutionTracker struct {
	mu         sync.Mutex
	state      m.ExecutionState
	exitStatus int
	events     uint64
}

// NewExecutionTracker returns a tracker in the not-started state.
func NewExecutionTracker() *ExecutionTracker {
	return &ExecutionTracker{state: m.StateNotStarted}
}

// Started moves the tracker to running.
func (t *ExecutionTracker) Started() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != m.StateNotStarted {
		return fmt.Errorf("start from state %s: %w", t.state, ErrTerminated)
	}

	t.state = m.StateRunning

	return nil
}

// Resumed records that the driver let the target run again.
func (t *ExecutionTracker) Resumed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == m.StateStopped {
		t.state = m.StateRunning
	}
}

// Observe applies ev. A breakpoint or signal stops the target; exit and error
// are terminal.
func (t *ExecutionTracker) Observe(ev m.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case m.StateNotStarted:
		return fmt.Errorf("%s event: %w", ev.Type, ErrNotStarted)
	case m.StateExited, m.StateErrored:
		return fmt.Errorf("%s event: %w", ev.Type, ErrTerminated)
	case m.StateRunning, m.StateStopped:
	}

	t.events++

	switch ev.Type {
	case m.EventExit:
		t.state = m.StateExited
		t.exitStatus = ev.Data
	case m.EventError:
		t.state = m.StateErrored
	case m.EventBreakpoint, m.EventSignal:
		t.state = m.StateStopped
	}

	return nil
}

// State returns the current lifecycle state.
func (t *ExecutionTracker) State() m.ExecutionState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// ExitStatus is the status carried by the exit event.
func (t *ExecutionTracker) ExitStatus() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.exitStatus
}

// Events counts accepted events.
func (t *ExecutionTracker) Events() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.events
}

package model

import "fmt"

// EventType classifies what stopped the target.
type EventType int

const (
	// EventBreakpoint reports that an address executed.
	EventBreakpoint EventType = iota
	// EventSignal reports a signal delivered to the target.
	EventSignal
	// EventExit reports normal termination; Data carries the exit status.
	EventExit
	// EventError reports that the backend lost the target.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventBreakpoint:
		return "breakpoint"
	case EventSignal:
		return "signal"
	case EventExit:
		return "exit"
	case EventError:
		return "error"
	}

	return fmt.Sprintf("EventType(%d)", int(t))
}

// Terminal reports whether no further events may follow.
func (t EventType) Terminal() bool {
	return t == EventExit || t == EventError
}

// Event is emitted by an execution driver each time the target stops.
type Event struct {
	Type EventType
	Data int
	Addr uint64
}

// ExecutionState is the lifecycle position of a traced target.
type ExecutionState int

const (
	// StateNotStarted is the state before the driver starts the target.
	StateNotStarted ExecutionState = iota
	// StateRunning means the target executes between events.
	StateRunning
	// StateStopped means the driver holds the target at an event.
	StateStopped
	// StateExited is terminal after normal exit.
	StateExited
	// StateErrored is terminal after a backend error.
	StateErrored
)

func (s ExecutionState) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateExited:
		return "exited"
	case StateErrored:
		return "errored"
	}

	return fmt.Sprintf("ExecutionState(%d)", int(s))
}

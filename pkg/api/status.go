package api

import "github.com/GhostKellz/ghostflow/pkg/util"

type (
	// Status is the lifecycle state shared by flow and node executions
	Status string

	// StateTransitions maps states to their set of valid next states
	StateTransitions[T comparable] map[T]util.Set[T]
)

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var (
	// FlowTransitions validates FlowExecution status changes
	FlowTransitions = StateTransitions[Status]{
		StatusPending: util.SetOf(
			StatusRunning,
			StatusFailed,
			StatusCancelled,
		),
		StatusRunning: util.SetOf(
			StatusCompleted,
			StatusFailed,
			StatusCancelled,
		),
		StatusCompleted: {},
		StatusFailed:    {},
		StatusCancelled: {},
	}

	// NodeTransitions validates NodeExecution status changes. A failed
	// attempt may re-enter running through retrying while the retry budget
	// allows
	NodeTransitions = StateTransitions[Status]{
		StatusPending: util.SetOf(
			StatusRunning,
			StatusFailed,
			StatusCancelled,
		),
		StatusRunning: util.SetOf(
			StatusCompleted,
			StatusFailed,
			StatusCancelled,
		),
		StatusFailed: util.SetOf(
			StatusRetrying,
		),
		StatusRetrying: util.SetOf(
			StatusRunning,
			StatusCancelled,
		),
		StatusCompleted: {},
		StatusCancelled: {},
	}

	terminalStatuses = util.SetOf(
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
	)
)

// CanTransition returns whether transition from one state to another is valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

// IsTerminal returns true if the state has no valid transitions
func (t StateTransitions[T]) IsTerminal(state T) bool {
	allowed, ok := t[state]
	return ok && allowed.IsEmpty()
}

// IsTerminal reports whether the status ends an execution. A failed node
// can still enter retrying while its retry budget allows
func (s Status) IsTerminal() bool {
	return terminalStatuses.Contains(s)
}

// IsValid reports whether the status is part of the shared vocabulary
func (s Status) IsValid() bool {
	_, ok := NodeTransitions[s]
	return ok
}

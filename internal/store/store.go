// Package store persists flow executions and the records they own. Every
// write is idempotent under replay of the same call
package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

// Store is the persistence contract consumed by the engine. A
// FlowExecution owns its node executions, logs, and artifacts, and
// deleting it removes them
type Store interface {
	CreateFlowExecution(context.Context, *api.FlowExecution) error
	UpdateFlowExecutionStatus(context.Context, *api.FlowExecution) error
	CreateNodeExecution(context.Context, *api.NodeExecution) error
	UpdateNodeExecution(context.Context, *api.NodeExecution) error
	AppendLog(context.Context, *api.ExecutionLog) error
	PutArtifact(context.Context, *api.Artifact) error

	GetFlowExecution(
		context.Context, api.ExecutionID,
	) (*api.FlowExecution, error)
	ListExecutions(context.Context, api.FlowID) ([]*api.FlowExecution, error)
	GetNodeExecution(
		context.Context, api.ExecutionID, api.NodeID,
	) (*api.NodeExecution, error)
	ListNodeExecutions(
		context.Context, api.ExecutionID,
	) ([]*api.NodeExecution, error)
	ListLogs(context.Context, api.ExecutionID) ([]*api.ExecutionLog, error)
	ListArtifacts(context.Context, api.ExecutionID) ([]*api.Artifact, error)
	DeleteFlowExecution(context.Context, api.ExecutionID) error

	Close() error
}

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminal          = errors.New("record is terminal")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrArtifactExists    = errors.New("artifact name already recorded")
	ErrConflict          = errors.New("concurrent update conflict")
)

// decideFlowUpdate reports whether next should replace cur. Replaying a
// terminal status is a no-op
func decideFlowUpdate(cur, next *api.FlowExecution) (bool, error) {
	if next.ID != cur.ID {
		return false, ErrInvalidRecord
	}
	return decideTransition(api.FlowTransitions, cur.Status, next.Status)
}

// decideNodeUpdate reports whether next should replace cur, given the
// owning execution
func decideNodeUpdate(
	parent *api.FlowExecution, cur, next *api.NodeExecution,
) (bool, error) {
	if next.ExecutionID != cur.ExecutionID || next.NodeID != cur.NodeID {
		return false, ErrInvalidRecord
	}
	if cur.Status == next.Status && cur.Status.IsTerminal() {
		return false, nil
	}
	if parent.Status.IsTerminal() {
		return false, ErrTerminal
	}
	return decideTransition(api.NodeTransitions, cur.Status, next.Status)
}

// checkChildWrite rejects new child records under a terminal execution
func checkChildWrite(parent *api.FlowExecution) error {
	if parent.Status.IsTerminal() {
		return ErrTerminal
	}
	return nil
}

func decideTransition(
	tr api.StateTransitions[api.Status], from, to api.Status,
) (bool, error) {
	switch {
	case from == to && from.IsTerminal():
		return false, nil
	case from == to:
		return true, nil
	case tr.CanTransition(from, to):
		return true, nil
	case tr.IsTerminal(from):
		return false, ErrTerminal
	default:
		return false, ErrInvalidTransition
	}
}

func validateFlowExecution(e *api.FlowExecution) error {
	if e == nil || e.ID == "" || e.FlowID == "" || !e.Status.IsValid() {
		return ErrInvalidRecord
	}
	return nil
}

func validateNodeExecution(n *api.NodeExecution) error {
	if n == nil || n.ExecutionID == "" || n.NodeID == "" ||
		!n.Status.IsValid() {
		return ErrInvalidRecord
	}
	return nil
}

func validateLog(l *api.ExecutionLog) error {
	if l == nil || l.ID == "" || l.ExecutionID == "" {
		return ErrInvalidRecord
	}
	return nil
}

func validateArtifact(a *api.Artifact) error {
	if a == nil || a.ID == "" || a.ExecutionID == "" || a.Name == "" {
		return ErrInvalidRecord
	}
	return nil
}

func sortExecutions(res []*api.FlowExecution) {
	slices.SortFunc(res, func(a, b *api.FlowExecution) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
}

func sortNodeExecutions(res []*api.NodeExecution) {
	slices.SortFunc(res, func(a, b *api.NodeExecution) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.NodeID), string(b.NodeID))
	})
}

func sortLogs(res []*api.ExecutionLog) {
	slices.SortFunc(res, func(a, b *api.ExecutionLog) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func sortArtifacts(res []*api.Artifact) {
	slices.SortFunc(res, func(a, b *api.Artifact) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

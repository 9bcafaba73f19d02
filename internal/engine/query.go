package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GhostKellz/ghostflow/internal/artifact"
	"github.com/GhostKellz/ghostflow/internal/store"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
)

// GetExecution returns the current record of an execution. Terminal
// records are served from an in-process cache
func (e *Engine) GetExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.FlowExecution, error) {
	ex, err := e.cache.GetOrLoad(id, func() (*api.FlowExecution, bool, error) {
		ex, err := e.store.GetFlowExecution(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return ex, ex.Status.IsTerminal(), nil
	})
	if err != nil {
		return nil, notFound(id, err)
	}
	return ex.Clone(), nil
}

// ListExecutions returns the executions of a flow, or of every flow when
// flowID is empty, oldest first
func (e *Engine) ListExecutions(
	ctx context.Context, flowID api.FlowID,
) ([]*api.FlowExecution, error) {
	return e.store.ListExecutions(ctx, flowID)
}

// ListNodeExecutions returns the node records of an execution
func (e *Engine) ListNodeExecutions(
	ctx context.Context, id api.ExecutionID,
) ([]*api.NodeExecution, error) {
	if _, err := e.GetExecution(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListNodeExecutions(ctx, id)
}

// GetNodeExecution returns the record of a single node in an execution
func (e *Engine) GetNodeExecution(
	ctx context.Context, id api.ExecutionID, nodeID api.NodeID,
) (*api.NodeExecution, error) {
	n, err := e.store.GetNodeExecution(ctx, id, nodeID)
	if err != nil {
		return nil, notFound(id, err)
	}
	return n, nil
}

// ListLogs returns the log entries of an execution in timestamp order
func (e *Engine) ListLogs(
	ctx context.Context, id api.ExecutionID,
) ([]*api.ExecutionLog, error) {
	if _, err := e.GetExecution(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListLogs(ctx, id)
}

// ListArtifacts returns the artifact records of an execution
func (e *Engine) ListArtifacts(
	ctx context.Context, id api.ExecutionID,
) ([]*api.Artifact, error) {
	if _, err := e.GetExecution(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListArtifacts(ctx, id)
}

// ReadArtifact returns the record and verified contents of a named
// artifact
func (e *Engine) ReadArtifact(
	ctx context.Context, id api.ExecutionID, name string,
) (*api.Artifact, []byte, error) {
	arts, err := e.ListArtifacts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range arts {
		if a.Name != name {
			continue
		}
		data, err := e.artifacts.Get(ctx, a)
		if err != nil {
			return nil, nil, err
		}
		return a, data, nil
	}
	return nil, nil, fmt.Errorf("%w: %s/%s", artifact.ErrArtifactNotFound, id, name)
}

// Wait blocks until an execution is terminal and returns its final
// record. A run whose state could not be persisted reports a
// *api.PersistenceError
func (e *Engine) Wait(
	ctx context.Context, id api.ExecutionID,
) (*api.FlowExecution, error) {
	if r, ok := e.lookupRun(id); ok {
		select {
		case <-r.done:
			return r.result.Clone(), r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ex, err := e.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ex.Status.IsTerminal() {
		return ex, fmt.Errorf("%w: %s", ErrExecutionNotActive, id)
	}
	if ex.Error != nil && ex.Error.Kind == api.KindPersistence {
		return ex, &api.PersistenceError{Op: persistedOp(ex.Error), Err: ex.Error}
	}
	return ex, nil
}

// DeleteExecution removes a terminal execution with its node records,
// logs, artifact records, and artifact contents
func (e *Engine) DeleteExecution(ctx context.Context, id api.ExecutionID) error {
	ex, err := e.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if !ex.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrExecutionNotTerminal, id)
	}

	if err := e.artifacts.DeleteExecution(ctx, id); err != nil {
		return err
	}
	if err := e.store.DeleteFlowExecution(ctx, id); err != nil {
		return notFound(id, err)
	}
	e.cache.Remove(id)
	slog.Info("Execution deleted",
		log.ExecutionID(id), log.FlowID(ex.FlowID))
	return nil
}

func notFound(id api.ExecutionID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return err
}

func persistedOp(info *api.ErrorInfo) string {
	if op, ok := info.Details.Get("op"); ok {
		if s, ok := op.AsString(); ok {
			return s
		}
	}
	return ""
}

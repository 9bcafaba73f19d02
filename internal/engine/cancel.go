package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
)

// CancelExecution requests cancellation of an execution. Repeated requests
// and requests for an already cancelled execution succeed; other terminal
// executions return ErrExecutionTerminal
func (e *Engine) CancelExecution(ctx context.Context, id api.ExecutionID) error {
	if r, ok := e.lookupRun(id); ok {
		r.requestCancel()
		return nil
	}

	ex, err := e.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case ex.Status == api.StatusCancelled:
		return nil
	case ex.Status.IsTerminal():
		return fmt.Errorf("%w: %s is %s", ErrExecutionTerminal, id, ex.Status)
	}

	if r, ok := e.lookupRun(id); ok {
		r.requestCancel()
		return nil
	}
	slog.Warn("Cancelling execution with no active run", log.ExecutionID(id))
	return e.closeOrphan(ctx, ex, api.StatusCancelled,
		api.ErrorInfoOf(api.ErrCancelled))
}

// closeOrphan terminates a non-terminal execution that no run in this
// process is driving. Open nodes are cancelled first
func (e *Engine) closeOrphan(
	ctx context.Context, ex *api.FlowExecution, status api.Status,
	info *api.ErrorInfo,
) error {
	sctx := context.WithoutCancel(ctx)
	nodes, err := e.store.ListNodeExecutions(sctx, ex.ID)
	if err != nil {
		return err
	}

	now := e.now()
	cancelled := api.ErrorInfoOf(api.ErrCancelled)
	for _, n := range nodes {
		if !api.NodeTransitions.CanTransition(n.Status, api.StatusCancelled) {
			continue
		}
		n.Status = api.StatusCancelled
		n.Error = cancelled
		n.CompletedAt = now
		if err := e.persist(sctx, opUpdateNode, func(ctx context.Context) error {
			return e.store.UpdateNodeExecution(ctx, n)
		}); err != nil {
			return err
		}
		e.publishNode(ex, n, api.EventNodeCancelled)
	}

	ex.Status = status
	ex.Error = info
	ex.CompletedAt = now
	if !ex.StartedAt.IsZero() {
		ex.DurationMs = now.Sub(ex.StartedAt).Milliseconds()
	}
	if err := e.persist(sctx, opUpdateExecution, func(ctx context.Context) error {
		return e.store.UpdateFlowExecutionStatus(ctx, ex)
	}); err != nil {
		return err
	}
	e.cache.Put(ex.ID, ex.Clone())
	e.publishExecution(ex, terminalEvents[status])
	return nil
}

package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
)

// ErrInterrupted is recorded on executions found unfinished at startup
var ErrInterrupted = errors.New("execution interrupted by engine restart")

// recoverExecutions fails every execution left non-terminal by a previous
// process for this executor. In-flight node work cannot be resumed
func (e *Engine) recoverExecutions(ctx context.Context) error {
	execs, err := e.store.ListExecutions(ctx, "")
	if err != nil {
		return err
	}

	info := &api.ErrorInfo{
		Kind:    api.KindInterrupted,
		Message: ErrInterrupted.Error(),
	}
	var count int
	for _, ex := range execs {
		if !e.shouldRecover(ex) {
			continue
		}
		if err := e.closeOrphan(ctx, ex, api.StatusFailed, info); err != nil {
			logError("Failed to recover execution", err,
				log.ExecutionID(ex.ID), log.FlowID(ex.FlowID))
			continue
		}
		count++
	}
	if count > 0 {
		slog.Info("Recovered interrupted executions", slog.Int("count", count))
	}
	return nil
}

func (e *Engine) shouldRecover(ex *api.FlowExecution) bool {
	if ex.Status.IsTerminal() {
		return false
	}
	if _, ok := e.lookupRun(ex.ID); ok {
		return false
	}
	if id := ex.Metadata.ExecutorID; id != "" && id != e.config.ExecutorID {
		return false
	}
	_, err := e.flowVersion(ex.FlowID, ex.FlowVersion)
	return err == nil
}

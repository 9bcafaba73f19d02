package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/GhostKellz/ghostflow/internal/store"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
)

const (
	opCreateExecution = "create_execution"
	opUpdateExecution = "update_execution"
	opCreateNode      = "create_node"
	opUpdateNode      = "update_node"
	opAppendLog       = "append_log"
	opPutArtifact     = "put_artifact"

	persistBackoff    = 5 * time.Millisecond
	maxPersistBackoff = 25 * time.Millisecond
)

// persist runs an idempotent store call, retrying transient failures. A
// call that still fails is reported as a *api.PersistenceError. Run loops
// persist inline, so each pause between retries is capped by
// maxPersistBackoff
func (e *Engine) persist(
	ctx context.Context, op string, fn func(context.Context) error,
) error {
	var err error
	for attempt := 0; attempt <= e.config.PersistRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(persistDelay(attempt))
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !isTransient(err) {
			break
		}
	}
	e.metrics.PersistFailures.WithLabelValues(op).Inc()
	return &api.PersistenceError{Op: op, Err: err}
}

func persistDelay(attempt int) time.Duration {
	return min(persistBackoff*time.Duration(attempt), maxPersistBackoff)
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, store.ErrTerminal),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrInvalidRecord),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrArtifactExists):
		return false
	default:
		return true
	}
}

// appendLog records an execution log entry. Log writes never fail a run
func (e *Engine) appendLog(
	ex api.ExecutionID, nodeID api.NodeID, level api.LogLevel, msg string,
	fields map[string]api.Value,
) {
	entry := &api.ExecutionLog{
		ID:          api.LogID(newID()),
		Timestamp:   e.now(),
		ExecutionID: ex,
		NodeID:      nodeID,
		Level:       level,
		Message:     msg,
		Fields:      fields,
	}
	slog.Debug(msg,
		log.ExecutionID(ex),
		log.NodeID(nodeID),
		slog.String("level", string(level)))

	ctx := context.Background()
	if err := e.persist(ctx, opAppendLog, func(ctx context.Context) error {
		return e.store.AppendLog(ctx, entry)
	}); err != nil {
		logError("Failed to append execution log", err,
			log.ExecutionID(ex), log.NodeID(nodeID))
	}
}

package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

// StartRequest describes a new execution. Unset trigger and metadata
// fields are filled from the engine configuration
type StartRequest struct {
	Input    api.Value
	Trigger  api.TriggerMetadata
	Metadata api.ExecutionMetadata
}

// StartExecution creates an execution of the active version of a flow and
// begins running it in the background. It returns once the execution and
// its node records are persisted as running
func (e *Engine) StartExecution(
	ctx context.Context, flowID api.FlowID, req StartRequest,
) (api.ExecutionID, error) {
	fv, err := e.activeFlow(flowID)
	if err != nil {
		return "", err
	}
	return e.startVersion(ctx, fv, req)
}

func (e *Engine) startVersion(
	ctx context.Context, fv *flowVersion, req StartRequest,
) (api.ExecutionID, error) {
	if e.Stopped() {
		return "", ErrEngineStopped
	}

	f := fv.flow
	vars, err := bindParameters(f, req.Input)
	if err != nil {
		return "", err
	}
	secrets, err := e.resolveSecrets(ctx, f.Secrets)
	if err != nil {
		return "", api.NewValidationError("", err)
	}

	now := e.now()
	ex := &api.FlowExecution{
		ID:          api.ExecutionID(newID()),
		FlowID:      f.ID,
		FlowVersion: f.Version,
		Status:      api.StatusPending,
		Input:       req.Input,
		CreatedAt:   now,
		Trigger:     req.Trigger,
		Metadata:    req.Metadata,
	}
	e.fillDefaults(ex, now)

	nodes := make(map[api.NodeID]*api.NodeExecution, len(f.Nodes))
	for _, n := range f.Nodes {
		nodes[n.ID] = &api.NodeExecution{
			ID:          api.NodeExecutionID(newID()),
			ExecutionID: ex.ID,
			NodeID:      n.ID,
			NodeType:    n.Type,
			Status:      api.StatusPending,
			CreatedAt:   now,
		}
	}

	// Tracked before any record is visible to CancelExecution
	r := newRun(e, fv, ex, nodes, node.NewRunState(vars, secrets))
	if !e.addRun(r) {
		r.requestCancel()
	}

	sctx := context.WithoutCancel(ctx)
	if err := e.persist(sctx, opCreateExecution, func(ctx context.Context) error {
		return e.store.CreateFlowExecution(ctx, ex)
	}); err != nil {
		r.discard(err)
		return "", err
	}

	for _, n := range f.Nodes {
		rec := nodes[n.ID]
		if err := e.persist(sctx, opCreateNode, func(ctx context.Context) error {
			return e.store.CreateNodeExecution(ctx, rec)
		}); err != nil {
			e.abandon(sctx, ex, err)
			r.discard(err)
			return "", err
		}
	}

	ex.Status = api.StatusRunning
	ex.StartedAt = e.now()
	if err := e.persist(sctx, opUpdateExecution, func(ctx context.Context) error {
		return e.store.UpdateFlowExecutionStatus(ctx, ex)
	}); err != nil {
		ex.Status = api.StatusPending
		e.abandon(sctx, ex, err)
		r.discard(err)
		return "", err
	}

	e.metrics.ExecutionsStarted.WithLabelValues(string(f.ID)).Inc()
	e.publishExecution(ex, api.EventExecutionStarted)
	slog.Info("Execution started",
		log.ExecutionID(ex.ID),
		log.FlowID(f.ID),
		slog.String("trigger", string(ex.Trigger.Kind)))

	go r.loop()
	return ex.ID, nil
}

func (e *Engine) fillDefaults(ex *api.FlowExecution, now time.Time) {
	if ex.Trigger.Kind == "" {
		ex.Trigger.Kind = api.TriggerManual
	}
	if ex.Trigger.FiredAt.IsZero() {
		ex.Trigger.FiredAt = now
	}
	md := &ex.Metadata
	if md.ExecutorID == "" {
		md.ExecutorID = e.config.ExecutorID
	}
	if md.Environment == "" {
		md.Environment = e.config.Environment
	}
	if md.TraceID == "" {
		md.TraceID = string(ex.ID)
	}
}

// abandon marks an execution that could not be fully created as failed,
// on a best-effort basis
func (e *Engine) abandon(ctx context.Context, ex *api.FlowExecution, cause error) {
	failed := ex.Clone()
	failed.Status = api.StatusFailed
	failed.Error = api.ErrorInfoOf(cause)
	failed.CompletedAt = e.now()
	if err := e.store.UpdateFlowExecutionStatus(ctx, failed); err != nil {
		logError("Failed to abandon execution", err, log.ExecutionID(ex.ID))
	}
}

func (e *Engine) publishExecution(ex *api.FlowExecution, typ api.EventType) {
	e.hub.Publish(&api.LifecycleEvent{
		Timestamp:   e.now(),
		Type:        typ,
		ExecutionID: ex.ID,
		FlowID:      ex.FlowID,
		Status:      ex.Status,
		Error:       ex.Error,
	})
}

func (e *Engine) publishNode(
	ex *api.FlowExecution, n *api.NodeExecution, typ api.EventType,
) {
	e.hub.Publish(&api.LifecycleEvent{
		Timestamp:   e.now(),
		Type:        typ,
		ExecutionID: ex.ID,
		FlowID:      ex.FlowID,
		NodeID:      n.NodeID,
		Status:      n.Status,
		Error:       n.Error,
		RetryCount:  n.RetryCount,
	})
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

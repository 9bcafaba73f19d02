package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GhostKellz/ghostflow/internal/engine/scheduler"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
)

const triggerKeyRoot = "trigger"

// Trigger returns an enabled trigger of the active flow version
func (e *Engine) Trigger(
	flowID api.FlowID, triggerID api.TriggerID,
) (*api.Trigger, error) {
	fv, err := e.activeFlow(flowID)
	if err != nil {
		return nil, err
	}
	t, ok := fv.flow.Trigger(triggerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrTriggerNotFound, flowID, triggerID)
	}
	if !t.Enabled {
		return nil, fmt.Errorf("%w: %s/%s", ErrTriggerDisabled, flowID, triggerID)
	}
	return t, nil
}

// FireTrigger starts an execution on behalf of a manual or webhook trigger.
// Schedule triggers fire only from their timer
func (e *Engine) FireTrigger(
	ctx context.Context, flowID api.FlowID, triggerID api.TriggerID,
	input api.Value, data map[string]string,
) (api.ExecutionID, error) {
	t, err := e.Trigger(flowID, triggerID)
	if err != nil {
		return "", err
	}
	if t.Kind == api.TriggerSchedule {
		return "", fmt.Errorf("%w: %s is %s", ErrTriggerKind, triggerID, t.Kind)
	}
	return e.StartExecution(ctx, flowID, StartRequest{
		Input: input,
		Trigger: api.TriggerMetadata{
			Kind:      t.Kind,
			TriggerID: t.ID,
			Data:      data,
		},
	})
}

// armTriggers schedules the first firing of every enabled schedule
// trigger. Callers hold flowsMu
func (e *Engine) armTriggers(fv *flowVersion) {
	for _, t := range fv.flow.Triggers {
		if !t.Enabled || t.Kind != api.TriggerSchedule {
			continue
		}
		interval, err := t.ScheduleInterval()
		if err != nil {
			continue
		}
		e.armTrigger(fv, t, interval)
	}
}

func (e *Engine) armTrigger(fv *flowVersion, t *api.Trigger, d time.Duration) {
	key := triggerKey(fv.flow.ID, t.ID)
	e.sched.After(e.ctx, key, d, func(context.Context) error {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.fireSchedule(fv, t, d)
		}()
		return nil
	})
}

func (e *Engine) fireSchedule(fv *flowVersion, t *api.Trigger, d time.Duration) {
	if e.Stopped() {
		return
	}
	flowID := fv.flow.ID
	id, err := e.startVersion(e.ctx, fv, StartRequest{
		Trigger: api.TriggerMetadata{
			Kind:      api.TriggerSchedule,
			TriggerID: t.ID,
		},
	})
	if err != nil {
		logError("Scheduled trigger failed", err,
			log.FlowID(flowID), slog.String("trigger_id", string(t.ID)))
	} else {
		slog.Info("Scheduled trigger fired",
			log.FlowID(flowID),
			log.ExecutionID(id),
			slog.String("trigger_id", string(t.ID)))
	}

	e.flowsMu.RLock()
	defer e.flowsMu.RUnlock()
	if ent, ok := e.flows[flowID]; ok && ent.active == fv && !e.Stopped() {
		e.armTrigger(fv, t, d)
	}
}

// disarmTriggers cancels every pending firing for a flow. Callers hold
// flowsMu
func (e *Engine) disarmTriggers(id api.FlowID) {
	e.sched.CancelPrefix(e.ctx, scheduler.Key{triggerKeyRoot, string(id)})
}

func triggerKey(flowID api.FlowID, triggerID api.TriggerID) scheduler.Key {
	return scheduler.Key{triggerKeyRoot, string(flowID), string(triggerID)}
}

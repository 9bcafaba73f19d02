package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/ghostflow/internal/assert/helpers"
	"github.com/GhostKellz/ghostflow/internal/assert/wait"
	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

func flowEvents(id api.FlowID, typ api.EventType) api.EventFilter {
	return func(ev *api.LifecycleEvent) bool {
		return ev.FlowID == id && ev.Type == typ
	}
}

func TestScheduleTriggerFires(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		consumer := env.Hub.NewConsumer()
		defer consumer.Close()

		f := helpers.NewFlow().
			Node("a", node.PassthroughType).
			Trigger(&api.Trigger{
				ID:      "tick",
				Kind:    api.TriggerSchedule,
				Enabled: true,
				Config:  api.TriggerConfig{Interval: "20ms"},
			}).
			Build()
		assert.NoError(t, env.Engine.RegisterFlow(f))

		w := wait.On(t, consumer)
		evs := w.ForEvents(2, flowEvents(f.ID, api.EventExecutionCompleted))
		assert.Len(t, evs, 2)

		ex, err := env.Engine.GetExecution(context.Background(), evs[0].ExecutionID)
		assert.NoError(t, err)
		assert.Equal(t, api.TriggerSchedule, ex.Trigger.Kind)
		assert.Equal(t, api.TriggerID("tick"), ex.Trigger.TriggerID)

		assert.NoError(t, env.Engine.UnregisterFlow(f.ID))
		time.Sleep(30 * time.Millisecond)
		execs, err := env.Engine.ListExecutions(context.Background(), f.ID)
		assert.NoError(t, err)
		settled := len(execs)

		time.Sleep(100 * time.Millisecond)
		execs, err = env.Engine.ListExecutions(context.Background(), f.ID)
		assert.NoError(t, err)
		assert.Len(t, execs, settled)
	})
}

func TestDisabledScheduleNeverFires(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		f := helpers.NewFlow().
			Node("a", node.PassthroughType).
			Trigger(&api.Trigger{
				ID:     "tick",
				Kind:   api.TriggerSchedule,
				Config: api.TriggerConfig{Interval: "10ms"},
			}).
			Build()
		assert.NoError(t, env.Engine.RegisterFlow(f))

		time.Sleep(60 * time.Millisecond)
		execs, err := env.Engine.ListExecutions(context.Background(), f.ID)
		assert.NoError(t, err)
		assert.Empty(t, execs)
	})
}

func TestWebhookTrigger(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		f := helpers.NewFlow().
			Node("a", node.PassthroughType).
			Trigger(&api.Trigger{
				ID:      "hook",
				Kind:    api.TriggerWebhook,
				Enabled: true,
				Config:  api.TriggerConfig{Path: "/orders"},
			}).
			Trigger(&api.Trigger{
				ID:   "off",
				Kind: api.TriggerWebhook,
			}).
			Trigger(&api.Trigger{
				ID:      "tick",
				Kind:    api.TriggerSchedule,
				Enabled: true,
				Config:  api.TriggerConfig{Interval: "1h"},
			}).
			Build()
		assert.NoError(t, env.Engine.RegisterFlow(f))

		ctx := context.Background()
		input := api.MustFromAny(map[string]any{"order": 7})
		id, err := env.Engine.FireTrigger(ctx, f.ID, "hook", input,
			map[string]string{"remote_addr": "127.0.0.1"},
		)
		assert.NoError(t, err)

		ex, err := env.Wait(t, id)
		assert.NoError(t, err)
		assert.Equal(t, api.StatusCompleted, ex.Status)
		assert.Equal(t, api.TriggerWebhook, ex.Trigger.Kind)
		assert.Equal(t, api.TriggerID("hook"), ex.Trigger.TriggerID)
		assert.Equal(t, "127.0.0.1", ex.Trigger.Data["remote_addr"])
		assert.True(t, ex.Input.Equal(input))

		_, err = env.Engine.FireTrigger(ctx, f.ID, "off", input, nil)
		assert.ErrorIs(t, err, engine.ErrTriggerDisabled)

		_, err = env.Engine.FireTrigger(ctx, f.ID, "missing", input, nil)
		assert.ErrorIs(t, err, engine.ErrTriggerNotFound)

		_, err = env.Engine.FireTrigger(ctx, f.ID, "tick", input, nil)
		assert.ErrorIs(t, err, engine.ErrTriggerKind)

		_, err = env.Engine.FireTrigger(ctx, "nope", "hook", input, nil)
		assert.ErrorIs(t, err, engine.ErrFlowNotFound)
	})
}

func TestNewVersionReplacesSchedule(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		consumer := env.Hub.NewConsumer()
		defer consumer.Close()

		b := helpers.NewFlow().
			Node("a", node.PassthroughType).
			Trigger(&api.Trigger{
				ID:      "tick",
				Kind:    api.TriggerSchedule,
				Enabled: true,
				Config:  api.TriggerConfig{Interval: "1h"},
			})
		v1 := b.Build()
		assert.NoError(t, env.Engine.RegisterFlow(v1))

		v2 := helpers.NewFlowWithID(v1.ID).
			Version("2").
			Node("a", node.PassthroughType).
			Trigger(&api.Trigger{
				ID:      "tick",
				Kind:    api.TriggerSchedule,
				Enabled: true,
				Config:  api.TriggerConfig{Interval: "20ms"},
			}).
			Build()
		assert.NoError(t, env.Engine.RegisterFlow(v2))

		w := wait.On(t, consumer)
		ev := w.ForEvent(flowEvents(v1.ID, api.EventExecutionCompleted))
		ex, err := env.Engine.GetExecution(context.Background(), ev.ExecutionID)
		assert.NoError(t, err)
		assert.Equal(t, "2", ex.FlowVersion)
	})
}

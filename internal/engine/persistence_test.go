package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/ghostflow/internal/assert/helpers"
	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/internal/store"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

func withFaultyStore(t *testing.T, fn func(*helpers.TestEngineEnv, *helpers.FaultyStore)) {
	t.Helper()
	st := helpers.NewFaultyStore(store.NewMemory())
	env := helpers.NewTestEngineWith(t, helpers.NewTestConfig(), st)
	defer env.Cleanup()
	assert.NoError(t, env.Engine.Start(context.Background()))
	fn(env, st)
}

func TestNodePersistenceFailureFailsExecution(t *testing.T) {
	withFaultyStore(t, func(env *helpers.TestEngineEnv, st *helpers.FaultyStore) {
		st.FailNodeStatus("b", api.StatusCompleted)

		f := helpers.NewFlow().
			Node("a", node.PassthroughType).
			Node("b", node.PassthroughType).
			Node("c", node.PassthroughType).
			Edge("a", "b").
			Edge("b", "c").
			Build()

		ex, err := env.Run(t, f, api.Null())
		var pe *api.PersistenceError
		if assert.ErrorAs(t, err, &pe) {
			assert.Equal(t, "update_node", pe.Op)
			assert.ErrorIs(t, err, helpers.ErrInjected)
		}
		assert.Equal(t, api.StatusFailed, ex.Status)
		assert.Equal(t, api.KindPersistence, ex.Error.Kind)

		nodes := env.Nodes(t, ex.ID)
		assert.Equal(t, api.StatusCompleted, nodes["a"].Status)
		assert.Equal(t, api.StatusCancelled, nodes["b"].Status)
		assert.Equal(t, api.StatusCancelled, nodes["c"].Status)

		assert.GreaterOrEqual(t,
			st.Calls("update_node"), env.Config.PersistRetries+1,
		)

		m := env.Engine.Metrics()
		assert.Equal(t, 1.0, testutil.ToFloat64(
			m.PersistFailures.WithLabelValues("update_node"),
		))

		again, err := env.Engine.Wait(context.Background(), ex.ID)
		assert.True(t, errors.As(err, &pe))
		assert.Equal(t, "update_node", pe.Op)
		assert.Equal(t, api.StatusFailed, again.Status)
	})
}

func TestTransientNodeWriteRecovers(t *testing.T) {
	withFaultyStore(t, func(env *helpers.TestEngineEnv, st *helpers.FaultyStore) {
		var failures int
		st.FailWhen(func(op string, v any) bool {
			n, ok := v.(*api.NodeExecution)
			if !ok || op != "update_node" || n.Status != api.StatusCompleted {
				return false
			}
			failures++
			return failures <= env.Config.PersistRetries
		})

		f := helpers.NewFlow().Node("a", node.PassthroughType).Build()
		ex, err := env.Run(t, f, api.Null())
		assert.NoError(t, err)
		assert.Equal(t, api.StatusCompleted, ex.Status)
		assert.Equal(t, env.Config.PersistRetries+1, failures)
	})
}

func TestCreateExecutionFailure(t *testing.T) {
	withFaultyStore(t, func(env *helpers.TestEngineEnv, st *helpers.FaultyStore) {
		st.FailWhen(func(op string, _ any) bool {
			return op == "create_execution"
		})

		f := helpers.NewFlow().Node("a", node.PassthroughType).Build()
		assert.NoError(t, env.Engine.RegisterFlow(f))

		ctx := context.Background()
		_, err := env.Engine.StartExecution(ctx, f.ID, engine.StartRequest{})
		var pe *api.PersistenceError
		if assert.ErrorAs(t, err, &pe) {
			assert.Equal(t, "create_execution", pe.Op)
		}

		execs, err := env.Engine.ListExecutions(ctx, f.ID)
		assert.NoError(t, err)
		assert.Empty(t, execs)
	})
}

func TestCreateNodeFailureAbandonsExecution(t *testing.T) {
	withFaultyStore(t, func(env *helpers.TestEngineEnv, st *helpers.FaultyStore) {
		st.FailWhen(func(op string, _ any) bool {
			return op == "create_node"
		})

		f := helpers.NewFlow().Node("a", node.PassthroughType).Build()
		assert.NoError(t, env.Engine.RegisterFlow(f))

		ctx := context.Background()
		_, err := env.Engine.StartExecution(ctx, f.ID, engine.StartRequest{})
		var pe *api.PersistenceError
		assert.ErrorAs(t, err, &pe)

		execs, err := env.Engine.ListExecutions(ctx, f.ID)
		assert.NoError(t, err)
		if assert.Len(t, execs, 1) {
			assert.Equal(t, api.StatusFailed, execs[0].Status)
			assert.Equal(t, api.KindPersistence, execs[0].Error.Kind)
		}
	})
}

func TestLogFailureDoesNotFailExecution(t *testing.T) {
	withFaultyStore(t, func(env *helpers.TestEngineEnv, st *helpers.FaultyStore) {
		st.FailWhen(func(op string, _ any) bool {
			return op == "append_log"
		})

		f := helpers.NewFlow().Node("a", node.PassthroughType).Build()
		ex, err := env.Run(t, f, api.Null())
		assert.NoError(t, err)
		assert.Equal(t, api.StatusCompleted, ex.Status)
		assert.Positive(t, st.Calls("append_log"))
	})
}


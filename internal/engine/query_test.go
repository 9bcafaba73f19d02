package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/ghostflow/internal/artifact"
	"github.com/GhostKellz/ghostflow/internal/assert/helpers"
	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

func TestQueryExecutions(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		f1 := helpers.NewFlow().Node("a", node.PassthroughType).Build()
		f2 := helpers.NewFlow().Node("b", node.PassthroughType).Build()

		first, err := env.Run(t, f1, api.Int(1))
		assert.NoError(t, err)
		second, err := env.Run(t, f1, api.Int(2))
		assert.NoError(t, err)
		other, err := env.Run(t, f2, api.Int(3))
		assert.NoError(t, err)

		ctx := context.Background()
		execs, err := env.Engine.ListExecutions(ctx, f1.ID)
		assert.NoError(t, err)
		if assert.Len(t, execs, 2) {
			assert.Equal(t, first.ID, execs[0].ID)
			assert.Equal(t, second.ID, execs[1].ID)
		}

		all, err := env.Engine.ListExecutions(ctx, "")
		assert.NoError(t, err)
		assert.Len(t, all, 3)

		ex, err := env.Engine.GetExecution(ctx, other.ID)
		assert.NoError(t, err)
		assert.Equal(t, f2.ID, ex.FlowID)

		ex.Status = api.StatusFailed
		again, err := env.Engine.GetExecution(ctx, other.ID)
		assert.NoError(t, err)
		assert.Equal(t, api.StatusCompleted, again.Status)

		rec, err := env.Engine.GetNodeExecution(ctx, other.ID, "b")
		assert.NoError(t, err)
		assert.True(t, rec.Output.Equal(api.Int(3)))

		_, err = env.Engine.GetNodeExecution(ctx, other.ID, "zzz")
		assert.Error(t, err)

		_, err = env.Engine.GetExecution(ctx, "missing")
		assert.ErrorIs(t, err, engine.ErrExecutionNotFound)
		_, err = env.Engine.ListNodeExecutions(ctx, "missing")
		assert.ErrorIs(t, err, engine.ErrExecutionNotFound)
		_, err = env.Engine.ListLogs(ctx, "missing")
		assert.ErrorIs(t, err, engine.ErrExecutionNotFound)
		_, err = env.Engine.Wait(ctx, "missing")
		assert.ErrorIs(t, err, engine.ErrExecutionNotFound)
	})
}

func TestDeleteExecution(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		env.Register(t, "writer", helpers.NewTestNode(
			func(_ context.Context, nc *node.Context, _ int) (api.Value, error) {
				return api.Null(), nc.PutArtifact("out.bin", "", []byte{1, 2, 3})
			},
		))
		f := helpers.NewFlow().Node("w", "writer").Build()
		ex, err := env.Run(t, f, api.Null())
		assert.NoError(t, err)
		assert.Equal(t, api.StatusCompleted, ex.Status)

		ctx := context.Background()
		arts, err := env.Engine.ListArtifacts(ctx, ex.ID)
		assert.NoError(t, err)
		assert.Len(t, arts, 1)

		assert.NoError(t, env.Engine.DeleteExecution(ctx, ex.ID))

		_, err = env.Engine.GetExecution(ctx, ex.ID)
		assert.ErrorIs(t, err, engine.ErrExecutionNotFound)
		_, err = env.Artifacts.Get(ctx, arts[0])
		assert.ErrorIs(t, err, artifact.ErrArtifactNotFound)

		err = env.Engine.DeleteExecution(ctx, ex.ID)
		assert.ErrorIs(t, err, engine.ErrExecutionNotFound)
	})
}

func TestDeleteActiveExecution(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		started := make(chan api.NodeID, 1)
		env.Register(t, "block", helpers.Block(started, api.Null()))

		f := helpers.NewFlow().Node("a", "block").Build()
		assert.NoError(t, env.Engine.RegisterFlow(f))

		ctx := context.Background()
		id, err := env.Engine.StartExecution(ctx, f.ID, engine.StartRequest{})
		assert.NoError(t, err)
		<-started

		err = env.Engine.DeleteExecution(ctx, id)
		assert.ErrorIs(t, err, engine.ErrExecutionNotTerminal)

		assert.NoError(t, env.Engine.CancelExecution(ctx, id))
		_, err = env.Wait(t, id)
		assert.NoError(t, err)
		assert.NoError(t, env.Engine.DeleteExecution(ctx, id))
	})
}

func TestWaitHonorsContext(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		release := make(chan struct{})
		defer close(release)
		env.Register(t, "hang", helpers.Hang(release))

		f := helpers.NewFlow().Node("a", "hang").Build()
		assert.NoError(t, env.Engine.RegisterFlow(f))

		id, err := env.Engine.StartExecution(
			context.Background(), f.ID, engine.StartRequest{},
		)
		assert.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = env.Engine.Wait(ctx, id)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

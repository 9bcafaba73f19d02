package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/ghostflow/internal/assert/helpers"
	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

func TestRegisterFlow(t *testing.T) {
	helpers.WithEngine(t, func(eng *engine.Engine) {
		f := helpers.NewFlowWithID("flow-b").
			Node("a", node.PassthroughType).
			Node("b", node.PassthroughType).
			Edge("a", "b").
			Build()
		assert.NoError(t, eng.RegisterFlow(f))
		assert.False(t, f.CreatedAt.IsZero())

		other := helpers.NewFlowWithID("flow-a").
			Node("x", node.PassthroughType).
			Build()
		assert.NoError(t, eng.RegisterFlow(other))

		got, err := eng.GetFlow("flow-b")
		assert.NoError(t, err)
		assert.Same(t, f, got)

		flows := eng.ListFlows()
		if assert.Len(t, flows, 2) {
			assert.Equal(t, api.FlowID("flow-a"), flows[0].ID)
			assert.Equal(t, api.FlowID("flow-b"), flows[1].ID)
		}
	})
}

func TestRegisterFlowVersions(t *testing.T) {
	helpers.WithEngine(t, func(eng *engine.Engine) {
		v1 := helpers.NewFlowWithID("f").Node("a", node.PassthroughType).Build()
		assert.NoError(t, eng.RegisterFlow(v1))

		dup := helpers.NewFlowWithID("f").Node("b", node.PassthroughType).Build()
		assert.ErrorIs(t, eng.RegisterFlow(dup), engine.ErrFlowExists)

		v2 := helpers.NewFlowWithID("f").Version("2").
			Node("b", node.PassthroughType).
			Build()
		assert.NoError(t, eng.RegisterFlow(v2))

		active, err := eng.GetFlow("f")
		assert.NoError(t, err)
		assert.Equal(t, "2", active.Version)

		old, err := eng.GetFlowVersion("f", "1")
		assert.NoError(t, err)
		assert.Same(t, v1, old)

		_, err = eng.GetFlowVersion("f", "3")
		assert.ErrorIs(t, err, engine.ErrFlowNotFound)
	})
}

func TestRegisterFlowRejectsInvalid(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		eng := env.Engine

		var ve *api.ValidationError
		assert.ErrorAs(t, eng.RegisterFlow(nil), &ve)
		assert.ErrorAs(t, eng.RegisterFlow(&api.Flow{ID: "x", Version: "1"}), &ve)

		cyclic := helpers.NewFlow().
			Node("a", node.PassthroughType).
			Node("b", node.PassthroughType).
			Edge("a", "b").
			Edge("b", "a").
			Build()
		var ce *api.CycleError
		assert.ErrorAs(t, eng.RegisterFlow(cyclic), &ce)

		dangling := helpers.NewFlow().
			Node("a", node.PassthroughType).
			Edge("a", "ghost").
			Build()
		var de *api.DanglingReferenceError
		assert.ErrorAs(t, eng.RegisterFlow(dangling), &de)
		assert.Equal(t, api.NodeID("ghost"), de.Missing)

		unknown := helpers.NewFlow().Node("a", "missing-type").Build()
		var ue *api.UnknownNodeTypeError
		assert.ErrorAs(t, eng.RegisterFlow(unknown), &ue)
		assert.Equal(t, "missing-type", ue.Type)

		env.Register(t, "schema", &helpers.TestNode{
			Def: &api.NodeDefinition{
				Category: "test",
				ParameterSchema: api.MustFromAny(map[string]any{
					"type":     "object",
					"required": []any{"url"},
				}),
			},
		})
		badParams := helpers.NewFlow().Node("a", "schema").Build()
		err := eng.RegisterFlow(badParams)
		assert.ErrorAs(t, err, &ve)
		assert.ErrorIs(t, err, node.ErrInvalidParameters)

		assert.Empty(t, eng.ListFlows())
	})
}

func TestUnregisterFlow(t *testing.T) {
	helpers.WithEngine(t, func(eng *engine.Engine) {
		f := helpers.NewFlow().Node("a", node.PassthroughType).Build()
		assert.NoError(t, eng.RegisterFlow(f))
		assert.NoError(t, eng.UnregisterFlow(f.ID))
		assert.ErrorIs(t, eng.UnregisterFlow(f.ID), engine.ErrFlowNotFound)

		_, err := eng.GetFlow(f.ID)
		assert.ErrorIs(t, err, engine.ErrFlowNotFound)
	})
}

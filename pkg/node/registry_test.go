package node_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

type schemaNode struct {
	schema api.Value
}

func (n *schemaNode) Definition() *api.NodeDefinition {
	return &api.NodeDefinition{
		Category:        "test",
		ParameterSchema: n.schema,
	}
}

func (n *schemaNode) Validate(context.Context, *node.Context) error {
	return nil
}

func (n *schemaNode) Execute(
	context.Context, *node.Context,
) (api.Value, error) {
	return api.Null(), nil
}

func (n *schemaNode) SupportsRetry() bool   { return false }
func (n *schemaNode) IsDeterministic() bool { return true }

func urlSchema() api.Value {
	return api.MustFromAny(map[string]any{
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url":     map[string]any{"type": "string"},
			"retries": map[string]any{"type": "integer", "minimum": 0},
		},
	})
}

func TestRegisterAndResolve(t *testing.T) {
	r := node.NewRegistry()
	assert.NoError(t, node.RegisterBuiltins(r))

	c, err := r.Resolve(node.PassthroughType)
	assert.NoError(t, err)
	assert.True(t, c.SupportsRetry())
	assert.True(t, c.IsDeterministic())
	assert.True(t, r.Has(node.PassthroughType))

	_, err = r.Resolve("missing")
	var ue *api.UnknownNodeTypeError
	assert.ErrorAs(t, err, &ue)
	assert.Equal(t, "missing", ue.Type)
}

func TestRegisterErrors(t *testing.T) {
	r := node.NewRegistry()
	assert.ErrorIs(t, r.Register("", node.NewPassthrough), node.ErrTypeEmpty)
	assert.ErrorIs(t, r.Register("x", nil), node.ErrFactoryNil)

	assert.NoError(t, r.Register("x", node.NewPassthrough))
	assert.ErrorIs(t,
		r.Register("x", node.NewPassthrough), node.ErrTypeRegistered,
	)

	bad := api.MustFromAny(map[string]any{"type": true})
	err := r.Register("bad", func() node.Capability {
		return &schemaNode{schema: bad}
	})
	assert.ErrorIs(t, err, node.ErrInvalidSchema)

	assert.Panics(t, func() {
		r.MustRegister("x", node.NewPassthrough)
	})
}

func TestDefinitionsSorted(t *testing.T) {
	r := node.NewRegistry()
	r.MustRegister("zeta", node.NewPassthrough)
	r.MustRegister("alpha", node.NewPassthrough)

	defs := r.Definitions()
	assert.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Type)
	assert.Equal(t, "zeta", defs[1].Type)
}

func TestValidateParameters(t *testing.T) {
	r := node.NewRegistry()
	r.MustRegister("http", func() node.Capability {
		return &schemaNode{schema: urlSchema()}
	})
	r.MustRegister(node.PassthroughType, node.NewPassthrough)

	assert.NoError(t, r.ValidateParameters("http", map[string]api.Value{
		"url":     api.String("https://example.com"),
		"retries": api.Int(2),
	}))

	err := r.ValidateParameters("http", map[string]api.Value{
		"retries": api.Int(-1),
	})
	assert.ErrorIs(t, err, node.ErrInvalidParameters)
	assert.Contains(t, err.Error(), "url")

	assert.NoError(t, r.ValidateParameters(node.PassthroughType, nil))

	var ue *api.UnknownNodeTypeError
	assert.ErrorAs(t, r.ValidateParameters("nope", nil), &ue)
}

package node

import (
	"context"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type passthrough struct{}

// PassthroughType is the type name of the built-in passthrough node
const PassthroughType = "passthrough"

var passthroughDef = &api.NodeDefinition{
	Type:        PassthroughType,
	Category:    "core",
	Description: "Returns its input unchanged",
	Inputs:      []*api.Port{{Name: "input"}},
	Outputs:     []*api.Port{{Name: "output"}},
}

// NewPassthrough returns a node that echoes its input
func NewPassthrough() Capability {
	return passthrough{}
}

// RegisterBuiltins adds the node types shipped with the engine
func RegisterBuiltins(r *Registry) error {
	return r.Register(PassthroughType, NewPassthrough)
}

func (passthrough) Definition() *api.NodeDefinition {
	return passthroughDef
}

func (passthrough) Validate(context.Context, *Context) error {
	return nil
}

func (passthrough) Execute(_ context.Context, nc *Context) (api.Value, error) {
	return nc.Input, nil
}

func (passthrough) SupportsRetry() bool {
	return true
}

func (passthrough) IsDeterministic() bool {
	return true
}

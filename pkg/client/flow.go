package client

import (
	"context"
	"slices"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

// Flow is an immutable builder for flow definitions. Every method returns
// a new builder
type Flow struct {
	client *Client
	flow   api.Flow
}

// NewFlow starts a flow definition with the given ID and version 1
func (c *Client) NewFlow(id api.FlowID) *Flow {
	return &Flow{
		client: c,
		flow: api.Flow{
			ID:      id,
			Name:    string(id),
			Version: "1",
		},
	}
}

// WithName sets the display name
func (f *Flow) WithName(name string) *Flow {
	res := f.clone()
	res.flow.Name = name
	return res
}

// WithVersion sets the version string
func (f *Flow) WithVersion(v string) *Flow {
	res := f.clone()
	res.flow.Version = v
	return res
}

// WithNode adds a node definition
func (f *Flow) WithNode(n *api.Node) *Flow {
	res := f.clone()
	cpy := *n
	res.flow.Nodes = append(res.flow.Nodes, &cpy)
	return res
}

// Node adds a node of the given type with default settings
func (f *Flow) Node(id api.NodeID, typ string) *Flow {
	return f.WithNode(&api.Node{ID: id, Type: typ})
}

// Edge adds a data edge from source to target
func (f *Flow) Edge(source, target api.NodeID) *Flow {
	return f.WithEdge(&api.Edge{Source: source, Target: target})
}

// ErrorEdge adds an edge followed only when source fails
func (f *Flow) ErrorEdge(source, target api.NodeID) *Flow {
	return f.WithEdge(&api.Edge{
		Source: source,
		Target: target,
		Kind:   api.EdgeError,
	})
}

// WithEdge adds an edge definition
func (f *Flow) WithEdge(e *api.Edge) *Flow {
	res := f.clone()
	cpy := *e
	res.flow.Edges = append(res.flow.Edges, &cpy)
	return res
}

// WithTrigger adds a trigger definition
func (f *Flow) WithTrigger(t *api.Trigger) *Flow {
	res := f.clone()
	cpy := *t
	res.flow.Triggers = append(res.flow.Triggers, &cpy)
	return res
}

// WithParameter declares a flow parameter
func (f *Flow) WithParameter(p *api.Parameter) *Flow {
	res := f.clone()
	cpy := *p
	res.flow.Parameters = append(res.flow.Parameters, &cpy)
	return res
}

// WithSecret declares a secret the flow's nodes may read
func (f *Flow) WithSecret(name string) *Flow {
	res := f.clone()
	res.flow.Secrets = append(res.flow.Secrets, name)
	return res
}

// Build returns the assembled definition
func (f *Flow) Build() *api.Flow {
	return &f.clone().flow
}

// Register registers the assembled definition with the engine
func (f *Flow) Register(ctx context.Context) error {
	return f.client.RegisterFlow(ctx, f.Build())
}

func (f *Flow) clone() *Flow {
	res := *f
	res.flow.Nodes = slices.Clone(f.flow.Nodes)
	res.flow.Edges = slices.Clone(f.flow.Edges)
	res.flow.Triggers = slices.Clone(f.flow.Triggers)
	res.flow.Parameters = slices.Clone(f.flow.Parameters)
	res.flow.Secrets = slices.Clone(f.flow.Secrets)
	res.flow.Tags = slices.Clone(f.flow.Tags)
	return &res
}

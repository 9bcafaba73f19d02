package helpers

import (
	"github.com/google/uuid"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

// FlowBuilder assembles flow definitions for tests
type FlowBuilder struct {
	flow *api.Flow
}

// NewFlow starts a flow definition with a random ID
func NewFlow() *FlowBuilder {
	return NewFlowWithID(api.FlowID("test-flow-" + uuid.New().String()[:8]))
}

// NewFlowWithID starts a flow definition with the given ID and version 1
func NewFlowWithID(id api.FlowID) *FlowBuilder {
	return &FlowBuilder{
		flow: &api.Flow{
			ID:      id,
			Name:    "Test Flow",
			Version: "1",
		},
	}
}

// Version sets the flow version
func (b *FlowBuilder) Version(v string) *FlowBuilder {
	b.flow.Version = v
	return b
}

// Node adds a node of the given type
func (b *FlowBuilder) Node(id api.NodeID, typ string) *FlowBuilder {
	b.flow.Nodes = append(b.flow.Nodes, &api.Node{ID: id, Type: typ})
	return b
}

// NodeWith adds a fully specified node
func (b *FlowBuilder) NodeWith(n *api.Node) *FlowBuilder {
	b.flow.Nodes = append(b.flow.Nodes, n)
	return b
}

// Retry sets the retry configuration of the most recently added node
func (b *FlowBuilder) Retry(maxRetries int, backoffMs int64) *FlowBuilder {
	n := b.flow.Nodes[len(b.flow.Nodes)-1]
	n.Retry = &api.RetryConfig{
		MaxRetries:  maxRetries,
		BackoffMs:   backoffMs,
		BackoffType: api.BackoffTypeExponential,
	}
	return b
}

// Timeout sets the timeout of the most recently added node
func (b *FlowBuilder) Timeout(ms int64) *FlowBuilder {
	b.flow.Nodes[len(b.flow.Nodes)-1].TimeoutMs = ms
	return b
}

// Edge adds a data edge
func (b *FlowBuilder) Edge(source, target api.NodeID) *FlowBuilder {
	b.flow.Edges = append(b.flow.Edges, &api.Edge{
		Source: source, Target: target,
	})
	return b
}

// PortEdge adds a data edge between named ports
func (b *FlowBuilder) PortEdge(
	source api.NodeID, sourcePort string, target api.NodeID, targetPort string,
) *FlowBuilder {
	b.flow.Edges = append(b.flow.Edges, &api.Edge{
		Source:     source,
		SourcePort: sourcePort,
		Target:     target,
		TargetPort: targetPort,
	})
	return b
}

// ErrorEdge adds an error-handling edge
func (b *FlowBuilder) ErrorEdge(source, target api.NodeID) *FlowBuilder {
	b.flow.Edges = append(b.flow.Edges, &api.Edge{
		Source: source, Target: target, Kind: api.EdgeError,
	})
	return b
}

// Parameter declares a flow parameter
func (b *FlowBuilder) Parameter(p *api.Parameter) *FlowBuilder {
	b.flow.Parameters = append(b.flow.Parameters, p)
	return b
}

// Secret declares a secret reference
func (b *FlowBuilder) Secret(name string) *FlowBuilder {
	b.flow.Secrets = append(b.flow.Secrets, name)
	return b
}

// Trigger adds a trigger
func (b *FlowBuilder) Trigger(t *api.Trigger) *FlowBuilder {
	b.flow.Triggers = append(b.flow.Triggers, t)
	return b
}

// Build returns the flow definition
func (b *FlowBuilder) Build() *api.Flow {
	return b.flow
}

// Package graph validates flow definitions and builds the immutable
// dependency graph consumed by the engine
package graph

import (
	"slices"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

// Graph is a validated, immutable adjacency view of a flow definition. All
// node lists are reported in flow-definition order
type Graph struct {
	flow     *api.Flow
	nodes    map[api.NodeID]*api.Node
	index    map[api.NodeID]int
	incoming map[api.NodeID][]*api.Edge
	outgoing map[api.NodeID][]*api.Edge
	order    []api.NodeID
	topo     []api.NodeID
}

// Build verifies that every edge references existing nodes and that the
// node/edge set is acyclic. It fails with *api.DanglingReferenceError or
// *api.CycleError respectively
func Build(f *api.Flow) (*Graph, error) {
	g := &Graph{
		flow:     f,
		nodes:    make(map[api.NodeID]*api.Node, len(f.Nodes)),
		index:    make(map[api.NodeID]int, len(f.Nodes)),
		incoming: make(map[api.NodeID][]*api.Edge, len(f.Nodes)),
		outgoing: make(map[api.NodeID][]*api.Edge, len(f.Nodes)),
		order:    make([]api.NodeID, 0, len(f.Nodes)),
	}

	for _, n := range f.Nodes {
		if _, ok := g.nodes[n.ID]; ok {
			return nil, api.NewValidationError(n.ID, api.ErrDuplicateNode)
		}
		g.index[n.ID] = len(g.order)
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	for _, e := range f.Edges {
		if err := g.addEdge(e); err != nil {
			return nil, err
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &api.CycleError{Nodes: cycle}
	}
	g.topo = g.topologicalOrder()
	return g, nil
}

// Flow returns the definition the graph was built from
func (g *Graph) Flow() *api.Flow {
	return g.flow
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.order)
}

// Nodes returns the node IDs in definition order
func (g *Graph) Nodes() []api.NodeID {
	return slices.Clone(g.order)
}

// Node returns the definition of a node
func (g *Graph) Node(id api.NodeID) (*api.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Index returns the definition-order position of a node, or -1
func (g *Graph) Index(id api.NodeID) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// Incoming returns the edges that target a node
func (g *Graph) Incoming(id api.NodeID) []*api.Edge {
	return slices.Clone(g.incoming[id])
}

// Outgoing returns the edges that leave a node
func (g *Graph) Outgoing(id api.NodeID) []*api.Edge {
	return slices.Clone(g.outgoing[id])
}

// InDegree returns the number of edges targeting a node
func (g *Graph) InDegree(id api.NodeID) int {
	return len(g.incoming[id])
}

// Roots returns the nodes with no incoming edges
func (g *Graph) Roots() []api.NodeID {
	var res []api.NodeID
	for _, id := range g.order {
		if len(g.incoming[id]) == 0 {
			res = append(res, id)
		}
	}
	return res
}

// Sinks returns the nodes with no outgoing data edges
func (g *Graph) Sinks() []api.NodeID {
	var res []api.NodeID
	for _, id := range g.order {
		if !slices.ContainsFunc(g.outgoing[id], isDataEdge) {
			res = append(res, id)
		}
	}
	return res
}

// HasErrorHandler returns whether a failure of the node is routed through
// at least one error edge
func (g *Graph) HasErrorHandler(id api.NodeID) bool {
	return slices.ContainsFunc(g.outgoing[id], (*api.Edge).IsError)
}

// TopologicalOrder returns an order in which every node follows all of
// its upstream nodes. Ties are broken by definition order
func (g *Graph) TopologicalOrder() []api.NodeID {
	return slices.Clone(g.topo)
}

// SortByDefinition orders node IDs by their position in the flow
func (g *Graph) SortByDefinition(ids []api.NodeID) {
	slices.SortFunc(ids, func(a, b api.NodeID) int {
		return g.Index(a) - g.Index(b)
	})
}

func (g *Graph) addEdge(e *api.Edge) error {
	for _, id := range []api.NodeID{e.Source, e.Target} {
		if _, ok := g.nodes[id]; !ok {
			return &api.DanglingReferenceError{
				Source:  e.Source,
				Target:  e.Target,
				Missing: id,
			}
		}
	}
	g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
	g.incoming[e.Target] = append(g.incoming[e.Target], e)
	return nil
}

// findCycle runs a depth-first search in definition order and returns the
// nodes along the first back edge found, in traversal order
func (g *Graph) findCycle() []api.NodeID {
	done := make(map[api.NodeID]bool, len(g.order))
	onStack := make(map[api.NodeID]int, len(g.order))
	var stack []api.NodeID

	var visit func(id api.NodeID) []api.NodeID
	visit = func(id api.NodeID) []api.NodeID {
		if done[id] {
			return nil
		}
		if pos, ok := onStack[id]; ok {
			return slices.Clone(stack[pos:])
		}

		onStack[id] = len(stack)
		stack = append(stack, id)
		for _, e := range g.outgoing[id] {
			if cycle := visit(e.Target); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		delete(onStack, id)
		done[id] = true
		return nil
	}

	for _, id := range g.order {
		if cycle := visit(id); cycle != nil {
			return cycle
		}
	}
	return nil
}

func (g *Graph) topologicalOrder() []api.NodeID {
	inDegree := make(map[api.NodeID]int, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.incoming[id])
	}

	ready := g.Roots()
	res := make([]api.NodeID, 0, len(g.order))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		res = append(res, id)

		var next []api.NodeID
		for _, e := range g.outgoing[id] {
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				next = append(next, e.Target)
			}
		}
		ready = append(ready, next...)
		g.SortByDefinition(ready)
	}
	return res
}

func isDataEdge(e *api.Edge) bool {
	return !e.IsError()
}

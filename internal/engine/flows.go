package engine

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/GhostKellz/ghostflow/internal/graph"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

type (
	flowEntry struct {
		active   *flowVersion
		versions map[string]*flowVersion
	}

	// flowVersion is an immutable registered flow with its node types
	// resolved once
	flowVersion struct {
		flow  *api.Flow
		graph *graph.Graph
		caps  map[api.NodeID]node.Capability
	}
)

// RegisterFlow validates a flow definition and makes it the active version
// of its flow. A version, once registered, cannot be replaced
func (e *Engine) RegisterFlow(f *api.Flow) error {
	fv, err := e.compileFlow(f)
	if err != nil {
		return err
	}

	e.flowsMu.Lock()
	defer e.flowsMu.Unlock()

	ent, ok := e.flows[f.ID]
	if !ok {
		ent = &flowEntry{versions: map[string]*flowVersion{}}
		e.flows[f.ID] = ent
	}
	if _, ok := ent.versions[f.Version]; ok {
		return fmt.Errorf("%w: %s@%s", ErrFlowExists, f.ID, f.Version)
	}
	ent.versions[f.Version] = fv

	if ent.active != nil {
		e.disarmTriggers(f.ID)
	}
	ent.active = fv
	e.armTriggers(fv)

	slog.Info("Flow registered",
		log.FlowID(f.ID),
		slog.String("version", f.Version),
		slog.Int("nodes", len(f.Nodes)))
	return nil
}

// UnregisterFlow removes every version of a flow and disarms its
// triggers. Executions already running are unaffected
func (e *Engine) UnregisterFlow(id api.FlowID) error {
	e.flowsMu.Lock()
	defer e.flowsMu.Unlock()

	if _, ok := e.flows[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	delete(e.flows, id)
	e.disarmTriggers(id)

	slog.Info("Flow unregistered", log.FlowID(id))
	return nil
}

// GetFlow returns the active version of a flow
func (e *Engine) GetFlow(id api.FlowID) (*api.Flow, error) {
	fv, err := e.activeFlow(id)
	if err != nil {
		return nil, err
	}
	return fv.flow, nil
}

// GetFlowVersion returns a specific registered version of a flow
func (e *Engine) GetFlowVersion(id api.FlowID, version string) (*api.Flow, error) {
	fv, err := e.flowVersion(id, version)
	if err != nil {
		return nil, err
	}
	return fv.flow, nil
}

// ListFlows returns the active version of every registered flow, sorted by
// flow ID
func (e *Engine) ListFlows() []*api.Flow {
	e.flowsMu.RLock()
	defer e.flowsMu.RUnlock()

	res := make([]*api.Flow, 0, len(e.flows))
	for _, id := range slices.Sorted(maps.Keys(e.flows)) {
		res = append(res, e.flows[id].active.flow)
	}
	return res
}

func (e *Engine) activeFlow(id api.FlowID) (*flowVersion, error) {
	e.flowsMu.RLock()
	defer e.flowsMu.RUnlock()
	if ent, ok := e.flows[id]; ok {
		return ent.active, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
}

func (e *Engine) flowVersion(id api.FlowID, version string) (*flowVersion, error) {
	e.flowsMu.RLock()
	defer e.flowsMu.RUnlock()
	if ent, ok := e.flows[id]; ok {
		if fv, ok := ent.versions[version]; ok {
			return fv, nil
		}
	}
	return nil, fmt.Errorf("%w: %s@%s", ErrFlowNotFound, id, version)
}

func (e *Engine) isActive(fv *flowVersion) bool {
	e.flowsMu.RLock()
	defer e.flowsMu.RUnlock()
	ent, ok := e.flows[fv.flow.ID]
	return ok && ent.active == fv
}

// compileFlow validates the definition, builds its graph, and resolves
// every node type through the registry
func (e *Engine) compileFlow(f *api.Flow) (*flowVersion, error) {
	if f == nil {
		return nil, api.NewValidationError("", api.ErrFlowEmpty)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	g, err := graph.Build(f)
	if err != nil {
		return nil, err
	}

	caps := make(map[api.NodeID]node.Capability, len(f.Nodes))
	for _, n := range f.Nodes {
		c, err := e.registry.Resolve(n.Type)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		if err := e.registry.ValidateParameters(n.Type, n.Parameters); err != nil {
			return nil, api.NewValidationError(n.ID, err)
		}
		caps[n.ID] = c
	}

	if f.CreatedAt.IsZero() {
		f.CreatedAt = e.now()
	}
	return &flowVersion{
		flow:  f,
		graph: g,
		caps:  caps,
	}, nil
}

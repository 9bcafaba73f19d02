package store

import (
	"context"
	"sync"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type (
	// Memory is a process-local Store used for tests and single-node
	// deployments that do not need durability
	Memory struct {
		execs map[api.ExecutionID]*memoryRecord
		mu    sync.RWMutex
	}

	memoryRecord struct {
		exec      *api.FlowExecution
		nodes     map[api.NodeID]*api.NodeExecution
		logs      map[api.LogID]*api.ExecutionLog
		artifacts map[string]*api.Artifact
	}
)

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory Store
func NewMemory() *Memory {
	return &Memory{
		execs: map[api.ExecutionID]*memoryRecord{},
	}
}

func (m *Memory) CreateFlowExecution(
	_ context.Context, e *api.FlowExecution,
) error {
	if err := validateFlowExecution(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.execs[e.ID]; ok {
		return nil
	}
	m.execs[e.ID] = &memoryRecord{
		exec:      e.Clone(),
		nodes:     map[api.NodeID]*api.NodeExecution{},
		logs:      map[api.LogID]*api.ExecutionLog{},
		artifacts: map[string]*api.Artifact{},
	}
	return nil
}

func (m *Memory) UpdateFlowExecutionStatus(
	_ context.Context, e *api.FlowExecution,
) error {
	if err := validateFlowExecution(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.execs[e.ID]
	if !ok {
		return ErrNotFound
	}
	write, err := decideFlowUpdate(rec.exec, e)
	if err != nil || !write {
		return err
	}
	rec.exec = e.Clone()
	return nil
}

func (m *Memory) CreateNodeExecution(
	_ context.Context, n *api.NodeExecution,
) error {
	if err := validateNodeExecution(n); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.execs[n.ExecutionID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := rec.nodes[n.NodeID]; ok {
		return nil
	}
	if err := checkChildWrite(rec.exec); err != nil {
		return err
	}
	rec.nodes[n.NodeID] = n.Clone()
	return nil
}

func (m *Memory) UpdateNodeExecution(
	_ context.Context, n *api.NodeExecution,
) error {
	if err := validateNodeExecution(n); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.execs[n.ExecutionID]
	if !ok {
		return ErrNotFound
	}
	cur, ok := rec.nodes[n.NodeID]
	if !ok {
		return ErrNotFound
	}
	write, err := decideNodeUpdate(rec.exec, cur, n)
	if err != nil || !write {
		return err
	}
	rec.nodes[n.NodeID] = n.Clone()
	return nil
}

func (m *Memory) AppendLog(_ context.Context, l *api.ExecutionLog) error {
	if err := validateLog(l); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.execs[l.ExecutionID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := rec.logs[l.ID]; ok {
		return nil
	}
	if err := checkChildWrite(rec.exec); err != nil {
		return err
	}
	cpy := *l
	rec.logs[l.ID] = &cpy
	return nil
}

func (m *Memory) PutArtifact(_ context.Context, a *api.Artifact) error {
	if err := validateArtifact(a); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.execs[a.ExecutionID]
	if !ok {
		return ErrNotFound
	}
	if cur, ok := rec.artifacts[a.Name]; ok {
		if cur.ID == a.ID {
			return nil
		}
		return ErrArtifactExists
	}
	if err := checkChildWrite(rec.exec); err != nil {
		return err
	}
	cpy := *a
	rec.artifacts[a.Name] = &cpy
	return nil
}

func (m *Memory) GetFlowExecution(
	_ context.Context, id api.ExecutionID,
) (*api.FlowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.exec.Clone(), nil
}

func (m *Memory) ListExecutions(
	_ context.Context, flowID api.FlowID,
) ([]*api.FlowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := []*api.FlowExecution{}
	for _, rec := range m.execs {
		if flowID != "" && rec.exec.FlowID != flowID {
			continue
		}
		res = append(res, rec.exec.Clone())
	}
	sortExecutions(res)
	return res, nil
}

func (m *Memory) GetNodeExecution(
	_ context.Context, id api.ExecutionID, nodeID api.NodeID,
) (*api.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	n, ok := rec.nodes[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

func (m *Memory) ListNodeExecutions(
	_ context.Context, id api.ExecutionID,
) ([]*api.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	res := make([]*api.NodeExecution, 0, len(rec.nodes))
	for _, n := range rec.nodes {
		res = append(res, n.Clone())
	}
	sortNodeExecutions(res)
	return res, nil
}

func (m *Memory) ListLogs(
	_ context.Context, id api.ExecutionID,
) ([]*api.ExecutionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	res := make([]*api.ExecutionLog, 0, len(rec.logs))
	for _, l := range rec.logs {
		cpy := *l
		res = append(res, &cpy)
	}
	sortLogs(res)
	return res, nil
}

func (m *Memory) ListArtifacts(
	_ context.Context, id api.ExecutionID,
) ([]*api.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	res := make([]*api.Artifact, 0, len(rec.artifacts))
	for _, a := range rec.artifacts {
		cpy := *a
		res = append(res, &cpy)
	}
	sortArtifacts(res)
	return res, nil
}

func (m *Memory) DeleteFlowExecution(
	_ context.Context, id api.ExecutionID,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.execs[id]; !ok {
		return ErrNotFound
	}
	delete(m.execs, id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

package store

import (
	"context"
	"errors"
	"maps"

	"github.com/kode4food/timebox"

	"github.com/GhostKellz/ghostflow/internal/config"
	"github.com/GhostKellz/ghostflow/pkg/api"
)

type (
	// Timebox is an event-sourced Store. Every accepted write is raised as
	// an event on the execution's aggregate, and records are rebuilt by
	// applying those events. Deletion raises a tombstone, so an
	// execution's history stays in the event log
	Timebox struct {
		tb    *timebox.Timebox
		store *timebox.Store
		execs *timebox.Executor[*executionState]
		index *timebox.Executor[*indexState]
	}

	// executionAggregator raises events against one execution's state
	executionAggregator = timebox.Aggregator[*executionState]

	// indexAggregator raises events against the execution index
	indexAggregator = timebox.Aggregator[*indexState]

	executionState struct {
		Exec      *api.FlowExecution
		Nodes     map[api.NodeID]*api.NodeExecution
		Logs      map[api.LogID]*api.ExecutionLog
		Artifacts map[string]*api.Artifact
	}

	indexState struct {
		Executions map[api.ExecutionID]api.FlowID
	}

	executionRef struct {
		ExecutionID api.ExecutionID `json:"execution_id"`
		FlowID      api.FlowID      `json:"flow_id,omitempty"`
	}
)

const (
	EventExecutionCreated   timebox.EventType = "execution_created"
	EventExecutionUpdated   timebox.EventType = "execution_updated"
	EventNodeCreated        timebox.EventType = "node_created"
	EventNodeUpdated        timebox.EventType = "node_updated"
	EventLogAppended        timebox.EventType = "log_appended"
	EventArtifactPut        timebox.EventType = "artifact_put"
	EventExecutionDeleted   timebox.EventType = "execution_deleted"
	EventExecutionIndexed   timebox.EventType = "execution_indexed"
	EventExecutionUnindexed timebox.EventType = "execution_unindexed"

	executionPrefix = "execution"
	indexPrefix     = "executions"
)

var _ Store = (*Timebox)(nil)

var (
	executionAppliers = timebox.Appliers[*executionState]{
		EventExecutionCreated: timebox.MakeApplier(executionCreated),
		EventExecutionUpdated: timebox.MakeApplier(executionUpdated),
		EventNodeCreated:      timebox.MakeApplier(nodeStored),
		EventNodeUpdated:      timebox.MakeApplier(nodeStored),
		EventLogAppended:      timebox.MakeApplier(logAppended),
		EventArtifactPut:      timebox.MakeApplier(artifactPut),
		EventExecutionDeleted: timebox.MakeApplier(executionDeleted),
	}

	indexAppliers = timebox.Appliers[*indexState]{
		EventExecutionIndexed:   timebox.MakeApplier(executionIndexed),
		EventExecutionUnindexed: timebox.MakeApplier(executionUnindexed),
	}

	indexKey = timebox.NewAggregateID(indexPrefix)
)

// OpenTimebox creates an event-sourced Store on the Redis server named by
// cfg
func OpenTimebox(cfg config.RedisConfig) (*Timebox, error) {
	tbCfg := timebox.DefaultConfig()
	tbCfg.MaxRetries = maxWatchRetries
	tbCfg.Workers = false
	tb, err := timebox.NewTimebox(tbCfg)
	if err != nil {
		return nil, err
	}

	storeCfg := timebox.DefaultStoreConfig()
	storeCfg.Addr = cfg.Addr
	storeCfg.Password = cfg.Password
	storeCfg.DB = cfg.DB
	storeCfg.Prefix = cfg.Prefix
	st, err := tb.NewStore(storeCfg)
	if err != nil {
		_ = tb.Close()
		return nil, err
	}
	return NewTimebox(tb, st), nil
}

// NewTimebox creates a Store over an open timebox store. Closing the
// returned Store closes both
func NewTimebox(tb *timebox.Timebox, st *timebox.Store) *Timebox {
	return &Timebox{
		tb:    tb,
		store: st,
		execs: timebox.NewExecutor(st, newExecutionState, executionAppliers),
		index: timebox.NewExecutor(st, newIndexState, indexAppliers),
	}
}

func (t *Timebox) CreateFlowExecution(
	ctx context.Context, e *api.FlowExecution,
) error {
	if err := validateFlowExecution(e); err != nil {
		return err
	}
	_, err := t.execs.Exec(ctx, executionKey(e.ID),
		func(st *executionState, ag *executionAggregator) error {
			if currentExecution(st).Exec != nil {
				return nil
			}
			return timebox.Raise(ag, EventExecutionCreated, *e)
		},
	)
	if err != nil {
		return err
	}
	return t.indexExecution(ctx, e)
}

func (t *Timebox) UpdateFlowExecutionStatus(
	ctx context.Context, e *api.FlowExecution,
) error {
	if err := validateFlowExecution(e); err != nil {
		return err
	}
	return t.execCommand(ctx, e.ID,
		func(st *executionState, ag *executionAggregator) error {
			write, err := decideFlowUpdate(st.Exec, e)
			if err != nil || !write {
				return err
			}
			return timebox.Raise(ag, EventExecutionUpdated, *e)
		},
	)
}

func (t *Timebox) CreateNodeExecution(
	ctx context.Context, n *api.NodeExecution,
) error {
	if err := validateNodeExecution(n); err != nil {
		return err
	}
	return t.execCommand(ctx, n.ExecutionID,
		func(st *executionState, ag *executionAggregator) error {
			if _, ok := st.Nodes[n.NodeID]; ok {
				return nil
			}
			if err := checkChildWrite(st.Exec); err != nil {
				return err
			}
			return timebox.Raise(ag, EventNodeCreated, *n)
		},
	)
}

func (t *Timebox) UpdateNodeExecution(
	ctx context.Context, n *api.NodeExecution,
) error {
	if err := validateNodeExecution(n); err != nil {
		return err
	}
	return t.execCommand(ctx, n.ExecutionID,
		func(st *executionState, ag *executionAggregator) error {
			cur, ok := st.Nodes[n.NodeID]
			if !ok {
				return ErrNotFound
			}
			write, err := decideNodeUpdate(st.Exec, cur, n)
			if err != nil || !write {
				return err
			}
			return timebox.Raise(ag, EventNodeUpdated, *n)
		},
	)
}

func (t *Timebox) AppendLog(ctx context.Context, l *api.ExecutionLog) error {
	if err := validateLog(l); err != nil {
		return err
	}
	return t.execCommand(ctx, l.ExecutionID,
		func(st *executionState, ag *executionAggregator) error {
			if _, ok := st.Logs[l.ID]; ok {
				return nil
			}
			if err := checkChildWrite(st.Exec); err != nil {
				return err
			}
			return timebox.Raise(ag, EventLogAppended, *l)
		},
	)
}

func (t *Timebox) PutArtifact(ctx context.Context, a *api.Artifact) error {
	if err := validateArtifact(a); err != nil {
		return err
	}
	return t.execCommand(ctx, a.ExecutionID,
		func(st *executionState, ag *executionAggregator) error {
			if cur, ok := st.Artifacts[a.Name]; ok {
				if cur.ID == a.ID {
					return nil
				}
				return ErrArtifactExists
			}
			if err := checkChildWrite(st.Exec); err != nil {
				return err
			}
			return timebox.Raise(ag, EventArtifactPut, *a)
		},
	)
}

func (t *Timebox) GetFlowExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.FlowExecution, error) {
	st, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.Exec.Clone(), nil
}

func (t *Timebox) ListExecutions(
	ctx context.Context, flowID api.FlowID,
) ([]*api.FlowExecution, error) {
	idx, err := t.index.Exec(ctx, indexKey,
		func(*indexState, *indexAggregator) error { return nil },
	)
	if err != nil {
		return nil, err
	}

	res := []*api.FlowExecution{}
	for id, fid := range currentIndex(idx).Executions {
		if flowID != "" && fid != flowID {
			continue
		}
		ex, err := t.GetFlowExecution(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			continue
		case err != nil:
			return nil, err
		}
		res = append(res, ex)
	}
	sortExecutions(res)
	return res, nil
}

func (t *Timebox) GetNodeExecution(
	ctx context.Context, id api.ExecutionID, nodeID api.NodeID,
) (*api.NodeExecution, error) {
	st, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	n, ok := st.Nodes[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

func (t *Timebox) ListNodeExecutions(
	ctx context.Context, id api.ExecutionID,
) ([]*api.NodeExecution, error) {
	st, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	res := make([]*api.NodeExecution, 0, len(st.Nodes))
	for _, n := range st.Nodes {
		res = append(res, n.Clone())
	}
	sortNodeExecutions(res)
	return res, nil
}

func (t *Timebox) ListLogs(
	ctx context.Context, id api.ExecutionID,
) ([]*api.ExecutionLog, error) {
	st, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	res := make([]*api.ExecutionLog, 0, len(st.Logs))
	for _, l := range st.Logs {
		cpy := *l
		res = append(res, &cpy)
	}
	sortLogs(res)
	return res, nil
}

func (t *Timebox) ListArtifacts(
	ctx context.Context, id api.ExecutionID,
) ([]*api.Artifact, error) {
	st, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	res := make([]*api.Artifact, 0, len(st.Artifacts))
	for _, a := range st.Artifacts {
		cpy := *a
		res = append(res, &cpy)
	}
	sortArtifacts(res)
	return res, nil
}

func (t *Timebox) DeleteFlowExecution(
	ctx context.Context, id api.ExecutionID,
) error {
	err := t.execCommand(ctx, id,
		func(_ *executionState, ag *executionAggregator) error {
			return timebox.Raise(ag, EventExecutionDeleted,
				executionRef{ExecutionID: id},
			)
		},
	)
	if err != nil {
		return err
	}
	_, err = t.index.Exec(ctx, indexKey,
		func(st *indexState, ag *indexAggregator) error {
			if _, ok := currentIndex(st).Executions[id]; !ok {
				return nil
			}
			return timebox.Raise(ag, EventExecutionUnindexed,
				executionRef{ExecutionID: id},
			)
		},
	)
	return err
}

func (t *Timebox) Close() error {
	return errors.Join(t.store.Close(), t.tb.Close())
}

// execCommand runs cmd against an existing execution
func (t *Timebox) execCommand(
	ctx context.Context, id api.ExecutionID,
	cmd func(*executionState, *executionAggregator) error,
) error {
	_, err := t.execs.Exec(ctx, executionKey(id),
		func(st *executionState, ag *executionAggregator) error {
			st = currentExecution(st)
			if st.Exec == nil {
				return ErrNotFound
			}
			return cmd(st, ag)
		},
	)
	return err
}

func (t *Timebox) load(
	ctx context.Context, id api.ExecutionID,
) (*executionState, error) {
	st, err := t.execs.Exec(ctx, executionKey(id),
		func(*executionState, *executionAggregator) error { return nil },
	)
	if err != nil {
		return nil, err
	}
	st = currentExecution(st)
	if st.Exec == nil {
		return nil, ErrNotFound
	}
	return st, nil
}

func (t *Timebox) indexExecution(
	ctx context.Context, e *api.FlowExecution,
) error {
	_, err := t.index.Exec(ctx, indexKey,
		func(st *indexState, ag *indexAggregator) error {
			if _, ok := currentIndex(st).Executions[e.ID]; ok {
				return nil
			}
			return timebox.Raise(ag, EventExecutionIndexed, executionRef{
				ExecutionID: e.ID,
				FlowID:      e.FlowID,
			})
		},
	)
	return err
}

func executionKey(id api.ExecutionID) timebox.AggregateID {
	return timebox.NewAggregateID(executionPrefix, timebox.ID(id))
}

func newExecutionState() *executionState {
	return &executionState{
		Nodes:     map[api.NodeID]*api.NodeExecution{},
		Logs:      map[api.LogID]*api.ExecutionLog{},
		Artifacts: map[string]*api.Artifact{},
	}
}

func newIndexState() *indexState {
	return &indexState{
		Executions: map[api.ExecutionID]api.FlowID{},
	}
}

func currentExecution(st *executionState) *executionState {
	if st == nil {
		return newExecutionState()
	}
	return st
}

func currentIndex(st *indexState) *indexState {
	if st == nil {
		return newIndexState()
	}
	return st
}

func (s *executionState) clone() *executionState {
	return &executionState{
		Exec:      s.Exec,
		Nodes:     maps.Clone(s.Nodes),
		Logs:      maps.Clone(s.Logs),
		Artifacts: maps.Clone(s.Artifacts),
	}
}

func executionCreated(
	st *executionState, _ *timebox.Event, data api.FlowExecution,
) *executionState {
	if st.Exec != nil {
		return st
	}
	res := st.clone()
	res.Exec = &data
	return res
}

func executionUpdated(
	st *executionState, _ *timebox.Event, data api.FlowExecution,
) *executionState {
	res := st.clone()
	res.Exec = &data
	return res
}

func nodeStored(
	st *executionState, _ *timebox.Event, data api.NodeExecution,
) *executionState {
	res := st.clone()
	res.Nodes[data.NodeID] = &data
	return res
}

func logAppended(
	st *executionState, _ *timebox.Event, data api.ExecutionLog,
) *executionState {
	res := st.clone()
	res.Logs[data.ID] = &data
	return res
}

func artifactPut(
	st *executionState, _ *timebox.Event, data api.Artifact,
) *executionState {
	res := st.clone()
	res.Artifacts[data.Name] = &data
	return res
}

func executionDeleted(
	*executionState, *timebox.Event, executionRef,
) *executionState {
	return newExecutionState()
}

func executionIndexed(
	st *indexState, _ *timebox.Event, data executionRef,
) *indexState {
	res := &indexState{Executions: maps.Clone(st.Executions)}
	res.Executions[data.ExecutionID] = data.FlowID
	return res
}

func executionUnindexed(
	st *indexState, _ *timebox.Event, data executionRef,
) *indexState {
	res := &indexState{Executions: maps.Clone(st.Executions)}
	delete(res.Executions, data.ExecutionID)
	return res
}

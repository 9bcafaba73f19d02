package helpers

import (
	"context"
	"errors"
	"sync"

	"github.com/GhostKellz/ghostflow/internal/store"
	"github.com/GhostKellz/ghostflow/pkg/api"
)

// FaultyStore wraps a Store and fails selected writes
type FaultyStore struct {
	store.Store
	mu    sync.Mutex
	fail  func(op string, v any) bool
	after func(op string, v any)
	calls map[string]int
}

var ErrInjected = errors.New("injected store failure")

// NewFaultyStore wraps st. No writes fail until FailWhen is called
func NewFaultyStore(st store.Store) *FaultyStore {
	return &FaultyStore{
		Store: st,
		calls: map[string]int{},
	}
}

// FailWhen installs a predicate deciding which writes fail
func (s *FaultyStore) FailWhen(fn func(op string, v any) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// AfterWrite installs a callback run after each successful write. It is
// called outside the store's lock and may call back into the engine
func (s *FaultyStore) AfterWrite(fn func(op string, v any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after = fn
}

// FailNodeStatus fails every update that moves the given node to status
func (s *FaultyStore) FailNodeStatus(id api.NodeID, status api.Status) {
	s.FailWhen(func(op string, v any) bool {
		n, ok := v.(*api.NodeExecution)
		return ok && op == "update_node" && n.NodeID == id &&
			n.Status == status
	})
}

// Calls returns how many times the named write was attempted
func (s *FaultyStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *FaultyStore) check(op string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if s.fail != nil && s.fail(op, v) {
		return ErrInjected
	}
	return nil
}

func (s *FaultyStore) done(op string, v any, err error) error {
	if err != nil {
		return err
	}
	s.mu.Lock()
	fn := s.after
	s.mu.Unlock()
	if fn != nil {
		fn(op, v)
	}
	return nil
}

func (s *FaultyStore) CreateFlowExecution(
	ctx context.Context, e *api.FlowExecution,
) error {
	if err := s.check("create_execution", e); err != nil {
		return err
	}
	return s.done("create_execution", e, s.Store.CreateFlowExecution(ctx, e))
}

func (s *FaultyStore) UpdateFlowExecutionStatus(
	ctx context.Context, e *api.FlowExecution,
) error {
	if err := s.check("update_execution", e); err != nil {
		return err
	}
	return s.done("update_execution", e, s.Store.UpdateFlowExecutionStatus(ctx, e))
}

func (s *FaultyStore) CreateNodeExecution(
	ctx context.Context, n *api.NodeExecution,
) error {
	if err := s.check("create_node", n); err != nil {
		return err
	}
	return s.done("create_node", n, s.Store.CreateNodeExecution(ctx, n))
}

func (s *FaultyStore) UpdateNodeExecution(
	ctx context.Context, n *api.NodeExecution,
) error {
	if err := s.check("update_node", n); err != nil {
		return err
	}
	return s.done("update_node", n, s.Store.UpdateNodeExecution(ctx, n))
}

func (s *FaultyStore) AppendLog(ctx context.Context, l *api.ExecutionLog) error {
	if err := s.check("append_log", l); err != nil {
		return err
	}
	return s.done("append_log", l, s.Store.AppendLog(ctx, l))
}

func (s *FaultyStore) PutArtifact(ctx context.Context, a *api.Artifact) error {
	if err := s.check("put_artifact", a); err != nil {
		return err
	}
	return s.done("put_artifact", a, s.Store.PutArtifact(ctx, a))
}

package helpers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

type (
	// TestNode is a scriptable node capability. A single instance is shared
	// by every resolution, so call counts span executions
	TestNode struct {
		Exec      ExecFunc
		Check     CheckFunc
		Def       *api.NodeDefinition
		NoRetry   bool
		calls     atomic.Int32
		mu        sync.Mutex
		contexts  []*node.Context
		startedAt []time.Time
	}

	// ExecFunc implements the Execute behavior of a TestNode. The attempt
	// number starts at 1
	ExecFunc func(ctx context.Context, nc *node.Context, call int) (api.Value, error)

	// CheckFunc implements the Validate behavior of a TestNode
	CheckFunc func(ctx context.Context, nc *node.Context) error
)

var ErrTestFailure = errors.New("test node failure")

// NewTestNode creates a TestNode with the provided Execute behavior
func NewTestNode(fn ExecFunc) *TestNode {
	return &TestNode{Exec: fn}
}

// Factory returns a node factory that always yields this TestNode
func (n *TestNode) Factory() node.Factory {
	return func() node.Capability {
		return n
	}
}

// Calls returns the number of Execute invocations so far
func (n *TestNode) Calls() int {
	return int(n.calls.Load())
}

// Contexts returns the node contexts of every Execute invocation
func (n *TestNode) Contexts() []*node.Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*node.Context(nil), n.contexts...)
}

// StartTimes returns when each Execute invocation began
func (n *TestNode) StartTimes() []time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]time.Time(nil), n.startedAt...)
}

func (n *TestNode) Definition() *api.NodeDefinition {
	if n.Def != nil {
		return n.Def
	}
	return &api.NodeDefinition{Category: "test"}
}

func (n *TestNode) Validate(ctx context.Context, nc *node.Context) error {
	if n.Check != nil {
		return n.Check(ctx, nc)
	}
	return nil
}

func (n *TestNode) Execute(
	ctx context.Context, nc *node.Context,
) (api.Value, error) {
	call := int(n.calls.Add(1))
	n.mu.Lock()
	n.contexts = append(n.contexts, nc)
	n.startedAt = append(n.startedAt, time.Now())
	n.mu.Unlock()
	if n.Exec == nil {
		return nc.Input, nil
	}
	return n.Exec(ctx, nc, call)
}

func (n *TestNode) SupportsRetry() bool {
	return !n.NoRetry
}

func (n *TestNode) IsDeterministic() bool {
	return false
}

// Succeed returns a node that always outputs v
func Succeed(v api.Value) *TestNode {
	return NewTestNode(func(context.Context, *node.Context, int) (api.Value, error) {
		return v, nil
	})
}

// Echo returns a node that outputs its input
func Echo() *TestNode {
	return NewTestNode(nil)
}

// Fail returns a node that always fails with an ExecutionError
func Fail(retryable bool) *TestNode {
	return NewTestNode(func(context.Context, *node.Context, int) (api.Value, error) {
		return api.Null(), api.WrapExecutionError(ErrTestFailure, retryable)
	})
}

// FailTimes returns a node that fails retryably for the first n calls and
// then outputs v
func FailTimes(n int, v api.Value) *TestNode {
	return NewTestNode(func(_ context.Context, _ *node.Context, call int) (api.Value, error) {
		if call <= n {
			return api.Null(), api.WrapExecutionError(ErrTestFailure, true)
		}
		return v, nil
	})
}

// Panic returns a node whose Execute panics
func Panic(msg string) *TestNode {
	return NewTestNode(func(context.Context, *node.Context, int) (api.Value, error) {
		panic(msg)
	})
}

// Sleep returns a node that outputs v after d, or returns early when its
// context is cancelled
func Sleep(d time.Duration, v api.Value) *TestNode {
	return NewTestNode(func(ctx context.Context, _ *node.Context, _ int) (api.Value, error) {
		select {
		case <-time.After(d):
			return v, nil
		case <-ctx.Done():
			return api.Null(), ctx.Err()
		}
	})
}

// Block returns a node that signals started and then blocks until its
// context is cancelled, returning partial as output
func Block(started chan<- api.NodeID, partial api.Value) *TestNode {
	return NewTestNode(func(ctx context.Context, nc *node.Context, _ int) (api.Value, error) {
		if started != nil {
			started <- nc.NodeID
		}
		<-ctx.Done()
		return partial, ctx.Err()
	})
}

// Hang returns a node that ignores cancellation until release is closed
func Hang(release <-chan struct{}) *TestNode {
	return NewTestNode(func(context.Context, *node.Context, int) (api.Value, error) {
		<-release
		return api.Null(), nil
	})
}

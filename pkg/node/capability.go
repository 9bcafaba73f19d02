package node

import (
	"context"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type (
	// Capability is implemented by every node type. The engine calls
	// Validate before Execute and never assumes either succeeds
	Capability interface {
		// Definition describes the node's ports, parameters, and category
		Definition() *api.NodeDefinition

		// Validate inspects the node context before execution. A failure
		// is never retried
		Validate(ctx context.Context, nc *Context) error

		// Execute runs the node. Retryable failures are signaled with a
		// retryable *api.ExecutionError
		Execute(ctx context.Context, nc *Context) (api.Value, error)

		// SupportsRetry reports whether failed executions may be retried
		SupportsRetry() bool

		// IsDeterministic reports whether identical inputs always produce
		// identical outputs
		IsDeterministic() bool
	}

	// Factory constructs a Capability instance for a node type
	Factory func() Capability
)

package node

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type (
	// Identity names the execution, flow, and node a Context belongs to
	Identity struct {
		ExecutionID api.ExecutionID
		FlowID      api.FlowID
		NodeID      api.NodeID
		NodeType    string
		TraceID     string
		Attempt     int
	}

	// LogFunc receives log entries written by a node
	LogFunc func(level api.LogLevel, msg string, fields map[string]api.Value)

	// Context is the data bundle handed to one node invocation. Input and
	// Parameters are scoped to the node, while variables, secrets, and
	// artifacts are read from the shared RunState
	Context struct {
		Identity
		Input      api.Value
		Parameters map[string]api.Value

		run    *RunState
		logf   LogFunc
		staged Outputs
		mu     sync.Mutex
	}
)

// NewContext creates a Context for one node attempt
func NewContext(
	run *RunState, id Identity, input api.Value,
	params map[string]api.Value, logf LogFunc,
) *Context {
	return &Context{
		Identity:   id,
		Input:      input,
		Parameters: maps.Clone(params),
		run:        run,
		logf:       logf,
		staged: Outputs{
			Variables: map[string]api.Value{},
		},
	}
}

// Parameter returns the named node parameter
func (c *Context) Parameter(name string) (api.Value, bool) {
	v, ok := c.Parameters[name]
	return v, ok
}

// Variable returns the named run variable
func (c *Context) Variable(name string) (api.Value, bool) {
	return c.run.Variable(name)
}

// Variables returns a snapshot of the run variables
func (c *Context) Variables() map[string]api.Value {
	return c.run.Variables()
}

// Secret returns the named secret resolved at run start
func (c *Context) Secret(name string) (string, bool) {
	return c.run.Secret(name)
}

// Artifact returns the named artifact produced earlier in the run
func (c *Context) Artifact(name string) (*api.Artifact, bool) {
	return c.run.Artifact(name)
}

// Artifacts returns a snapshot of the artifacts produced so far in the run
func (c *Context) Artifacts() map[string]*api.Artifact {
	return c.run.Artifacts()
}

// SetVariable stages a run variable write. It becomes visible to other
// nodes only if this node completes successfully
func (c *Context) SetVariable(name string, v api.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged.Variables[name] = v
}

// PutArtifact stages artifact content. The blob is stored and the reference
// published only if this node completes successfully
func (c *Context) PutArtifact(name, contentType string, data []byte) error {
	if _, ok := c.run.Artifact(name); ok {
		return fmt.Errorf("%w: %s", ErrArtifactExists, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.staged.Artifacts {
		if p.Name == name {
			return fmt.Errorf("%w: %s", ErrArtifactExists, name)
		}
	}
	c.staged.Artifacts = append(c.staged.Artifacts, &PendingArtifact{
		Name:        name,
		ContentType: contentType,
		Data:        slices.Clone(data),
	})
	return nil
}

// Log records an execution log entry for this node
func (c *Context) Log(
	level api.LogLevel, msg string, fields map[string]api.Value,
) {
	if c.logf != nil {
		c.logf(level, msg, fields)
	}
}

// Staged returns a copy of the outputs staged so far
func (c *Context) Staged() Outputs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Outputs{
		Variables: maps.Clone(c.staged.Variables),
		Artifacts: slices.Clone(c.staged.Artifacts),
	}
}

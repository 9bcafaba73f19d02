package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/ghostflow/internal/config"
	"github.com/GhostKellz/ghostflow/pkg/api"
)

// Wrapper wraps testify assertions with ghostflow-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *assert.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus ghostflow-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    assert.New(t),
	}
}

// FlowValid asserts that a flow definition is valid
func (w *Wrapper) FlowValid(f *api.Flow) {
	w.Helper()
	w.NoError(f.Validate())
	w.NotEmpty(f.ID)
	w.NotEmpty(f.Nodes)
}

// FlowInvalid asserts that a flow definition is invalid and returns the
// validation error
func (w *Wrapper) FlowInvalid(f *api.Flow, contains string) error {
	w.Helper()
	err := f.Validate()
	w.Error(err)
	var ve *api.ValidationError
	w.ErrorAs(err, &ve)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
	return err
}

// ExecutionStatus asserts the status of a flow execution
func (w *Wrapper) ExecutionStatus(
	exec *api.FlowExecution, expected api.Status,
) {
	w.Helper()
	if w.NotNil(exec) {
		w.Equal(expected, exec.Status)
	}
}

// NodeStatus asserts the status of a node execution
func (w *Wrapper) NodeStatus(node *api.NodeExecution, expected api.Status) {
	w.Helper()
	if w.NotNil(node) {
		w.Equal(expected, node.Status, "node %s", node.NodeID)
	}
}

// ErrorKind asserts the kind recorded on an error
func (w *Wrapper) ErrorKind(info *api.ErrorInfo, expected api.ErrorKind) {
	w.Helper()
	if w.NotNil(info) {
		w.Equal(expected, info.Kind)
	}
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= 65535)
	w.True(cfg.MaxConcurrency > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

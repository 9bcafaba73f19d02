package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/GhostKellz/ghostflow/pkg/util"
)

type (
	// EdgeKind distinguishes data dependencies from error-handling edges
	EdgeKind string

	// TriggerKind identifies the event source that starts a flow
	TriggerKind string

	// Flow is a versioned definition of nodes, edges, and triggers. Nodes
	// are kept in definition order
	Flow struct {
		CreatedAt   time.Time    `json:"created_at,omitempty"`
		Nodes       []*Node      `json:"nodes"`
		Edges       []*Edge      `json:"edges,omitempty"`
		Triggers    []*Trigger   `json:"triggers,omitempty"`
		Parameters  []*Parameter `json:"parameters,omitempty"`
		Secrets     []string     `json:"secrets,omitempty"`
		Tags        []string     `json:"tags,omitempty"`
		ID          FlowID       `json:"id"`
		Name        string       `json:"name"`
		Description string       `json:"description,omitempty"`
		Version     string       `json:"version"`
	}

	// Node is the definition of one step in a flow
	Node struct {
		Parameters  map[string]Value `json:"parameters,omitempty"`
		Retry       *RetryConfig     `json:"retry,omitempty"`
		Inputs      []*Port          `json:"inputs,omitempty"`
		Outputs     []*Port          `json:"outputs,omitempty"`
		ID          NodeID           `json:"id"`
		Type        string           `json:"type"`
		Name        string           `json:"name,omitempty"`
		Description string           `json:"description,omitempty"`
		TimeoutMs   int64            `json:"timeout_ms,omitempty"`
	}

	// Port names a node input or output
	Port struct {
		Name        string `json:"name"`
		Type        string `json:"type,omitempty"`
		Description string `json:"description,omitempty"`
		Required    bool   `json:"required,omitempty"`
	}

	// Edge is a data dependency from one node's output to another's input.
	// Error edges are followed only when the source node fails
	Edge struct {
		ID         string   `json:"id,omitempty"`
		Source     NodeID   `json:"source"`
		Target     NodeID   `json:"target"`
		SourcePort string   `json:"source_port,omitempty"`
		TargetPort string   `json:"target_port,omitempty"`
		Kind       EdgeKind `json:"kind,omitempty"`
	}

	// Trigger is an event source that starts executions of a flow
	Trigger struct {
		Config  TriggerConfig `json:"config"`
		ID      TriggerID     `json:"id"`
		Kind    TriggerKind   `json:"kind"`
		Enabled bool          `json:"enabled"`
	}

	// TriggerConfig holds the trigger-specific settings
	TriggerConfig struct {
		Path     string `json:"path,omitempty"`
		Method   string `json:"method,omitempty"`
		Interval string `json:"interval,omitempty"`
	}

	// Parameter declares a named flow input that seeds run variables
	Parameter struct {
		Default     *Value `json:"default,omitempty"`
		Name        string `json:"name"`
		Type        string `json:"type,omitempty"`
		Description string `json:"description,omitempty"`
		Required    bool   `json:"required,omitempty"`
	}

	// RetryConfig bounds the retries of a node
	RetryConfig struct {
		MaxRetries   int    `json:"max_retries,omitempty"`
		BackoffMs    int64  `json:"backoff_ms,omitempty"`
		MaxBackoffMs int64  `json:"max_backoff_ms,omitempty"`
		BackoffType  string `json:"backoff_type,omitempty"`
	}
)

const (
	EdgeData  EdgeKind = "data"
	EdgeError EdgeKind = "error"
)

const (
	TriggerManual   TriggerKind = "manual"
	TriggerWebhook  TriggerKind = "webhook"
	TriggerSchedule TriggerKind = "schedule"
)

const (
	BackoffTypeFixed       = "fixed"
	BackoffTypeLinear      = "linear"
	BackoffTypeExponential = "exponential"
)

var (
	ErrFlowIDEmpty          = errors.New("flow ID empty")
	ErrFlowVersionEmpty     = errors.New("flow version empty")
	ErrFlowEmpty            = errors.New("flow has no nodes")
	ErrNodeIDEmpty          = errors.New("node ID empty")
	ErrNodeTypeEmpty        = errors.New("node type empty")
	ErrDuplicateNode        = errors.New("duplicate node ID")
	ErrNegativeTimeout      = errors.New("timeout_ms cannot be negative")
	ErrInvalidEdgeKind      = errors.New("invalid edge kind")
	ErrTriggerIDEmpty       = errors.New("trigger ID empty")
	ErrDuplicateTrigger     = errors.New("duplicate trigger ID")
	ErrInvalidTriggerKind   = errors.New("invalid trigger kind")
	ErrInvalidWebhookMethod = errors.New("invalid webhook method")
	ErrInvalidInterval      = errors.New("invalid schedule interval")
	ErrParameterNameEmpty   = errors.New("parameter name empty")
	ErrDuplicateParameter   = errors.New("duplicate parameter")
	ErrSecretNameEmpty      = errors.New("secret name empty")
	ErrNegativeRetries      = errors.New("max_retries cannot be negative")
	ErrInvalidBackoffType   = errors.New("invalid backoff type")
	ErrNegativeBackoff      = errors.New("backoff_ms cannot be negative")
	ErrMaxBackoffTooSmall   = errors.New("max_backoff_ms must be >= backoff_ms")
)

var (
	validEdgeKinds = util.SetOf(
		EdgeData,
		EdgeError,
	)

	validTriggerKinds = util.SetOf(
		TriggerManual,
		TriggerWebhook,
		TriggerSchedule,
	)

	validBackoffTypes = util.SetOf(
		BackoffTypeFixed,
		BackoffTypeLinear,
		BackoffTypeExponential,
	)

	validWebhookMethods = util.SetOf(
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
	)
)

// Validate checks the definition-level invariants of a flow. Structural
// graph checks (dangling edges, cycles) are left to the graph validator
func (f *Flow) Validate() error {
	if f.ID == "" {
		return NewValidationError("", ErrFlowIDEmpty)
	}
	if f.Version == "" {
		return NewValidationError("", ErrFlowVersionEmpty)
	}
	if len(f.Nodes) == 0 {
		return NewValidationError("", ErrFlowEmpty)
	}

	seen := util.Set[NodeID]{}
	for _, n := range f.Nodes {
		if err := n.Validate(); err != nil {
			return NewValidationError(n.ID, err)
		}
		if seen.Contains(n.ID) {
			return NewValidationError(n.ID, ErrDuplicateNode)
		}
		seen.Add(n.ID)
	}

	for _, e := range f.Edges {
		if err := e.Validate(); err != nil {
			return NewValidationError(e.Target, err)
		}
	}

	if err := f.validateTriggers(); err != nil {
		return NewValidationError("", err)
	}
	if err := f.validateParameters(); err != nil {
		return NewValidationError("", err)
	}
	for _, s := range f.Secrets {
		if s == "" {
			return NewValidationError("", ErrSecretNameEmpty)
		}
	}
	return nil
}

// Node returns the node definition with the given ID
func (f *Flow) Node(id NodeID) (*Node, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// Trigger returns the trigger definition with the given ID
func (f *Flow) Trigger(id TriggerID) (*Trigger, bool) {
	for _, t := range f.Triggers {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// NodeIDs returns the node IDs in definition order
func (f *Flow) NodeIDs() []NodeID {
	res := make([]NodeID, len(f.Nodes))
	for i, n := range f.Nodes {
		res[i] = n.ID
	}
	return res
}

func (f *Flow) validateTriggers() error {
	seen := util.Set[TriggerID]{}
	for _, t := range f.Triggers {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("trigger %s: %w", t.ID, err)
		}
		if seen.Contains(t.ID) {
			return fmt.Errorf("%w: %s", ErrDuplicateTrigger, t.ID)
		}
		seen.Add(t.ID)
	}
	return nil
}

func (f *Flow) validateParameters() error {
	seen := util.Set[string]{}
	for _, p := range f.Parameters {
		if p.Name == "" {
			return ErrParameterNameEmpty
		}
		if seen.Contains(p.Name) {
			return fmt.Errorf("%w: %s", ErrDuplicateParameter, p.Name)
		}
		seen.Add(p.Name)
	}
	return nil
}

// Validate checks a single node definition
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrNodeIDEmpty
	}
	if n.Type == "" {
		return ErrNodeTypeEmpty
	}
	if n.TimeoutMs < 0 {
		return ErrNegativeTimeout
	}
	return n.Retry.Validate()
}

// Timeout returns the node's configured timeout, or zero when unset
func (n *Node) Timeout() time.Duration {
	return time.Duration(n.TimeoutMs) * time.Millisecond
}

// Validate checks that a retry configuration is usable. A nil config is
// valid and means no retries
func (c *RetryConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	if c.BackoffMs < 0 {
		return ErrNegativeBackoff
	}
	if c.MaxBackoffMs != 0 && c.MaxBackoffMs < c.BackoffMs {
		return ErrMaxBackoffTooSmall
	}
	if c.BackoffType != "" && !validBackoffTypes.Contains(c.BackoffType) {
		return fmt.Errorf("%w: %s", ErrInvalidBackoffType, c.BackoffType)
	}
	return nil
}

// Validate checks a single edge definition
func (e *Edge) Validate() error {
	if !validEdgeKinds.Contains(e.EffectiveKind()) {
		return fmt.Errorf("%w: %s", ErrInvalidEdgeKind, e.Kind)
	}
	return nil
}

// EffectiveKind returns the edge kind, defaulting to a data edge
func (e *Edge) EffectiveKind() EdgeKind {
	if e.Kind == "" {
		return EdgeData
	}
	return e.Kind
}

// IsError returns whether the edge is an error-handling edge
func (e *Edge) IsError() bool {
	return e.EffectiveKind() == EdgeError
}

// Validate checks a single trigger definition
func (t *Trigger) Validate() error {
	if t.ID == "" {
		return ErrTriggerIDEmpty
	}
	if !validTriggerKinds.Contains(t.Kind) {
		return fmt.Errorf("%w: %s", ErrInvalidTriggerKind, t.Kind)
	}
	switch t.Kind {
	case TriggerWebhook:
		if t.Config.Method != "" && !validWebhookMethods.Contains(t.Config.Method) {
			return fmt.Errorf("%w: %s", ErrInvalidWebhookMethod, t.Config.Method)
		}
	case TriggerSchedule:
		if _, err := t.ScheduleInterval(); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleInterval parses the interval of a schedule trigger
func (t *Trigger) ScheduleInterval() (time.Duration, error) {
	d, err := time.ParseDuration(t.Config.Interval)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInterval, t.Config.Interval)
	}
	return d, nil
}

// WebhookMethod returns the HTTP method accepted by a webhook trigger
func (t *Trigger) WebhookMethod() string {
	if t.Config.Method == "" {
		return http.MethodPost
	}
	return t.Config.Method
}

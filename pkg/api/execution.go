package api

import "time"

type (
	// LogLevel is the severity of an execution log entry
	LogLevel string

	// FlowExecution is one run instance of a flow
	FlowExecution struct {
		CreatedAt   time.Time         `json:"created_at"`
		StartedAt   time.Time         `json:"started_at,omitempty"`
		CompletedAt time.Time         `json:"completed_at,omitempty"`
		Input       Value             `json:"input"`
		Output      Value             `json:"output"`
		Error       *ErrorInfo        `json:"error,omitempty"`
		Trigger     TriggerMetadata   `json:"trigger"`
		Metadata    ExecutionMetadata `json:"metadata"`
		ID          ExecutionID       `json:"id"`
		FlowID      FlowID            `json:"flow_id"`
		FlowVersion string            `json:"flow_version"`
		Status      Status            `json:"status"`
		DurationMs  int64             `json:"duration_ms,omitempty"`
	}

	// TriggerMetadata describes the event that started an execution
	TriggerMetadata struct {
		FiredAt   time.Time         `json:"fired_at"`
		Data      map[string]string `json:"data,omitempty"`
		TriggerID TriggerID         `json:"trigger_id,omitempty"`
		Kind      TriggerKind       `json:"kind"`
	}

	// ExecutionMetadata carries correlation and tracing identifiers
	ExecutionMetadata struct {
		ExecutorID    string `json:"executor_id,omitempty"`
		Environment   string `json:"environment,omitempty"`
		CorrelationID string `json:"correlation_id,omitempty"`
		TraceID       string `json:"trace_id,omitempty"`
	}

	// NodeExecution is one node's record within a run, covering all of its
	// retry attempts
	NodeExecution struct {
		CreatedAt   time.Time       `json:"created_at"`
		StartedAt   time.Time       `json:"started_at,omitempty"`
		CompletedAt time.Time       `json:"completed_at,omitempty"`
		Input       Value           `json:"input"`
		Output      Value           `json:"output"`
		Error       *ErrorInfo      `json:"error,omitempty"`
		Attempts    []*Attempt      `json:"attempts,omitempty"`
		ID          NodeExecutionID `json:"id"`
		ExecutionID ExecutionID     `json:"execution_id"`
		NodeID      NodeID          `json:"node_id"`
		NodeType    string          `json:"node_type"`
		Status      Status          `json:"status"`
		RetryCount  int             `json:"retry_count"`
		DurationMs  int64           `json:"duration_ms,omitempty"`
	}

	// Attempt is the trace of a single invocation of a node
	Attempt struct {
		StartedAt   time.Time  `json:"started_at"`
		CompletedAt time.Time  `json:"completed_at,omitempty"`
		Input       Value      `json:"input"`
		Output      Value      `json:"output"`
		Error       *ErrorInfo `json:"error,omitempty"`
		Number      int        `json:"number"`
		BackoffMs   int64      `json:"backoff_ms,omitempty"`
	}

	// ExecutionLog is an append-only, leveled message attached to an
	// execution and optionally one of its nodes
	ExecutionLog struct {
		Timestamp   time.Time        `json:"timestamp"`
		Fields      map[string]Value `json:"fields,omitempty"`
		ID          LogID            `json:"id"`
		ExecutionID ExecutionID      `json:"execution_id"`
		NodeID      NodeID           `json:"node_id,omitempty"`
		Level       LogLevel         `json:"level"`
		Message     string           `json:"message"`
	}

	// Artifact is a named, checksummed, write-once output blob
	Artifact struct {
		CreatedAt   time.Time   `json:"created_at"`
		ID          ArtifactID  `json:"id"`
		ExecutionID ExecutionID `json:"execution_id"`
		NodeID      NodeID      `json:"node_id,omitempty"`
		Name        string      `json:"name"`
		ContentType string      `json:"content_type"`
		StoragePath string      `json:"storage_path"`
		Checksum    string      `json:"checksum"`
		SizeBytes   int64       `json:"size_bytes"`
	}
)

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Clone returns a copy of the execution record that shares no mutable
// slices with the original
func (e *FlowExecution) Clone() *FlowExecution {
	res := *e
	if e.Error != nil {
		info := *e.Error
		res.Error = &info
	}
	return &res
}

// Clone returns a copy of the node execution record that shares no mutable
// slices with the original
func (n *NodeExecution) Clone() *NodeExecution {
	res := *n
	if n.Error != nil {
		info := *n.Error
		res.Error = &info
	}
	res.Attempts = make([]*Attempt, len(n.Attempts))
	for i, a := range n.Attempts {
		cpy := *a
		res.Attempts[i] = &cpy
	}
	return &res
}

// LastAttempt returns the most recent attempt, if any
func (n *NodeExecution) LastAttempt() *Attempt {
	if len(n.Attempts) == 0 {
		return nil
	}
	return n.Attempts[len(n.Attempts)-1]
}

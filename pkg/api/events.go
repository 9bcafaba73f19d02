package api

import "time"

type (
	// EventType identifies a lifecycle event emitted by the engine
	EventType string

	// LifecycleEvent is a discrete state change relayed to observers
	LifecycleEvent struct {
		Timestamp   time.Time   `json:"timestamp"`
		Error       *ErrorInfo  `json:"error,omitempty"`
		Type        EventType   `json:"type"`
		ExecutionID ExecutionID `json:"execution_id"`
		FlowID      FlowID      `json:"flow_id"`
		NodeID      NodeID      `json:"node_id,omitempty"`
		Status      Status      `json:"status"`
		RetryCount  int         `json:"retry_count,omitempty"`
	}

	// EventFilter selects the lifecycle events a subscriber receives
	EventFilter func(*LifecycleEvent) bool
)

const (
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionCancelled EventType = "execution_cancelled"
	EventNodeStarted        EventType = "node_started"
	EventNodeRetrying       EventType = "node_retrying"
	EventNodeCompleted      EventType = "node_completed"
	EventNodeFailed         EventType = "node_failed"
	EventNodeCancelled      EventType = "node_cancelled"
)

// IsNodeEvent returns whether the event concerns a single node
func (e *LifecycleEvent) IsNodeEvent() bool {
	return e.NodeID != ""
}

// FilterExecution accepts only events for the given execution
func FilterExecution(id ExecutionID) EventFilter {
	return func(ev *LifecycleEvent) bool {
		return ev.ExecutionID == id
	}
}

// FilterTypes accepts only events of the given types
func FilterTypes(types ...EventType) EventFilter {
	return func(ev *LifecycleEvent) bool {
		for _, t := range types {
			if ev.Type == t {
				return true
			}
		}
		return false
	}
}

// AllEvents accepts every event
func AllEvents(*LifecycleEvent) bool {
	return true
}

package api

type (
	// StartExecutionRequest contains parameters for starting an execution
	StartExecutionRequest struct {
		Input    Value             `json:"input"`
		Metadata ExecutionMetadata `json:"metadata"`
	}

	// ExecutionStartedResponse is returned when an execution start succeeds
	ExecutionStartedResponse struct {
		Message     string      `json:"message"`
		ExecutionID ExecutionID `json:"execution_id"`
		FlowID      FlowID      `json:"flow_id"`
	}

	// FlowRegisteredResponse is returned when a flow registration succeeds
	FlowRegisteredResponse struct {
		Flow    *Flow  `json:"flow"`
		Message string `json:"message"`
	}

	// FlowsListResponse contains the registered flows
	FlowsListResponse struct {
		Flows []*Flow `json:"flows"`
		Count int     `json:"count"`
	}

	// ExecutionsListResponse contains execution records
	ExecutionsListResponse struct {
		Executions []*FlowExecution `json:"executions"`
		Count      int              `json:"count"`
	}

	// NodeExecutionsResponse contains the node records of an execution
	NodeExecutionsResponse struct {
		Nodes []*NodeExecution `json:"nodes"`
		Count int              `json:"count"`
	}

	// LogsResponse contains the log entries of an execution
	LogsResponse struct {
		Logs  []*ExecutionLog `json:"logs"`
		Count int             `json:"count"`
	}

	// ArtifactsResponse contains the artifacts of an execution
	ArtifactsResponse struct {
		Artifacts []*Artifact `json:"artifacts"`
		Count     int         `json:"count"`
	}

	// NodeTypesResponse lists the node types known to the registry
	NodeTypesResponse struct {
		NodeTypes []*NodeDefinition `json:"node_types"`
		Count     int               `json:"count"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Kind   string `json:"kind,omitempty"`
		Status int    `json:"status,omitempty"`
	}

	// SubscribeRequest is sent by WebSocket clients to narrow the events
	// they receive
	SubscribeRequest struct {
		Type        string      `json:"type"`
		ExecutionID ExecutionID `json:"execution_id,omitempty"`
		EventTypes  []EventType `json:"event_types,omitempty"`
	}

	// SubscribedResponse acknowledges a subscription. When the subscription
	// names an execution, its current record is included
	SubscribedResponse struct {
		Execution *FlowExecution `json:"execution,omitempty"`
		Type      string         `json:"type"`
	}
)

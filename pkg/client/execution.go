package client

import (
	"context"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

// Execution is an immutable builder for starting an execution
type Execution struct {
	client *Client
	flowID api.FlowID
	req    api.StartExecutionRequest
}

// Execution starts building an execution of the given flow
func (c *Client) Execution(flowID api.FlowID) *Execution {
	return &Execution{
		client: c,
		flowID: flowID,
	}
}

// WithInput sets the execution input
func (e *Execution) WithInput(v api.Value) *Execution {
	res := *e
	res.req.Input = v
	return &res
}

// WithCorrelationID sets the correlation identifier recorded on the run
func (e *Execution) WithCorrelationID(id string) *Execution {
	res := *e
	res.req.Metadata.CorrelationID = id
	return &res
}

// WithTraceID sets the trace identifier recorded on the run
func (e *Execution) WithTraceID(id string) *Execution {
	res := *e
	res.req.Metadata.TraceID = id
	return &res
}

// Start starts the execution and returns its ID
func (e *Execution) Start(ctx context.Context) (api.ExecutionID, error) {
	return e.client.StartExecution(ctx, e.flowID, &e.req)
}

// Run starts the execution and waits for it to finish
func (e *Execution) Run(ctx context.Context) (*api.FlowExecution, error) {
	id, err := e.Start(ctx)
	if err != nil {
		return nil, err
	}
	return e.client.WaitExecution(ctx, id)
}

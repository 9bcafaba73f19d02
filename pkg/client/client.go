package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type (
	// Client talks to the engine's HTTP API
	Client struct {
		httpClient *http.Client
		baseURL    string
	}

	// Error is a non-success response from the engine
	Error struct {
		Op      string
		Message string
		Kind    api.ErrorKind
		Status  int
	}
)

var (
	ErrRegisterFlow   = errors.New("failed to register flow")
	ErrGetFlow        = errors.New("failed to get flow")
	ErrListFlows      = errors.New("failed to list flows")
	ErrUnregisterFlow = errors.New("failed to unregister flow")
	ErrStartExecution = errors.New("failed to start execution")
	ErrGetExecution   = errors.New("failed to get execution")
	ErrCancel         = errors.New("failed to cancel execution")
	ErrListNodes      = errors.New("failed to list node executions")
	ErrWaitExecution  = errors.New("failed to wait for execution")
)

const (
	routeFlow      = "/engine/flow"
	routeExecution = "/engine/execution"

	defaultPollInterval = 250 * time.Millisecond
)

// NewClient creates a client for the engine at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// RegisterFlow registers a flow definition
func (c *Client) RegisterFlow(ctx context.Context, f *api.Flow) error {
	return c.do(ctx, ErrRegisterFlow, http.MethodPost, routeFlow, f, nil)
}

// GetFlow returns the active version of a flow
func (c *Client) GetFlow(ctx context.Context, id api.FlowID) (*api.Flow, error) {
	var res api.Flow
	err := c.do(ctx, ErrGetFlow, http.MethodGet, flowPath(id), nil, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListFlows returns the active version of every registered flow
func (c *Client) ListFlows(ctx context.Context) ([]*api.Flow, error) {
	var res api.FlowsListResponse
	err := c.do(ctx, ErrListFlows, http.MethodGet, routeFlow, nil, &res)
	if err != nil {
		return nil, err
	}
	return res.Flows, nil
}

// UnregisterFlow removes every version of a flow
func (c *Client) UnregisterFlow(ctx context.Context, id api.FlowID) error {
	return c.do(ctx, ErrUnregisterFlow, http.MethodDelete, flowPath(id),
		nil, nil,
	)
}

// StartExecution starts an execution of the active version of a flow
func (c *Client) StartExecution(
	ctx context.Context, id api.FlowID, req *api.StartExecutionRequest,
) (api.ExecutionID, error) {
	var res api.ExecutionStartedResponse
	err := c.do(ctx, ErrStartExecution, http.MethodPost,
		flowPath(id)+"/execution", req, &res,
	)
	if err != nil {
		return "", err
	}
	return res.ExecutionID, nil
}

// GetExecution returns the current record of an execution
func (c *Client) GetExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.FlowExecution, error) {
	var res api.FlowExecution
	err := c.do(ctx, ErrGetExecution, http.MethodGet, execPath(id), nil, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListNodeExecutions returns the node records of an execution
func (c *Client) ListNodeExecutions(
	ctx context.Context, id api.ExecutionID,
) ([]*api.NodeExecution, error) {
	var res api.NodeExecutionsResponse
	err := c.do(ctx, ErrListNodes, http.MethodGet, execPath(id)+"/nodes",
		nil, &res,
	)
	if err != nil {
		return nil, err
	}
	return res.Nodes, nil
}

// CancelExecution requests cancellation of an execution
func (c *Client) CancelExecution(ctx context.Context, id api.ExecutionID) error {
	return c.do(ctx, ErrCancel, http.MethodPost, execPath(id)+"/cancel",
		nil, nil,
	)
}

// WaitExecution polls an execution until it is terminal or ctx is done
func (c *Client) WaitExecution(
	ctx context.Context, id api.ExecutionID,
) (*api.FlowExecution, error) {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		ex, err := c.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		if ex.Status.IsTerminal() {
			return ex, nil
		}
		select {
		case <-ctx.Done():
			return ex, fmt.Errorf("%w: %w", ErrWaitExecution, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) do(
	ctx context.Context, op error, method, path string, body, out any,
) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(op, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func responseError(op error, resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	res := &Error{
		Op:      op.Error(),
		Status:  resp.StatusCode,
		Message: string(data),
	}
	var body api.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		res.Message = body.Error
		res.Kind = api.ErrorKind(body.Kind)
	}
	return res
}

func flowPath(id api.FlowID) string {
	return routeFlow + "/" + url.PathEscape(string(id))
}

func execPath(id api.ExecutionID) string {
	return routeExecution + "/" + url.PathEscape(string(id))
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 response
func IsNotFound(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Status == http.StatusNotFound
}

// IsConflict reports whether err is a 409 response
func IsConflict(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Status == http.StatusConflict
}

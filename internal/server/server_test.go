package server_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/ghostflow/internal/assert/helpers"
	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/internal/server"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

type testServerEnv struct {
	Server *server.Server
	*helpers.TestEngineEnv
}

func testServer(t *testing.T) *testServerEnv {
	t.Helper()
	env := helpers.NewTestEngine(t)
	assert.NoError(t, env.Engine.Start(context.Background()))
	return &testServerEnv{
		Server:        server.NewServer(env.Engine, env.Metrics),
		TestEngineEnv: env,
	}
}

func (e *testServerEnv) do(
	method, path string, body any,
) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.Server.SetupRoutes().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) *T {
	t.Helper()
	var res T
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return &res
}

func linearFlow(id api.FlowID) *api.Flow {
	return helpers.NewFlowWithID(id).
		Node("a", node.PassthroughType).
		Node("b", node.PassthroughType).
		Edge("a", "b").
		Build()
}

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	res := decode[api.HealthResponse](t, w)
	assert.Equal(t, "healthy", res.Status)
	assert.NotEmpty(t, res.Service)
}

func TestHealthWhileStopping(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	assert.NoError(t, env.Engine.Stop())
	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do(http.MethodOptions, "/engine/flow", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	_, err := env.Run(t, linearFlow("metrics-flow"), api.Null())
	assert.NoError(t, err)

	w := env.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ghostflow_executions_started_total")
}

func TestListNodeTypes(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do(http.MethodGet, "/engine/node-types", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	res := decode[api.NodeTypesResponse](t, w)
	assert.Equal(t, len(res.NodeTypes), res.Count)
	var types []string
	for _, d := range res.NodeTypes {
		types = append(types, d.Type)
	}
	assert.Contains(t, types, node.PassthroughType)
}

func TestRegisterFlow(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	f := linearFlow("register-flow")
	w := env.do(http.MethodPost, "/engine/flow", f)
	assert.Equal(t, http.StatusCreated, w.Code)

	res := decode[api.FlowRegisteredResponse](t, w)
	assert.Equal(t, f.ID, res.Flow.ID)

	w = env.do(http.MethodPost, "/engine/flow", f)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodGet, "/engine/flow", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	list := decode[api.FlowsListResponse](t, w)
	assert.Equal(t, 1, list.Count)
}

func TestRegisterFlowInvalidJSON(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	req := httptest.NewRequest(http.MethodPost, "/engine/flow",
		strings.NewReader("{not json"),
	)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.Server.SetupRoutes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	res := decode[api.ErrorResponse](t, w)
	assert.Contains(t, res.Error, server.ErrInvalidJSON.Error())
}

func TestRegisterFlowRejected(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	cyclic := helpers.NewFlowWithID("cyclic").
		Node("a", node.PassthroughType).
		Node("b", node.PassthroughType).
		Edge("a", "b").
		Edge("b", "a").
		Build()
	w := env.do(http.MethodPost, "/engine/flow", cyclic)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(api.KindCycle),
		decode[api.ErrorResponse](t, w).Kind,
	)

	unknown := helpers.NewFlowWithID("unknown").
		Node("a", "no-such-type").
		Build()
	w = env.do(http.MethodPost, "/engine/flow", unknown)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(api.KindUnknownNodeType),
		decode[api.ErrorResponse](t, w).Kind,
	)
}

func TestGetAndUnregisterFlow(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	f := linearFlow("get-flow")
	assert.NoError(t, env.Engine.RegisterFlow(f))

	w := env.do(http.MethodGet, "/engine/flow/get-flow", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, f.ID, decode[api.Flow](t, w).ID)

	w = env.do(http.MethodGet, "/engine/flow/get-flow?version=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/engine/flow/get-flow?version=9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodDelete, "/engine/flow/get-flow", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/engine/flow/get-flow", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartExecution(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	f := linearFlow("start-flow")
	assert.NoError(t, env.Engine.RegisterFlow(f))

	w := env.do(http.MethodPost, "/engine/flow/start-flow/execution",
		api.StartExecutionRequest{
			Input: api.MustFromAny(map[string]any{"x": 1}),
			Metadata: api.ExecutionMetadata{
				CorrelationID: "corr-1",
			},
		},
	)
	assert.Equal(t, http.StatusAccepted, w.Code)
	res := decode[api.ExecutionStartedResponse](t, w)
	assert.Equal(t, f.ID, res.FlowID)

	ex, err := env.Wait(t, res.ExecutionID)
	assert.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, ex.Status)
	assert.Equal(t, "corr-1", ex.Metadata.CorrelationID)
	assert.Equal(t, api.TriggerManual, ex.Trigger.Kind)

	w = env.do(http.MethodGet,
		"/engine/execution/"+string(res.ExecutionID), nil,
	)
	assert.Equal(t, http.StatusOK, w.Code)
	got := decode[api.FlowExecution](t, w)
	assert.Equal(t, api.StatusCompleted, got.Status)

	w = env.do(http.MethodGet,
		"/engine/execution/"+string(res.ExecutionID)+"/nodes", nil,
	)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[api.NodeExecutionsResponse](t, w).Count)

	w = env.do(http.MethodGet,
		"/engine/execution/"+string(res.ExecutionID)+"/logs?node_id=a", nil,
	)
	assert.Equal(t, http.StatusOK, w.Code)
	for _, l := range decode[api.LogsResponse](t, w).Logs {
		assert.Equal(t, api.NodeID("a"), l.NodeID)
	}
}

func TestStartExecutionWithoutBody(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	assert.NoError(t, env.Engine.RegisterFlow(linearFlow("no-body")))

	w := env.do(http.MethodPost, "/engine/flow/no-body/execution", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	res := decode[api.ExecutionStartedResponse](t, w)

	ex, err := env.Wait(t, res.ExecutionID)
	assert.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, ex.Status)
}

func TestStartExecutionUnknownFlow(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do(http.MethodPost, "/engine/flow/missing/execution", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/engine/flow/missing/execution", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListExecutions(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	f1 := linearFlow("list-one")
	f2 := linearFlow("list-two")
	_, err := env.Run(t, f1, api.Null())
	assert.NoError(t, err)
	_, err = env.Run(t, f1, api.Null())
	assert.NoError(t, err)
	_, err = env.Run(t, f2, api.Null())
	assert.NoError(t, err)

	w := env.do(http.MethodGet, "/engine/execution", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[api.ExecutionsListResponse](t, w).Count)

	w = env.do(http.MethodGet, "/engine/flow/list-one/execution", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[api.ExecutionsListResponse](t, w).Count)

	w = env.do(http.MethodGet, "/engine/execution?status=failed", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[api.ExecutionsListResponse](t, w).Count)
}

func TestCancelExecution(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	started := make(chan api.NodeID, 1)
	env.Register(t, "block", helpers.Block(started, api.Null()))
	f := helpers.NewFlowWithID("cancel-flow").Node("a", "block").Build()
	assert.NoError(t, env.Engine.RegisterFlow(f))

	id, err := env.Engine.StartExecution(context.Background(), f.ID,
		engine.StartRequest{},
	)
	assert.NoError(t, err)
	<-started

	path := "/engine/execution/" + string(id) + "/cancel"
	w := env.do(http.MethodPost, path, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	ex, err := env.Wait(t, id)
	assert.NoError(t, err)
	assert.Equal(t, api.StatusCancelled, ex.Status)

	w = env.do(http.MethodPost, "/engine/execution/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelCompletedExecution(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	ex, err := env.Run(t, linearFlow("done-flow"), api.Null())
	assert.NoError(t, err)

	w := env.do(http.MethodPost,
		"/engine/execution/"+string(ex.ID)+"/cancel", nil,
	)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteExecution(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	ex, err := env.Run(t, linearFlow("delete-flow"), api.Null())
	assert.NoError(t, err)

	path := "/engine/execution/" + string(ex.ID)
	w := env.do(http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestArtifactEndpoints(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.Register(t, "report", helpers.NewTestNode(
		func(_ context.Context, nc *node.Context, _ int) (api.Value, error) {
			err := nc.PutArtifact("report.txt", "text/plain", []byte("hello"))
			return api.Null(), err
		},
	))
	f := helpers.NewFlowWithID("artifact-flow").Node("a", "report").Build()
	ex, err := env.Run(t, f, api.Null())
	assert.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, ex.Status)

	base := "/engine/execution/" + string(ex.ID) + "/artifacts"
	w := env.do(http.MethodGet, base, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	list := decode[api.ArtifactsResponse](t, w)
	if assert.Equal(t, 1, list.Count) {
		assert.Equal(t, "report.txt", list.Artifacts[0].Name)
	}

	w = env.do(http.MethodGet, base+"/report.txt", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Checksum-SHA256"))

	w = env.do(http.MethodGet, base+"/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func webhookFlow(id api.FlowID) *api.Flow {
	return helpers.NewFlowWithID(id).
		Node("a", node.PassthroughType).
		Trigger(&api.Trigger{
			ID:      "hook",
			Kind:    api.TriggerWebhook,
			Enabled: true,
		}).
		Trigger(&api.Trigger{
			ID:      "put-hook",
			Kind:    api.TriggerWebhook,
			Enabled: true,
			Config:  api.TriggerConfig{Method: http.MethodPut},
		}).
		Trigger(&api.Trigger{
			ID:   "off",
			Kind: api.TriggerWebhook,
		}).
		Trigger(&api.Trigger{
			ID:      "button",
			Kind:    api.TriggerManual,
			Enabled: true,
		}).
		Build()
}

func TestWebhookTrigger(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	assert.NoError(t, env.Engine.RegisterFlow(webhookFlow("hook-flow")))

	w := env.do(http.MethodPost, "/webhook/hook-flow/hook",
		map[string]any{"event": "push"},
	)
	assert.Equal(t, http.StatusAccepted, w.Code)
	res := decode[api.ExecutionStartedResponse](t, w)

	ex, err := env.Wait(t, res.ExecutionID)
	assert.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, ex.Status)
	assert.Equal(t, api.TriggerWebhook, ex.Trigger.Kind)
	assert.Equal(t, api.TriggerID("hook"), ex.Trigger.TriggerID)
	assert.Equal(t, http.MethodPost, ex.Trigger.Data["method"])
	assert.True(t, ex.Input.Equal(api.MustFromAny(map[string]any{
		"event": "push",
	})))

	w = env.do(http.MethodPut, "/webhook/hook-flow/put-hook", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	ex, err = env.Wait(t, decode[api.ExecutionStartedResponse](t, w).ExecutionID)
	assert.NoError(t, err)
	assert.True(t, ex.Input.IsNull())
}

func TestWebhookRejections(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	assert.NoError(t, env.Engine.RegisterFlow(webhookFlow("reject-flow")))

	w := env.do(http.MethodGet, "/webhook/reject-flow/hook", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = env.do(http.MethodPost, "/webhook/reject-flow/off", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/webhook/reject-flow/button", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/webhook/reject-flow/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/webhook/no-flow/hook", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhook/reject-flow/hook",
		strings.NewReader("{bad"),
	)
	rec := httptest.NewRecorder()
	env.Server.SetupRoutes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

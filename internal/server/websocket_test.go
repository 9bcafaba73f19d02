package server_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/pkg/api"
)

type testWebSocketEnv struct {
	*testServerEnv
	HTTP *httptest.Server
	Conn *websocket.Conn
}

const (
	wsReadTimeout  = 2 * time.Second
	wsCloseTimeout = 500 * time.Millisecond
)

func testWebSocket(t *testing.T, query string) *testWebSocketEnv {
	t.Helper()
	env := testServer(t)
	srv := httptest.NewServer(env.Server.SetupRoutes())

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/engine/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.NoError(t, err)

	return &testWebSocketEnv{
		testServerEnv: env,
		HTTP:          srv,
		Conn:          conn,
	}
}

func (e *testWebSocketEnv) Cleanup() {
	if e.Conn != nil {
		_ = e.Conn.Close()
	}
	e.HTTP.Close()
	e.testServerEnv.Cleanup()
}

func (e *testWebSocketEnv) subscribe(
	t *testing.T, sub api.SubscribeRequest,
) *api.SubscribedResponse {
	t.Helper()
	sub.Type = "subscribe"
	assert.NoError(t, e.Conn.WriteJSON(sub))

	_ = e.Conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var res api.SubscribedResponse
	assert.NoError(t, e.Conn.ReadJSON(&res))
	assert.Equal(t, "subscribed", res.Type)
	return &res
}

func (e *testWebSocketEnv) readEvent(t *testing.T) *api.LifecycleEvent {
	t.Helper()
	_ = e.Conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var ev api.LifecycleEvent
	assert.NoError(t, e.Conn.ReadJSON(&ev))
	return &ev
}

func (e *testWebSocketEnv) start(t *testing.T, id api.FlowID) api.ExecutionID {
	t.Helper()
	if _, err := e.Engine.GetFlow(id); err != nil {
		assert.NoError(t, e.Engine.RegisterFlow(linearFlow(id)))
	}
	execID, err := e.Engine.StartExecution(
		context.Background(), id, engine.StartRequest{},
	)
	assert.NoError(t, err)
	return execID
}

func TestWebSocketStreamsEvents(t *testing.T) {
	env := testWebSocket(t, "")
	defer env.Cleanup()

	env.subscribe(t, api.SubscribeRequest{})
	id := env.start(t, "ws-flow")

	ev := env.readEvent(t)
	assert.Equal(t, api.EventExecutionStarted, ev.Type)
	assert.Equal(t, id, ev.ExecutionID)

	for ev.Type != api.EventExecutionCompleted {
		ev = env.readEvent(t)
		assert.Equal(t, id, ev.ExecutionID)
	}
	assert.Equal(t, api.StatusCompleted, ev.Status)
}

func TestWebSocketEventTypeFilter(t *testing.T) {
	env := testWebSocket(t, "")
	defer env.Cleanup()

	env.subscribe(t, api.SubscribeRequest{
		EventTypes: []api.EventType{api.EventNodeCompleted},
	})
	id := env.start(t, "ws-types")

	seen := map[api.NodeID]bool{}
	for range 2 {
		ev := env.readEvent(t)
		assert.Equal(t, api.EventNodeCompleted, ev.Type)
		assert.Equal(t, id, ev.ExecutionID)
		seen[ev.NodeID] = true
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])
}

func TestWebSocketSubscribeExecution(t *testing.T) {
	env := testWebSocket(t, "")
	defer env.Cleanup()

	first := env.start(t, "ws-exec")
	_, err := env.Wait(t, first)
	assert.NoError(t, err)

	res := env.subscribe(t, api.SubscribeRequest{ExecutionID: first})
	if assert.NotNil(t, res.Execution) {
		assert.Equal(t, first, res.Execution.ID)
		assert.Equal(t, api.StatusCompleted, res.Execution.Status)
	}

	second := env.start(t, "ws-exec")
	_, err = env.Wait(t, second)
	assert.NoError(t, err)

	_ = env.Conn.SetReadDeadline(time.Now().Add(wsCloseTimeout))
	var ev api.LifecycleEvent
	assert.Error(t, env.Conn.ReadJSON(&ev))
}

func TestWebSocketSubscribeUnknownExecution(t *testing.T) {
	env := testWebSocket(t, "")
	defer env.Cleanup()

	res := env.subscribe(t, api.SubscribeRequest{ExecutionID: "missing"})
	assert.Nil(t, res.Execution)
}

func TestWebSocketQueryFilter(t *testing.T) {
	env := testWebSocket(t, "?execution_id=nothing")
	defer env.Cleanup()

	id := env.start(t, "ws-query")
	_, err := env.Wait(t, id)
	assert.NoError(t, err)

	_ = env.Conn.SetReadDeadline(time.Now().Add(wsCloseTimeout))
	_, _, err = env.Conn.ReadMessage()
	assert.Error(t, err)
}

func TestWebSocketIgnoresInvalidMessages(t *testing.T) {
	env := testWebSocket(t, "")
	defer env.Cleanup()

	assert.NoError(t, env.Conn.WriteMessage(
		websocket.TextMessage, []byte("{not json"),
	))
	assert.NoError(t, env.Conn.WriteJSON(map[string]string{
		"type": "unsubscribe",
	}))
	env.subscribe(t, api.SubscribeRequest{})
}

func TestServerCloseWebSockets(t *testing.T) {
	env := testWebSocket(t, "")
	defer env.Cleanup()

	env.subscribe(t, api.SubscribeRequest{})
	env.Server.CloseWebSockets()

	_ = env.Conn.SetReadDeadline(time.Now().Add(wsCloseTimeout))
	_, _, err := env.Conn.ReadMessage()
	assert.Error(t, err)
}

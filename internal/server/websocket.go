package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/kode4food/caravan/topic"

	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/internal/events"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
)

// Client is a WebSocket connection streaming lifecycle events
type Client struct {
	engine   *engine.Engine
	conn     *websocket.Conn
	consumer topic.Consumer[*api.LifecycleEvent]
	filter   api.EventFilter
	done     chan struct{}
	once     sync.Once
}

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16
)

const (
	msgSubscribe  = "subscribe"
	msgSubscribed = "subscribed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleWebSocket(c *gin.Context) {
	consumer := s.engine.Events().NewConsumer()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		consumer.Close()
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return
	}

	var filter api.EventFilter = api.AllEvents
	if id := c.Query("execution_id"); id != "" {
		filter = api.FilterExecution(api.ExecutionID(id))
	}

	client := &Client{
		engine:   s.engine,
		conn:     conn,
		consumer: consumer,
		filter:   filter,
		done:     make(chan struct{}),
	}
	s.registerWebSocket(client)

	go func() {
		defer s.unregisterWebSocket(client)
		client.run()
	}()
}

// Close terminates the client's event stream
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Client) run() {
	defer func() {
		c.consumer.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case <-c.done:
			c.sendClose()
			return

		case message, ok := <-incoming:
			if !ok {
				return
			}
			if !c.handleSubscribe(message) {
				return
			}

		case ev, ok := <-c.consumer.Receive():
			if !ok {
				c.sendClose()
				return
			}
			if !c.sendEventIfMatched(ev) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(incoming chan<- []byte) {
	defer close(incoming)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case incoming <- message:
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleSubscribe(message []byte) bool {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Warn("Failed to parse WebSocket message",
			log.Error(err))
		return true
	}
	if sub.Type != msgSubscribe {
		return true
	}

	c.filter = buildFilter(&sub)

	res := api.SubscribedResponse{Type: msgSubscribed}
	if sub.ExecutionID != "" {
		ex, err := c.engine.GetExecution(
			context.Background(), sub.ExecutionID,
		)
		if err != nil {
			slog.Warn("Failed to load subscribed execution",
				log.ExecutionID(sub.ExecutionID),
				log.Error(err))
		} else {
			res.Execution = ex
		}
	}
	return c.write(res)
}

func (c *Client) sendEventIfMatched(ev *api.LifecycleEvent) bool {
	if ev == nil || !c.filter(ev) {
		return true
	}
	return c.write(ev)
}

func (c *Client) write(msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode WebSocket message",
			log.Error(err))
		return true
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("WebSocket write failed",
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil) == nil
}

func (c *Client) sendClose() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
	)
}

// buildFilter narrows the event stream to a subscription's execution and
// event types. An empty subscription accepts every event
func buildFilter(sub *api.SubscribeRequest) api.EventFilter {
	var filters []api.EventFilter
	if sub.ExecutionID != "" {
		filters = append(filters, api.FilterExecution(sub.ExecutionID))
	}
	if len(sub.EventTypes) > 0 {
		filters = append(filters, api.FilterTypes(sub.EventTypes...))
	}
	switch len(filters) {
	case 0:
		return api.AllEvents
	case 1:
		return filters[0]
	default:
		return events.And(filters...)
	}
}

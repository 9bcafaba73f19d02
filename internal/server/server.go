package server

import (
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/pkg/util"
)

// Server implements the HTTP API server for the engine
type Server struct {
	engine  *engine.Engine
	metrics prometheus.Gatherer
	sockets util.Set[*Client]
	mu      sync.Mutex
}

// NewServer creates a new HTTP API server. Metrics are served from the
// provided gatherer
func NewServer(eng *engine.Engine, metrics prometheus.Gatherer) *Server {
	return &Server{
		engine:  eng,
		metrics: metrics,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, PATCH, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}),
	))

	// Webhook triggers
	router.Any("/webhook/:flowID/:triggerID", s.handleWebhook)

	eng := router.Group("/engine")
	{
		eng.GET("/node-types", s.listNodeTypes)

		// Flow endpoints
		eng.GET("/flow", s.listFlows)
		eng.POST("/flow", s.registerFlow)
		eng.GET("/flow/:flowID", s.getFlow)
		eng.DELETE("/flow/:flowID", s.unregisterFlow)
		eng.POST("/flow/:flowID/execution", s.startExecution)
		eng.GET("/flow/:flowID/execution", s.listFlowExecutions)

		// Execution endpoints
		eng.GET("/execution", s.listExecutions)
		eng.GET("/execution/:executionID", s.getExecution)
		eng.DELETE("/execution/:executionID", s.deleteExecution)
		eng.POST("/execution/:executionID/cancel", s.cancelExecution)
		eng.GET("/execution/:executionID/nodes", s.listNodeExecutions)
		eng.GET("/execution/:executionID/logs", s.listLogs)
		eng.GET("/execution/:executionID/artifacts", s.listArtifacts)
		eng.GET("/execution/:executionID/artifacts/:name",
			s.readArtifact)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

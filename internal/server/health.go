package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GhostKellz/ghostflow"
	"github.com/GhostKellz/ghostflow/pkg/api"
)

const (
	healthOK       = "healthy"
	healthStopping = "stopping"
)

func (s *Server) handleHealth(c *gin.Context) {
	res := api.HealthResponse{
		Service: ghostflow.Name,
		Version: ghostflow.Version,
		Status:  healthOK,
	}
	if s.engine.Stopped() {
		res.Status = healthStopping
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listNodeTypes(c *gin.Context) {
	types := s.engine.NodeTypes()
	c.JSON(http.StatusOK, api.NodeTypesResponse{
		NodeTypes: types,
		Count:     len(types),
	})
}

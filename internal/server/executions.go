package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

func (s *Server) listExecutions(c *gin.Context) {
	s.writeExecutions(c, api.FlowID(c.Query("flow_id")))
}

func (s *Server) writeExecutions(c *gin.Context, flowID api.FlowID) {
	execs, err := s.engine.ListExecutions(c.Request.Context(), flowID)
	if err != nil {
		writeError(c, err)
		return
	}
	if status := api.Status(c.Query("status")); status != "" {
		filtered := execs[:0]
		for _, ex := range execs {
			if ex.Status == status {
				filtered = append(filtered, ex)
			}
		}
		execs = filtered
	}
	c.JSON(http.StatusOK, api.ExecutionsListResponse{
		Executions: execs,
		Count:      len(execs),
	})
}

func (s *Server) getExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	ex, err := s.engine.GetExecution(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ex)
}

func (s *Server) deleteExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	if err := s.engine.DeleteExecution(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{
		Message: "Execution deleted",
	})
}

func (s *Server) cancelExecution(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	if err := s.engine.CancelExecution(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.MessageResponse{
		Message: "Cancellation requested",
	})
}

func (s *Server) listNodeExecutions(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	nodes, err := s.engine.ListNodeExecutions(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.NodeExecutionsResponse{
		Nodes: nodes,
		Count: len(nodes),
	})
}

func (s *Server) listLogs(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	logs, err := s.engine.ListLogs(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if nodeID := api.NodeID(c.Query("node_id")); nodeID != "" {
		filtered := logs[:0]
		for _, l := range logs {
			if l.NodeID == nodeID {
				filtered = append(filtered, l)
			}
		}
		logs = filtered
	}
	c.JSON(http.StatusOK, api.LogsResponse{
		Logs:  logs,
		Count: len(logs),
	})
}

func (s *Server) listArtifacts(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	arts, err := s.engine.ListArtifacts(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.ArtifactsResponse{
		Artifacts: arts,
		Count:     len(arts),
	})
}

func (s *Server) readArtifact(c *gin.Context) {
	id := api.ExecutionID(c.Param("executionID"))
	a, data, err := s.engine.ReadArtifact(
		c.Request.Context(), id, c.Param("name"),
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("X-Checksum-SHA256", a.Checksum)
	c.Data(http.StatusOK, a.ContentType, data)
}

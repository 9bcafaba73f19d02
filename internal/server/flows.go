package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/pkg/api"
)

func (s *Server) listFlows(c *gin.Context) {
	flows := s.engine.ListFlows()
	c.JSON(http.StatusOK, api.FlowsListResponse{
		Flows: flows,
		Count: len(flows),
	})
}

func (s *Server) registerFlow(c *gin.Context) {
	var flow api.Flow
	if err := c.ShouldBindJSON(&flow); err != nil {
		writeBadRequest(c, err)
		return
	}

	if err := s.engine.RegisterFlow(&flow); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, api.FlowRegisteredResponse{
		Message: "Flow registered",
		Flow:    &flow,
	})
}

func (s *Server) getFlow(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))

	var (
		flow *api.Flow
		err  error
	)
	if version := c.Query("version"); version != "" {
		flow, err = s.engine.GetFlowVersion(flowID, version)
	} else {
		flow, err = s.engine.GetFlow(flowID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

func (s *Server) unregisterFlow(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))
	if err := s.engine.UnregisterFlow(flowID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{
		Message: "Flow unregistered",
	})
}

func (s *Server) startExecution(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))

	var req api.StartExecutionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, err)
			return
		}
	}

	id, err := s.engine.StartExecution(c.Request.Context(), flowID,
		engine.StartRequest{
			Input:    req.Input,
			Metadata: req.Metadata,
		},
	)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, api.ExecutionStartedResponse{
		Message:     "Execution started",
		ExecutionID: id,
		FlowID:      flowID,
	})
}

func (s *Server) listFlowExecutions(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))
	if _, err := s.engine.GetFlow(flowID); err != nil {
		writeError(c, err)
		return
	}
	s.writeExecutions(c, flowID)
}

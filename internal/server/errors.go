package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GhostKellz/ghostflow/internal/artifact"
	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/pkg/api"
)

var ErrInvalidJSON = errors.New("invalid JSON request")

type errorStatus struct {
	err    error
	status int
}

var errorStatuses = []errorStatus{
	{engine.ErrFlowNotFound, http.StatusNotFound},
	{engine.ErrExecutionNotFound, http.StatusNotFound},
	{engine.ErrTriggerNotFound, http.StatusNotFound},
	{artifact.ErrArtifactNotFound, http.StatusNotFound},
	{engine.ErrFlowExists, http.StatusConflict},
	{engine.ErrExecutionTerminal, http.StatusConflict},
	{engine.ErrExecutionNotTerminal, http.StatusConflict},
	{engine.ErrTriggerDisabled, http.StatusForbidden},
	{engine.ErrTriggerKind, http.StatusBadRequest},
	{engine.ErrEngineStopped, http.StatusServiceUnavailable},
}

var kindStatuses = map[api.ErrorKind]int{
	api.KindValidation:      http.StatusBadRequest,
	api.KindCycle:           http.StatusBadRequest,
	api.KindDanglingRef:     http.StatusBadRequest,
	api.KindUnknownNodeType: http.StatusBadRequest,
}

// statusOf maps an engine error onto the HTTP status reported to clients
func statusOf(err error) int {
	for _, es := range errorStatuses {
		if errors.Is(err, es.err) {
			return es.status
		}
	}
	if st, ok := kindStatuses[api.ErrorInfoOf(err).Kind]; ok {
		return st
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	res := api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	}
	if info := api.ErrorInfoOf(err); info.Kind != api.KindExecution {
		res.Kind = string(info.Kind)
	}
	c.JSON(status, res)
}

func writeBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, api.ErrorResponse{
		Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
		Status: http.StatusBadRequest,
	})
}

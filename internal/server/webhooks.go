package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/log"
)

const maxWebhookBody = 1 << 20

func (s *Server) handleWebhook(c *gin.Context) {
	flowID := api.FlowID(c.Param("flowID"))
	triggerID := api.TriggerID(c.Param("triggerID"))

	t, err := s.engine.Trigger(flowID, triggerID)
	if err != nil {
		slog.Warn("Webhook trigger rejected",
			log.FlowID(flowID),
			slog.String("trigger_id", string(triggerID)),
			log.Error(err))
		writeError(c, err)
		return
	}

	if t.Kind != api.TriggerWebhook {
		writeError(c, fmt.Errorf("%w: %s is %s",
			engine.ErrTriggerKind, triggerID, t.Kind,
		))
		return
	}

	if c.Request.Method != t.WebhookMethod() {
		c.JSON(http.StatusMethodNotAllowed, api.ErrorResponse{
			Error: fmt.Sprintf("webhook expects %s, got %s",
				t.WebhookMethod(), c.Request.Method),
			Status: http.StatusMethodNotAllowed,
		})
		return
	}

	input, err := readWebhookInput(c)
	if err != nil {
		writeBadRequest(c, err)
		return
	}

	id, err := s.engine.FireTrigger(
		c.Request.Context(), flowID, triggerID, input,
		map[string]string{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"remote_addr": c.ClientIP(),
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

func readWebhookInput(c *gin.Context) (api.Value, error) {
	if c.Request.Body == nil {
		return api.Null(), nil
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		return api.Null(), err
	}
	if len(data) == 0 {
		return api.Null(), nil
	}
	return api.ParseJSON(data)
}

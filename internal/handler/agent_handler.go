package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
	"github.com/stemsi/examguard-backend/internal/validator"
)

// AgentHandler receives integrity reports from the native proctoring agent.
// The endpoint carries no JWT; the per-attempt token issued at start is the
// only credential.
type AgentHandler struct {
	attemptService *service.AttemptService
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(attemptService *service.AttemptService) *AgentHandler {
	return &AgentHandler{attemptService: attemptService}
}

// ReportEvent godoc
// POST /api/v1/agent/events
// Appends an agent-origin event to the attempt log. A stale token and an
// unknown attempt yield the same rejection so the endpoint leaks nothing
// about which attempts exist.
func (h *AgentHandler) ReportEvent(c *gin.Context) {
	var req model.AgentReportRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.attemptService.ReportAgentEvent(c.Request.Context(), &req, clientMeta(c))
	if err != nil {
		if errors.Is(err, service.ErrInvalidAgentToken) {
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidAgentToken)
			return
		}
		if errors.Is(err, service.ErrAttemptFinished) {
			response.Fail(c, http.StatusConflict, response.ErrAttemptFinished)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"recorded": true})
}

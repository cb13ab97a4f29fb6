package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
	"github.com/stemsi/examguard-backend/internal/validator"
)

// AttemptHandler handles the student-facing attempt lifecycle endpoints.
type AttemptHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(examService *service.ExamService, attemptService *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{
		examService:    examService,
		attemptService: attemptService,
	}
}

func clientMeta(c *gin.Context) service.ClientMeta {
	return service.ClientMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// Lobby godoc
// GET /api/v1/student/lobby
// Lists exams with window status and the student's own attempt overlaid.
func (h *AttemptHandler) Lobby(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	entries, err := h.examService.Lobby(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exams": entries})
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempt
// Starts a new attempt or resumes the existing one. A finished attempt
// cannot be restarted. The agent token is only disclosed here.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWindowNotOpen):
			response.Fail(c, http.StatusForbidden, response.ErrWindowNotOpen)
		case errors.Is(err, service.ErrWindowClosed):
			response.Fail(c, http.StatusForbidden, response.ErrWindowClosed)
		case errors.Is(err, service.ErrAlreadySubmitted):
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		default:
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attempt":     attempt,
		"agent_token": attempt.AgentToken,
	})
}

// SaveProgress godoc
// PUT /api/v1/student/attempts/:attempt_id/answers
// Autosaves the answer sheet. Rejected once the attempt is finished.
func (h *AttemptHandler) SaveProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err = h.attemptService.SaveProgress(c.Request.Context(), attemptID, claims.UserID, req.Answers)
	if err != nil {
		h.failAttemptMutation(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// ReportEvent godoc
// POST /api/v1/student/attempts/:attempt_id/events
// Appends a browser integrity event. Fullscreen exits and forced exits
// finish the attempt immediately; the response says so.
func (h *AttemptHandler) ReportEvent(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ReportEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.ReportEvent(c.Request.Context(), attemptID, claims.UserID, req.Kind, req.Payload, clientMeta(c))
	if err != nil {
		h.failAttemptMutation(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Submits the attempt for grading. A submission after the deadline is
// accepted but recorded as finishing exactly at the deadline.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.UserID, req.Answers)
	if err != nil {
		h.failAttemptMutation(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ForceFinish godoc
// POST /api/v1/student/attempts/:attempt_id/force-finish
// Finishes the attempt without a submission, e.g. when the exam client
// detects an unrecoverable integrity breach. Idempotent.
func (h *AttemptHandler) ForceFinish(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attemptService.ForceFinish(c.Request.Context(), attemptID, claims.UserID); err != nil {
		h.failAttemptMutation(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"finished": true})
}

// Results godoc
// GET /api/v1/student/attempts/:attempt_id/results
// Returns the graded result once the attempt is finished and the exam's
// results are published, flagging attempts that were terminated by staff.
func (h *AttemptHandler) Results(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	view, err := h.attemptService.StudentResults(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotOwner):
			response.Fail(c, http.StatusForbidden, response.ErrNotOwner)
		case errors.Is(err, service.ErrAttemptRunning):
			response.Fail(c, http.StatusConflict, response.ErrAttemptRunning)
		case errors.Is(err, service.ErrResultsNotReady):
			response.Fail(c, http.StatusForbidden, response.ErrResultsNotReady)
		default:
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attempt":    view.Attempt,
		"score":      view.Score,
		"terminated": view.Terminated,
	})
}

// MyAttempts godoc
// GET /api/v1/student/attempts
func (h *AttemptHandler) MyAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempts, err := h.attemptService.ListStudentAttempts(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// failAttemptMutation maps attempt lifecycle sentinels to API errors.
func (h *AttemptHandler) failAttemptMutation(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotOwner)
	case errors.Is(err, service.ErrAttemptFinished):
		response.Fail(c, http.StatusConflict, response.ErrAttemptFinished)
	case errors.Is(err, service.ErrAlreadySubmitted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
	default:
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	}
}

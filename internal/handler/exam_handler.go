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

// ExamHandler handles the staff/lecturer exam management and monitoring surface.
type ExamHandler struct {
	examService       *service.ExamService
	attemptService    *service.AttemptService
	classifierService *service.ClassifierService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(
	examService *service.ExamService,
	attemptService *service.AttemptService,
	classifierService *service.ClassifierService,
) *ExamHandler {
	return &ExamHandler{
		examService:       examService,
		attemptService:    attemptService,
		classifierService: classifierService,
	}
}

// actorFromClaims rebuilds the acting user from validated JWT claims.
func actorFromClaims(claims *service.Claims) *model.User {
	return &model.User{
		ID:       claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	}
}

// CreateExam godoc
// POST /api/v1/staff/exams
// Creates an exam definition. The window stays shut until opened explicitly.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// ListExams godoc
// GET /api/v1/staff/exams
// Lists exams: lecturers see their own, staff and admins see all.
func (h *ExamHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	exams, err := h.examService.ListForManager(c.Request.Context(), actorFromClaims(claims))
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// OpenExamWindow godoc
// POST /api/v1/staff/exams/:exam_id/open
// Opens the exam window, recording started_at. The window can only be
// opened once; a second call returns a conflict.
func (h *ExamHandler) OpenExamWindow(c *gin.Context) {
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

	exam, err := h.examService.OpenWindow(c.Request.Context(), actorFromClaims(claims), examID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExamAlreadyOpen):
			response.Fail(c, http.StatusConflict, response.ErrExamAlreadyOpen)
		case errors.Is(err, service.ErrNotAuthorized):
			response.Fail(c, http.StatusForbidden, response.ErrNotAuthorized)
		default:
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// AddQuestion godoc
// POST /api/v1/staff/exams/:exam_id/questions
func (h *ExamHandler) AddQuestion(c *gin.Context) {
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

	var req model.AddQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	question, err := h.examService.AddQuestion(c.Request.Context(), actorFromClaims(claims), examID, &req)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			response.Fail(c, http.StatusForbidden, response.ErrNotAuthorized)
			return
		}
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"question": question})
}

// ListQuestions godoc
// GET /api/v1/staff/exams/:exam_id/questions
func (h *ExamHandler) ListQuestions(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	questions, err := h.examService.ListQuestions(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// ListExamAttempts godoc
// GET /api/v1/staff/exams/:exam_id/attempts
// Lists attempts for an exam. Reading an attempt past its deadline
// finalizes it first, so the listing never shows a stale running state.
func (h *ExamHandler) ListExamAttempts(c *gin.Context) {
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

	if !h.canViewExam(c, claims, examID) {
		return
	}

	attempts, err := h.attemptService.ListExamAttempts(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// ViewAttempt godoc
// GET /api/v1/staff/attempts/:attempt_id
// Returns an attempt with its full event log and suspicion verdict.
func (h *ExamHandler) ViewAttempt(c *gin.Context) {
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

	attempt, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	if !h.canViewExam(c, claims, attempt.ExamID) {
		return
	}

	events, err := h.attemptService.Events(c.Request.Context(), attemptID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	verdict, err := h.classifierService.ClassifyAttempt(c.Request.Context(), attemptID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"attempt": attempt,
		"events":  events,
		"verdict": verdict,
	})
}

// TerminateAttempt godoc
// POST /api/v1/staff/attempts/:attempt_id/terminate
// Force-terminates a running attempt: score zero, synthetic log record,
// termination broadcast to live monitors.
func (h *ExamHandler) TerminateAttempt(c *gin.Context) {
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

	err = h.attemptService.Terminate(c.Request.Context(), attemptID, actorFromClaims(claims))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotAuthorized):
			response.Fail(c, http.StatusForbidden, response.ErrNotAuthorized)
		case errors.Is(err, service.ErrAttemptFinished):
			response.Fail(c, http.StatusConflict, response.ErrAttemptFinished)
		default:
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"terminated": true})
}

// PublishResults godoc
// POST /api/v1/staff/exams/:exam_id/publish
// Toggles student visibility of the exam's results.
func (h *ExamHandler) PublishResults(c *gin.Context) {
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

	var req model.PublishResultsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.PublishResults(c.Request.Context(), actorFromClaims(claims), examID, *req.Publish)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			response.Fail(c, http.StatusForbidden, response.ErrNotAuthorized)
			return
		}
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// OverrideScore godoc
// POST /api/v1/staff/attempts/:attempt_id/score
// Manually marks an attempt. Finishes a still-running attempt; on a finished
// one only the score changes.
func (h *ExamHandler) OverrideScore(c *gin.Context) {
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

	var req model.OverrideScoreRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.OverrideScore(c.Request.Context(), attemptID, actorFromClaims(claims), *req.Score)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthorized) {
			response.Fail(c, http.StatusForbidden, response.ErrNotAuthorized)
			return
		}
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ExamAlerts godoc
// GET /api/v1/staff/exams/:exam_id/alerts
// Returns suspicious attempts for an exam, most severe first, with
// aggregate counts for the monitoring dashboard.
func (h *ExamHandler) ExamAlerts(c *gin.Context) {
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

	if !h.canViewExam(c, claims, examID) {
		return
	}

	alerts, stats, err := h.classifierService.ExamAlerts(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"alerts": alerts,
		"stats":  stats,
	})
}

// canViewExam authorizes read access to an exam's monitoring data: staff and
// admins see everything, lecturers only their own exams. Writes the error
// response itself and reports whether the caller may proceed.
func (h *ExamHandler) canViewExam(c *gin.Context, claims *service.Claims, examID uuid.UUID) bool {
	if claims.Role.IsMonitor() {
		return true
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return false
	}
	if exam.CreatorID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotAuthorized)
		return false
	}
	return true
}

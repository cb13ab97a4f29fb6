package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/handler"
	"github.com/stemsi/examguard-backend/internal/middleware"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Exam    *handler.ExamHandler
	Attempt *handler.AttemptHandler
	Agent   *handler.AgentHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for the unauthenticated surfaces (per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)
	agentLimiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/login", handlers.Auth.Login)
		auth.GET("/me", middleware.RequireJWT(authService), handlers.Auth.Me)
		auth.POST("/logout", middleware.RequireJWT(authService), handlers.Auth.Logout)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleStudent),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.GET("/lobby", handlers.Attempt.Lobby)
		studentAPI.GET("/attempts", handlers.Attempt.MyAttempts)
		studentAPI.POST("/exams/:exam_id/attempt", handlers.Attempt.StartAttempt)
		studentAPI.PUT("/attempts/:attempt_id/answers", handlers.Attempt.SaveProgress)
		studentAPI.POST("/attempts/:attempt_id/events", handlers.Attempt.ReportEvent)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.Submit)
		studentAPI.POST("/attempts/:attempt_id/force-finish", handlers.Attempt.ForceFinish)
		studentAPI.GET("/attempts/:attempt_id/results", handlers.Attempt.Results)
	}

	// ─── 3. Staff Group (JWT + RBAC) ───────────────────────────────────
	staffAPI := router.Group("/api/v1/staff")
	staffAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleLecturer, model.RoleStaff, model.RoleAdmin),
	)
	{
		staffAPI.POST("/exams", handlers.Exam.CreateExam)
		staffAPI.GET("/exams", handlers.Exam.ListExams)
		staffAPI.POST("/exams/:exam_id/open", handlers.Exam.OpenExamWindow)
		staffAPI.POST("/exams/:exam_id/publish", handlers.Exam.PublishResults)
		staffAPI.POST("/exams/:exam_id/questions", handlers.Exam.AddQuestion)
		staffAPI.GET("/exams/:exam_id/questions", handlers.Exam.ListQuestions)
		staffAPI.GET("/exams/:exam_id/attempts", handlers.Exam.ListExamAttempts)
		staffAPI.GET("/exams/:exam_id/alerts", handlers.Exam.ExamAlerts)
		staffAPI.GET("/attempts/:attempt_id", handlers.Exam.ViewAttempt)
		staffAPI.POST("/attempts/:attempt_id/terminate", handlers.Exam.TerminateAttempt)
		staffAPI.POST("/attempts/:attempt_id/score", handlers.Exam.OverrideScore)
	}

	// ─── 4. Agent Group (Token-in-Body, Rate Limited) ──────────────────
	agentAPI := router.Group("/api/v1/agent")
	agentAPI.Use(agentLimiter.Middleware())
	{
		agentAPI.POST("/events", handlers.Agent.ReportEvent)
	}

	// ─── 5. WebSocket Group (WS Auth) ──────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/monitor", handlers.WS.MonitorStream)
	}

	return router
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
)

// ExamService handles exam definition business logic.
type ExamService struct {
	exams     ExamStore
	questions QuestionStore
	attempts  AttemptStore
	log       zerolog.Logger
	now       func() time.Time
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, questions QuestionStore, attempts AttemptStore, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		attempts:  attempts,
		log:       log.With().Str("component", "exam_service").Logger(),
		now:       time.Now,
	}
}

// Create inserts a new exam definition owned by the creator.
func (s *ExamService) Create(ctx context.Context, creatorID int, req *model.CreateExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		Title:           req.Title,
		CreatorID:       creatorID,
		DurationMinutes: req.DurationMinutes,
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	return exam, nil
}

// GetByID retrieves one exam.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.exams.GetByID(ctx, id)
}

// ListForManager returns the exams a lecturer owns, or every exam for
// staff/admin.
func (s *ExamService) ListForManager(ctx context.Context, actor *model.User) ([]model.Exam, error) {
	if actor.Role == model.RoleLecturer {
		return s.exams.ListByCreator(ctx, actor.ID)
	}
	return s.exams.ListAll(ctx)
}

// OpenWindow stamps the exam's publish window start exactly once. Lecturers
// may open only their own exams; staff and admin may open any.
func (s *ExamService) OpenWindow(ctx context.Context, actor *model.User, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if err := s.authorizeManage(actor, exam); err != nil {
		return nil, err
	}

	opened, err := s.exams.OpenWindow(ctx, examID, s.now())
	if err != nil {
		return nil, fmt.Errorf("open window: %w", err)
	}
	if !opened {
		return nil, ErrExamAlreadyOpen
	}
	return s.exams.GetByID(ctx, examID)
}

// PublishResults toggles student visibility of the exam's results. Unlike the
// window stamp this is reversible: staff can unpublish to correct grading
// mistakes before re-publishing.
func (s *ExamService) PublishResults(ctx context.Context, actor *model.User, examID uuid.UUID, publish bool) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if err := s.authorizeManage(actor, exam); err != nil {
		return nil, err
	}

	if _, err := s.exams.SetResultsPublished(ctx, examID, publish); err != nil {
		return nil, fmt.Errorf("set results published: %w", err)
	}
	s.log.Info().
		Str("exam_id", examID.String()).
		Bool("published", publish).
		Str("actor", actor.Username).
		Msg("Exam results publish state changed")
	return s.exams.GetByID(ctx, examID)
}

// AddQuestion appends a question to an exam the actor manages.
func (s *ExamService) AddQuestion(ctx context.Context, actor *model.User, examID uuid.UUID, req *model.AddQuestionRequest) (*model.Question, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if err := s.authorizeManage(actor, exam); err != nil {
		return nil, err
	}

	q := &model.Question{
		ExamID:       examID,
		Text:         req.Text,
		Choices:      req.Choices,
		CorrectIndex: req.CorrectIndex,
		OrderNum:     req.OrderNum,
	}
	if err := s.questions.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// ListQuestions returns an exam's questions in display order.
func (s *ExamService) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	return s.questions.ListByExam(ctx, examID)
}

// authorizeManage allows staff/admin on any exam and lecturers on their own.
func (s *ExamService) authorizeManage(actor *model.User, exam *model.Exam) error {
	switch actor.Role {
	case model.RoleStaff, model.RoleAdmin:
		return nil
	case model.RoleLecturer:
		if exam.CreatorID != actor.ID {
			return ErrNotAuthorized
		}
		return nil
	default:
		return ErrNotAuthorized
	}
}

// LobbyEntry is an exam as shown to a student, with their attempt overlaid.
type LobbyEntry struct {
	Exam            model.Exam         `json:"exam"`
	WindowStatus    model.WindowStatus `json:"window_status"`
	WindowEnd       *time.Time         `json:"window_end,omitempty"`
	CanStart        bool               `json:"can_start"`
	AttemptID       *uuid.UUID         `json:"attempt_id,omitempty"`
	AttemptFinished bool               `json:"attempt_finished"`
}

// Lobby lists exams for the student view: window status from the definition,
// plus the student's own attempt state. Exams whose window already finished
// and were never attempted are hidden.
func (s *ExamService) Lobby(ctx context.Context, studentID int) ([]LobbyEntry, error) {
	exams, err := s.exams.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}

	now := s.now()
	var lobby []LobbyEntry
	for i := range exams {
		e := exams[i]
		status := e.Window(now)

		attempt, err := s.attempts.GetByExamAndStudent(ctx, e.ID, studentID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get attempt: %w", err)
		}

		if status == model.WindowFinished && attempt == nil {
			continue
		}

		entry := LobbyEntry{
			Exam:         e,
			WindowStatus: status,
			WindowEnd:    e.WindowEnd(),
			CanStart:     status == model.WindowStarted && attempt == nil,
		}
		if attempt != nil {
			id := attempt.ID
			entry.AttemptID = &id
			entry.AttemptFinished = attempt.Terminal() || attempt.Expired(now)
			entry.CanStart = false
		}
		lobby = append(lobby, entry)
	}
	return lobby, nil
}

package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
)

// Store interfaces abstract the pgx repositories so the lifecycle engine can
// be exercised against in-memory fakes. The concrete types in
// internal/repository satisfy them.

// AttemptStore persists attempts.
type AttemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]*model.Attempt, error)
	ListByStudent(ctx context.Context, studentID int) ([]*model.Attempt, error)
	UpdateAnswers(ctx context.Context, id uuid.UUID, answers map[string]string) (bool, error)
	Finalize(ctx context.Context, id uuid.UUID, finishedAt time.Time, score float64) (bool, error)
	UpdateScore(ctx context.Context, id uuid.UUID, score float64) (bool, error)
	ListExpired(ctx context.Context, now time.Time) ([]*model.Attempt, error)
}

// EventStore persists the append-only integrity event log.
type EventStore interface {
	Append(ctx context.Context, ev *model.EventRecord) error
	Snapshot(ctx context.Context, attemptID uuid.UUID) ([]model.EventRecord, error)
}

// ExamStore persists exam definitions.
type ExamStore interface {
	Create(ctx context.Context, e *model.Exam) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListAll(ctx context.Context) ([]model.Exam, error)
	ListByCreator(ctx context.Context, creatorID int) ([]model.Exam, error)
	OpenWindow(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	SetResultsPublished(ctx context.Context, id uuid.UUID, published bool) (bool, error)
}

// QuestionStore persists exam questions.
type QuestionStore interface {
	Create(ctx context.Context, q *model.Question) error
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// UserStore persists user accounts.
type UserStore interface {
	GetByID(ctx context.Context, id int) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
}

// Broadcaster fans appended events out to live monitors. Implementations must
// be non-blocking with respect to the caller.
type Broadcaster interface {
	BroadcastEvent(attemptID uuid.UUID, rec *model.EventRecord)
	BroadcastTermination(attemptID uuid.UUID, message string)
}

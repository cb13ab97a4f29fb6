package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/examguard-backend/internal/model"
)

// In-memory stores mirroring the pgx repositories' observable behavior:
// missing rows yield pgx.ErrNoRows, returned structs are copies, and the
// finalize / answer updates honor the finished_at IS NULL guard.

func cloneAttempt(a *model.Attempt) *model.Attempt {
	cp := *a
	if a.Answers != nil {
		cp.Answers = make(map[string]string, len(a.Answers))
		for k, v := range a.Answers {
			cp.Answers[k] = v
		}
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		cp.FinishedAt = &t
	}
	if a.Score != nil {
		sc := *a.Score
		cp.Score = &sc
	}
	return &cp
}

type memAttemptStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Attempt
}

func newMemAttemptStore() *memAttemptStore {
	return &memAttemptStore{rows: make(map[uuid.UUID]*model.Attempt)}
}

func (s *memAttemptStore) Create(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ExamID == a.ExamID && row.StudentID == a.StudentID {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.rows[a.ID] = cloneAttempt(a)
	return nil
}

func (s *memAttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneAttempt(row), nil
}

func (s *memAttemptStore) GetByExamAndStudent(_ context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ExamID == examID && row.StudentID == studentID {
			return cloneAttempt(row), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memAttemptStore) ListByExam(_ context.Context, examID uuid.UUID) ([]*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Attempt
	for _, row := range s.rows {
		if row.ExamID == examID {
			out = append(out, cloneAttempt(row))
		}
	}
	return out, nil
}

func (s *memAttemptStore) ListByStudent(_ context.Context, studentID int) ([]*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Attempt
	for _, row := range s.rows {
		if row.StudentID == studentID {
			out = append(out, cloneAttempt(row))
		}
	}
	return out, nil
}

func (s *memAttemptStore) UpdateAnswers(_ context.Context, id uuid.UUID, answers map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.FinishedAt != nil {
		return false, nil
	}
	row.Answers = make(map[string]string, len(answers))
	for k, v := range answers {
		row.Answers[k] = v
	}
	return true, nil
}

func (s *memAttemptStore) Finalize(_ context.Context, id uuid.UUID, finishedAt time.Time, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.FinishedAt != nil {
		return false, nil
	}
	row.FinishedAt = &finishedAt
	row.Score = &score
	return true, nil
}

func (s *memAttemptStore) UpdateScore(_ context.Context, id uuid.UUID, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	row.Score = &score
	return true, nil
}

func (s *memAttemptStore) ListExpired(_ context.Context, now time.Time) ([]*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Attempt
	for _, row := range s.rows {
		if row.FinishedAt == nil && now.After(row.Deadline) {
			out = append(out, cloneAttempt(row))
		}
	}
	return out, nil
}

type memEventStore struct {
	mu   sync.Mutex
	seq  int64
	rows []model.EventRecord
}

func newMemEventStore() *memEventStore {
	return &memEventStore{}
}

func (s *memEventStore) Append(_ context.Context, ev *model.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev.Seq = s.seq
	ev.CreatedAt = time.Now()
	s.rows = append(s.rows, *ev)
	return nil
}

func (s *memEventStore) Snapshot(_ context.Context, attemptID uuid.UUID) ([]model.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.EventRecord
	for _, row := range s.rows {
		if row.AttemptID == attemptID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

type memExamStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Exam
}

func newMemExamStore() *memExamStore {
	return &memExamStore{rows: make(map[uuid.UUID]*model.Exam)}
}

func (s *memExamStore) Create(_ context.Context, e *model.Exam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	s.rows[e.ID] = &cp
	return nil
}

func (s *memExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *row
	return &cp, nil
}

func (s *memExamStore) ListAll(_ context.Context) ([]model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Exam
	for _, row := range s.rows {
		out = append(out, *row)
	}
	return out, nil
}

func (s *memExamStore) ListByCreator(_ context.Context, creatorID int) ([]model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Exam
	for _, row := range s.rows {
		if row.CreatorID == creatorID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *memExamStore) OpenWindow(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.StartedAt != nil {
		return false, nil
	}
	row.StartedAt = &startedAt
	return true, nil
}

func (s *memExamStore) SetResultsPublished(_ context.Context, id uuid.UUID, published bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	row.ResultsPublished = published
	return true, nil
}

type memQuestionStore struct {
	mu   sync.Mutex
	rows []model.Question
}

func newMemQuestionStore() *memQuestionStore {
	return &memQuestionStore{}
}

func (s *memQuestionStore) Create(_ context.Context, q *model.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	s.rows = append(s.rows, *q)
	return nil
}

func (s *memQuestionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Question
	for _, row := range s.rows {
		if row.ExamID == examID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNum < out[j].OrderNum })
	return out, nil
}

func (s *memQuestionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.rows {
		if row.ID == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

// recordBroadcaster captures fan-out calls for assertions.
type recordBroadcaster struct {
	mu           sync.Mutex
	events       []model.EventRecord
	terminations []uuid.UUID
}

func (b *recordBroadcaster) BroadcastEvent(_ uuid.UUID, rec *model.EventRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, *rec)
}

func (b *recordBroadcaster) BroadcastTermination(attemptID uuid.UUID, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminations = append(b.terminations, attemptID)
}

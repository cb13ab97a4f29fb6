package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examguard-backend/internal/model"
)

// AttemptRepository handles attempt data access. The answers blob is decoded
// defensively: a corrupt stored value degrades to an empty map so exam
// delivery never fails on historical data.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, exam_id, student_id, started_at, deadline, finished_at, score, answers, agent_token`

func scanAttempt(row interface{ Scan(dest ...any) error }) (*model.Attempt, error) {
	a := &model.Attempt{}
	var answersRaw []byte
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StartedAt, &a.Deadline,
		&a.FinishedAt, &a.Score, &answersRaw, &a.AgentToken)
	if err != nil {
		return nil, err
	}
	a.Answers = decodeAnswers(answersRaw)
	return a, nil
}

// decodeAnswers unmarshals the stored answers map, substituting an empty map
// on decode failure.
func decodeAnswers(raw []byte) map[string]string {
	answers := make(map[string]string)
	if len(raw) == 0 {
		return answers
	}
	if err := json.Unmarshal(raw, &answers); err != nil {
		return make(map[string]string)
	}
	return answers
}

// Create inserts a new attempt. The (exam_id, student_id) unique constraint
// means a concurrent duplicate start surfaces as an error the caller resolves
// by re-fetching the existing row.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, student_id, started_at, deadline, answers, agent_token)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		a.ExamID, a.StudentID, a.StartedAt, a.Deadline, answers, a.AgentToken,
	).Scan(&a.ID)
}

// GetByID retrieves an attempt by ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetByExamAndStudent retrieves the attempt for a specific exam-student pair.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID))
}

// ListByExam retrieves all attempts for an exam.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]*model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 ORDER BY started_at ASC`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListByStudent retrieves all attempts for a student, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]*model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE student_id = $1 ORDER BY started_at DESC`,
		studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// UpdateAnswers replaces the saved answers for a non-terminal attempt.
// Returns false if the attempt is already terminal.
func (r *AttemptRepository) UpdateAnswers(ctx context.Context, id uuid.UUID, answers map[string]string) (bool, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET answers = $2 WHERE id = $1 AND finished_at IS NULL`,
		id, raw,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Finalize flips an attempt to terminal state exactly once. The
// finished_at IS NULL guard makes concurrent finalize triggers collapse into
// a single observable transition; callers treat false as the no-op case.
func (r *AttemptRepository) Finalize(ctx context.Context, id uuid.UUID, finishedAt time.Time, score float64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET finished_at = $2, score = $3
		 WHERE id = $1 AND finished_at IS NULL`,
		id, finishedAt, score,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateScore replaces the score of an already-finished attempt. Unlike
// Finalize it does not touch finished_at, so it is the one write allowed to
// change a terminal attempt.
func (r *AttemptRepository) UpdateScore(ctx context.Context, id uuid.UUID, score float64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET score = $2
		 WHERE id = $1`,
		id, score,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpired retrieves attempts still running past their deadline at the
// given instant. Used by the deadline sweeper.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time) ([]*model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE finished_at IS NULL AND deadline < $1
		 ORDER BY deadline ASC`, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

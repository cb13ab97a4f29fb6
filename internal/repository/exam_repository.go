package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examguard-backend/internal/model"
)

// ExamRepository handles exam definition data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// Create inserts a new exam definition.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, creator_id, duration_minutes)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		e.Title, e.CreatorID, e.DurationMinutes,
	).Scan(&e.ID, &e.CreatedAt)
}

// GetByID retrieves an exam by ID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, creator_id, duration_minutes, started_at, results_published, created_at
		 FROM exams
		 WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.CreatorID, &e.DurationMinutes, &e.StartedAt, &e.ResultsPublished, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListAll retrieves every exam, newest first.
func (r *ExamRepository) ListAll(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, creator_id, duration_minutes, started_at, results_published, created_at
		 FROM exams
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.CreatorID, &e.DurationMinutes, &e.StartedAt, &e.ResultsPublished, &e.CreatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ListByCreator retrieves all exams created by the given lecturer.
func (r *ExamRepository) ListByCreator(ctx context.Context, creatorID int) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, creator_id, duration_minutes, started_at, results_published, created_at
		 FROM exams
		 WHERE creator_id = $1
		 ORDER BY created_at DESC`, creatorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.CreatorID, &e.DurationMinutes, &e.StartedAt, &e.ResultsPublished, &e.CreatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// OpenWindow stamps started_at exactly once. Returns false if the window was
// already opened; started_at never reverts once set.
func (r *ExamRepository) OpenWindow(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams
		 SET started_at = $2
		 WHERE id = $1 AND started_at IS NULL`,
		id, startedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetResultsPublished toggles student visibility of the exam's results.
func (r *ExamRepository) SetResultsPublished(ctx context.Context, id uuid.UUID, published bool) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams
		 SET results_published = $2
		 WHERE id = $1`,
		id, published,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

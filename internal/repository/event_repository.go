package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examguard-backend/internal/model"
)

// EventRepository handles the append-only integrity event log. Each record is
// one row; the insert is the atomic append primitive, and the serial seq
// column preserves append order per attempt.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// Append inserts one event record and fills in its assigned seq and timestamp.
func (r *EventRepository) Append(ctx context.Context, ev *model.EventRecord) error {
	payload := string(ev.Payload)
	if payload == "" {
		payload = "{}"
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempt_events (attempt_id, kind, payload, origin, ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING seq, created_at`,
		ev.AttemptID, ev.Kind, payload, ev.Origin, ev.IP, ev.UserAgent,
	).Scan(&ev.Seq, &ev.CreatedAt)
}

// Snapshot returns the ordered event records of one attempt. It is a
// defensive copy: events appended after the call are not reflected. A stored
// payload that fails to decode degrades to an empty object so the classifier
// and monitoring views stay available over corrupt historical data.
func (r *EventRepository) Snapshot(ctx context.Context, attemptID uuid.UUID) ([]model.EventRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seq, attempt_id, kind, payload, origin, ip, user_agent, created_at
		 FROM attempt_events
		 WHERE attempt_id = $1
		 ORDER BY seq ASC`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.EventRecord
	for rows.Next() {
		var ev model.EventRecord
		var payload string
		if err := rows.Scan(&ev.Seq, &ev.AttemptID, &ev.Kind, &payload, &ev.Origin, &ev.IP, &ev.UserAgent, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if json.Valid([]byte(payload)) {
			ev.Payload = json.RawMessage(payload)
		} else {
			ev.Payload = json.RawMessage(`{}`)
		}
		records = append(records, ev)
	}
	return records, rows.Err()
}

// CountByAttempt returns the number of logged events for an attempt.
func (r *EventRepository) CountByAttempt(ctx context.Context, attemptID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_events WHERE attempt_id = $1`, attemptID,
	).Scan(&count)
	return count, err
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// WindowStatus enumerates the derived states of an exam's publish window.
type WindowStatus string

const (
	WindowNotStarted WindowStatus = "not_started"
	WindowStarted    WindowStatus = "started"
	WindowFinished   WindowStatus = "finished"
)

// Exam represents an exam definition. Immutable after publication except for
// StartedAt, which a lecturer sets exactly once to open the window.
type Exam struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	CreatorID        int        `json:"creator_id"`
	DurationMinutes  int        `json:"duration_minutes"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	ResultsPublished bool       `json:"results_published"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Window returns the publish-window status at the given instant. It is a pure
// function of the exam definition and the clock: not_started until the
// lecturer opens the window, started while now is inside
// [StartedAt, StartedAt+Duration], finished after.
func (e *Exam) Window(now time.Time) WindowStatus {
	if e.StartedAt == nil || now.Before(*e.StartedAt) {
		return WindowNotStarted
	}
	end := e.StartedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
	if now.After(end) {
		return WindowFinished
	}
	return WindowStarted
}

// WindowEnd returns the end of the publish window, or nil if not yet opened.
func (e *Exam) WindowEnd() *time.Time {
	if e.StartedAt == nil {
		return nil
	}
	end := e.StartedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
	return &end
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title           string `json:"title" binding:"required,min=3,max=255"`
	DurationMinutes int    `json:"duration_minutes" binding:"required,min=1,max=480"`
}

// PublishResultsRequest toggles student visibility of an exam's results.
// Publish is a pointer so an explicit false unpublishes instead of failing
// required-field validation.
type PublishResultsRequest struct {
	Publish *bool `json:"publish" binding:"required"`
}

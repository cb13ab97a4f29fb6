package model

import (
	"time"

	"github.com/google/uuid"
)

// Attempt represents one student's sanctioned session against an exam.
// At most one non-terminal attempt exists per (exam, student) pair; a second
// start resumes it. FinishedAt is set-once: presence means terminal, and no
// mutation of Answers or the event log is accepted afterwards.
type Attempt struct {
	ID         uuid.UUID  `json:"id"`
	ExamID     uuid.UUID  `json:"exam_id"`
	StudentID  int        `json:"student_id"`
	StartedAt  time.Time  `json:"started_at"`
	Deadline   time.Time  `json:"deadline"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Score      *float64   `json:"score,omitempty"`
	// Answers maps question ID to the selected choice index, kept as strings
	// so a malformed client value degrades to "incorrect" at grading time.
	Answers map[string]string `json:"answers,omitempty"`
	// AgentToken is the per-attempt secret that lets the native agent report
	// integrity events without a login session. Generated once, never reused.
	AgentToken string `json:"-"`
}

// Terminal reports whether the attempt has reached its terminal state.
func (a *Attempt) Terminal() bool {
	return a.FinishedAt != nil
}

// Expired reports whether the attempt's deadline has passed at the given instant.
func (a *Attempt) Expired(now time.Time) bool {
	return now.After(a.Deadline)
}

// SaveAnswersRequest is the payload for autosaving attempt progress.
type SaveAnswersRequest struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

// SubmitRequest is the payload for submitting an attempt.
type SubmitRequest struct {
	Answers map[string]string `json:"answers"`
}

// OverrideScoreRequest is the payload for manually marking an attempt.
// Score is a pointer so an explicit 0 passes required-field validation.
type OverrideScoreRequest struct {
	Score *float64 `json:"score" binding:"required,min=0,max=100"`
}

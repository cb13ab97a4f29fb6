package model

import "github.com/google/uuid"

// Severity is the ordinal suspicion level of an attempt.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordering weight of a severity, lower is more severe.
// Unknown severities sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() <= other.Rank()
}

// Activity is one matched rule in a suspicion verdict.
type Activity struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// SuspicionVerdict is the derived classification of one attempt's event log.
// It is recomputed on demand and never persisted, so it always reflects the
// latest events.
type SuspicionVerdict struct {
	AttemptID     uuid.UUID  `json:"attempt_id"`
	StudentID     int        `json:"student_id"`
	Suspicious    bool       `json:"suspicious"`
	Severity      Severity   `json:"severity"`
	ViolationType string     `json:"violation_type"`
	Description   string     `json:"description"`
	Activities    []Activity `json:"activities"`
}

// AlertStats aggregates verdict counts across one exam.
type AlertStats struct {
	Critical      int `json:"critical"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	TotalStudents int `json:"total_students"`
}

package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
)

// violationTally holds the per-category counters gathered in one scan of an
// attempt's event log.
type violationTally struct {
	FullscreenExit  int
	WindowBlur      int
	WindowHidden    int
	ShortcutBlocked int
	TabSwitch       int
}

// classifierRule is one entry of the ordered severity table. Rules are
// evaluated in fixed order; each may only raise the running severity, and a
// rule with a violation label overwrites the previous label when it matches.
type classifierRule struct {
	count       func(t violationTally) int
	threshold   int
	severity    model.Severity
	violation   string // empty keeps the current label
	kind        string
	activity    string
	description func(n int) string
}

var classifierRules = []classifierRule{
	{
		count:     func(t violationTally) int { return t.FullscreenExit },
		threshold: 1,
		severity:  model.SeverityCritical,
		violation: "Fullscreen Exit Detected",
		kind:      "FULLSCREEN_EXIT",
		activity:  "Exited fullscreen or closed the exam window",
		description: func(n int) string {
			return fmt.Sprintf("Student exited fullscreen mode %d time(s), indicating possible exam window closure or switching to other applications.", n)
		},
	},
	{
		count:     func(t violationTally) int { return t.ShortcutBlocked },
		threshold: 1,
		severity:  model.SeverityHigh,
		violation: "Screenshot/Cheating Shortcuts Detected",
		kind:      "SCREENSHOT_ATTEMPT",
		activity:  "Tried to capture screen or use cheating shortcuts",
		description: func(n int) string {
			return fmt.Sprintf("Attempted to use screenshot or cheating shortcuts %d time(s) (Windows key, Print Screen, Win+Shift+S, etc.).", n)
		},
	},
	{
		count:     func(t violationTally) int { return t.TabSwitch },
		threshold: 3,
		severity:  model.SeverityMedium,
		violation: "Tab Switching Detected",
		kind:      "TAB_SWITCH",
		activity:  "Switched to other windows/applications",
		description: func(n int) string {
			return fmt.Sprintf("Switched between windows/tabs %d times using Alt+Tab or similar actions.", n)
		},
	},
	{
		count:     func(t violationTally) int { return t.WindowBlur },
		threshold: 5,
		severity:  model.SeverityMedium,
		kind:      "WINDOW_BLUR",
		activity:  "Lost focus on exam window",
	},
	{
		count:     func(t violationTally) int { return t.WindowHidden },
		threshold: 3,
		severity:  model.SeverityMedium,
		kind:      "WINDOW_HIDDEN",
		activity:  "Exam window was hidden or minimized",
	},
}

// Classify derives a suspicion verdict from one attempt's event log snapshot.
// It is pure: same records, same verdict.
func Classify(records []model.EventRecord) model.SuspicionVerdict {
	tally := tallyViolations(records)

	verdict := model.SuspicionVerdict{
		Severity:      model.SeverityLow,
		ViolationType: "Normal Activity",
		Description:   "No suspicious activity detected.",
		Activities:    []model.Activity{},
	}

	for _, rule := range classifierRules {
		n := rule.count(tally)
		if n < rule.threshold {
			continue
		}

		verdict.Suspicious = true
		// A rule only ever raises the running severity, never lowers it.
		if rule.severity.Rank() < verdict.Severity.Rank() {
			verdict.Severity = rule.severity
		}
		if rule.violation != "" {
			verdict.ViolationType = rule.violation
			verdict.Description = rule.description(n)
		}
		verdict.Activities = append(verdict.Activities, model.Activity{
			Kind:        rule.kind,
			Description: rule.activity,
			Count:       n,
		})
	}

	return verdict
}

// tallyViolations scans the log once, counting the five violation categories,
// then scans adjacent pairs for a blur-immediately-followed-by-focus pattern
// counted as one tab switch.
func tallyViolations(records []model.EventRecord) violationTally {
	var t violationTally

	for _, rec := range records {
		kind := strings.ToLower(rec.Kind)
		if strings.Contains(kind, "fullscreen") &&
			(strings.Contains(kind, "exit") || strings.Contains(kind, "change")) {
			t.FullscreenExit++
		}
		if strings.Contains(kind, "blur") {
			t.WindowBlur++
		}
		if strings.Contains(kind, "hidden") {
			t.WindowHidden++
		}
		if strings.Contains(kind, "shortcut") && strings.Contains(kind, "blocked") {
			t.ShortcutBlocked++
		}
	}

	for i := 0; i+1 < len(records); i++ {
		curr := strings.ToLower(records[i].Kind)
		next := strings.ToLower(records[i+1].Kind)
		if strings.Contains(curr, "blur") && strings.Contains(next, "focus") {
			t.TabSwitch++
		}
	}

	return t
}

// ClassifierService computes suspicion verdicts over stored event logs.
type ClassifierService struct {
	attempts AttemptStore
	events   EventStore
	log      zerolog.Logger
}

// NewClassifierService creates a new ClassifierService.
func NewClassifierService(attempts AttemptStore, events EventStore, log zerolog.Logger) *ClassifierService {
	return &ClassifierService{
		attempts: attempts,
		events:   events,
		log:      log.With().Str("component", "classifier_service").Logger(),
	}
}

// ClassifyAttempt derives the verdict for one attempt from its current log.
func (s *ClassifierService) ClassifyAttempt(ctx context.Context, attemptID uuid.UUID) (*model.SuspicionVerdict, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	verdict := Classify(s.snapshotOrEmpty(ctx, attemptID))
	verdict.AttemptID = attempt.ID
	verdict.StudentID = attempt.StudentID
	return &verdict, nil
}

// ExamAlerts classifies every attempt of an exam, returning the suspicious
// ones sorted CRITICAL→LOW plus aggregate counts.
func (s *ClassifierService) ExamAlerts(ctx context.Context, examID uuid.UUID) ([]model.SuspicionVerdict, *model.AlertStats, error) {
	attempts, err := s.attempts.ListByExam(ctx, examID)
	if err != nil {
		return nil, nil, fmt.Errorf("list attempts: %w", err)
	}

	var alerts []model.SuspicionVerdict
	for _, a := range attempts {
		verdict := Classify(s.snapshotOrEmpty(ctx, a.ID))
		if !verdict.Suspicious {
			continue
		}
		verdict.AttemptID = a.ID
		verdict.StudentID = a.StudentID
		alerts = append(alerts, verdict)
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.Rank() < alerts[j].Severity.Rank()
	})

	stats := &model.AlertStats{TotalStudents: len(attempts)}
	for _, a := range alerts {
		switch a.Severity {
		case model.SeverityCritical:
			stats.Critical++
		case model.SeverityHigh:
			stats.High++
		case model.SeverityMedium:
			stats.Medium++
		}
	}
	return alerts, stats, nil
}

// snapshotOrEmpty degrades an unreadable log to an empty sequence, so
// alerting stays available even over corrupt historical data.
func (s *ClassifierService) snapshotOrEmpty(ctx context.Context, attemptID uuid.UUID) []model.EventRecord {
	records, err := s.events.Snapshot(ctx, attemptID)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Event snapshot failed, classifying empty log")
		return nil
	}
	return records
}

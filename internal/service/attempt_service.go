package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
)

// agentTokenBytes sizes the per-attempt agent credential.
const agentTokenBytes = 18

// Event kinds that force-finish the attempt when reported from the browser.
var forceFinishKinds = map[string]struct{}{
	model.EventFullscreenExit: {},
	model.EventForcedExit:     {},
}

// ClientMeta carries network metadata of the reporting client into the event log.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// ReportResult tells the reporter whether its event ended the attempt.
type ReportResult struct {
	Finished bool   `json:"finished"`
	Reason   string `json:"reason,omitempty"`
}

// AttemptService owns the attempt lifecycle: the Unstarted→Running→Terminal
// state machine, deadline semantics, the event log guard, and grading.
// Mutations to one attempt are serialized through a keyed mutex; the storage
// layer additionally guards the terminal flip with finished_at IS NULL, so a
// second finalize with any trigger is a silent no-op.
type AttemptService struct {
	attempts  AttemptStore
	events    EventStore
	exams     ExamStore
	questions QuestionStore
	broadcast Broadcaster
	locks     keyedMutex
	log       zerolog.Logger
	now       func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts AttemptStore,
	events EventStore,
	exams ExamStore,
	questions QuestionStore,
	broadcast Broadcaster,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts:  attempts,
		events:    events,
		exams:     exams,
		questions: questions,
		broadcast: broadcast,
		log:       log.With().Str("component", "attempt_service").Logger(),
		now:       time.Now,
	}
}

// ─── Start / resume ─────────────────────────────────────────────────

// Start opens a session for the student against the exam. If a non-terminal
// attempt already exists it is resumed unchanged; a terminal one rejects with
// ErrAlreadySubmitted. A fresh attempt requires the publish window to be open
// and stamps started_at, deadline and a new agent token.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	existing, err := s.attempts.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}
	if existing != nil {
		if err := s.finalizeIfExpired(ctx, existing); err != nil {
			return nil, err
		}
		if existing.Terminal() {
			return nil, ErrAlreadySubmitted
		}
		return existing, nil
	}

	now := s.now()
	switch exam.Window(now) {
	case model.WindowNotStarted:
		return nil, ErrWindowNotOpen
	case model.WindowFinished:
		return nil, ErrWindowClosed
	}

	token, err := newAgentToken()
	if err != nil {
		return nil, fmt.Errorf("generate agent token: %w", err)
	}

	attempt := &model.Attempt{
		ExamID:     examID,
		StudentID:  studentID,
		StartedAt:  now,
		Deadline:   now.Add(time.Duration(exam.DurationMinutes) * time.Minute),
		Answers:    make(map[string]string),
		AgentToken: token,
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		// Concurrent start for the same pair lost the insert race; the unique
		// constraint guarantees at most one attempt, so resume the winner.
		winner, fetchErr := s.attempts.GetByExamAndStudent(ctx, examID, studentID)
		if fetchErr != nil {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
		return winner, nil
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Time("deadline", attempt.Deadline).
		Msg("Attempt started")

	return attempt, nil
}

// ─── Progress ───────────────────────────────────────────────────────

// SaveProgress replaces the saved answers of a running attempt.
func (s *AttemptService) SaveProgress(ctx context.Context, attemptID uuid.UUID, studentID int, answers map[string]string) error {
	mu := s.locks.of(attemptID)
	mu.Lock()
	defer mu.Unlock()

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return ErrNotOwner
	}
	if err := s.finalizeIfExpired(ctx, attempt); err != nil {
		return err
	}
	if attempt.Terminal() {
		return ErrAttemptFinished
	}

	ok, err := s.attempts.UpdateAnswers(ctx, attemptID, answers)
	if err != nil {
		return fmt.Errorf("save answers: %w", err)
	}
	if !ok {
		return ErrAttemptFinished
	}
	return nil
}

// ─── Integrity events ───────────────────────────────────────────────

// ReportEvent appends a browser-origin integrity event after a fresh
// ownership check. Certain kinds (fullscreen exit, forced exit) force-finish
// the attempt after the append.
func (s *AttemptService) ReportEvent(ctx context.Context, attemptID uuid.UUID, studentID int, kind string, payload json.RawMessage, meta ClientMeta) (*ReportResult, error) {
	mu := s.locks.of(attemptID)
	mu.Lock()
	defer mu.Unlock()

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrNotOwner
	}
	if err := s.finalizeIfExpired(ctx, attempt); err != nil {
		return nil, err
	}
	if attempt.Terminal() {
		return nil, ErrAttemptFinished
	}

	if err := s.appendAndPublish(ctx, attempt, kind, payload, model.OriginBrowser, meta); err != nil {
		return nil, err
	}

	if _, forced := forceFinishKinds[kind]; forced {
		if err := s.finalizeNow(ctx, attempt); err != nil {
			return nil, err
		}
		return &ReportResult{Finished: true, Reason: "attempt finalized by anti-cheat trigger"}, nil
	}

	return &ReportResult{}, nil
}

// ReportAgentEvent appends an agent-origin integrity event. The caller is
// unauthenticated; the attempt-scoped token is the only credential and is
// compared fresh on every call.
func (s *AttemptService) ReportAgentEvent(ctx context.Context, req *model.AgentReportRequest, meta ClientMeta) error {
	mu := s.locks.of(req.AttemptID)
	mu.Lock()
	defer mu.Unlock()

	attempt, err := s.attempts.GetByID(ctx, req.AttemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidAgentToken
		}
		return fmt.Errorf("get attempt: %w", err)
	}
	if attempt.AgentToken == "" ||
		subtle.ConstantTimeCompare([]byte(attempt.AgentToken), []byte(req.Token)) != 1 {
		return ErrInvalidAgentToken
	}
	if err := s.finalizeIfExpired(ctx, attempt); err != nil {
		return err
	}
	if attempt.Terminal() {
		return ErrAttemptFinished
	}

	return s.appendAndPublish(ctx, attempt, req.Kind, req.Payload, model.OriginAgent, meta)
}

// appendAndPublish writes one event record and fans it out to live monitors.
// The append is the durable part; broadcast faults are the hub's problem and
// never fail the mutation.
func (s *AttemptService) appendAndPublish(ctx context.Context, attempt *model.Attempt, kind string, payload json.RawMessage, origin model.EventOrigin, meta ClientMeta) error {
	rec := &model.EventRecord{
		AttemptID: attempt.ID,
		Kind:      kind,
		Payload:   payload,
		Origin:    origin,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := s.events.Append(ctx, rec); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	s.broadcast.BroadcastEvent(attempt.ID, rec)
	return nil
}

// Events returns the ordered event log snapshot of one attempt.
func (s *AttemptService) Events(ctx context.Context, attemptID uuid.UUID) ([]model.EventRecord, error) {
	return s.events.Snapshot(ctx, attemptID)
}

// ─── Finalize triggers ──────────────────────────────────────────────

// Submit finalizes the attempt with the provided answers. A submission
// arriving after the deadline is timestamped at the deadline, not at arrival.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int, answers map[string]string) (*model.Attempt, error) {
	mu := s.locks.of(attemptID)
	mu.Lock()
	defer mu.Unlock()

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrNotOwner
	}
	if attempt.Terminal() {
		return nil, ErrAlreadySubmitted
	}

	if answers != nil {
		if ok, err := s.attempts.UpdateAnswers(ctx, attemptID, answers); err != nil {
			return nil, fmt.Errorf("store answers: %w", err)
		} else if ok {
			attempt.Answers = answers
		}
	}

	finishedAt := s.now()
	if finishedAt.After(attempt.Deadline) {
		finishedAt = attempt.Deadline // Clamp: late work is never credited past the deadline.
	}
	if err := s.finalizeAt(ctx, attempt, finishedAt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// ForceFinish ends a running attempt immediately, grading whatever answers
// were last saved. Finishing an already-terminal attempt is a no-op.
func (s *AttemptService) ForceFinish(ctx context.Context, attemptID uuid.UUID, studentID int) error {
	mu := s.locks.of(attemptID)
	mu.Lock()
	defer mu.Unlock()

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return ErrNotOwner
	}
	if attempt.Terminal() {
		return nil
	}
	return s.finalizeNow(ctx, attempt)
}

// Terminate force-finishes a running attempt by proctor action. The score is
// forced to 0 regardless of answers, and the synthetic termination record is
// appended to the event log before the terminal flag takes effect.
func (s *AttemptService) Terminate(ctx context.Context, attemptID uuid.UUID, actor *model.User) error {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}

	if err := s.authorizeProctor(ctx, actor, attempt.ExamID); err != nil {
		return err
	}

	mu := s.locks.of(attemptID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: a concurrent finalize may have won.
	attempt, err = s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Terminal() {
		return ErrAttemptFinished
	}

	payload, _ := json.Marshal(map[string]string{
		"terminated_by":      actor.Username,
		"terminated_by_role": string(actor.Role),
		"reason":             "Suspicious activity detected",
	})
	if err := s.appendAndPublish(ctx, attempt, model.EventTerminatedByStaff, payload, model.OriginSystem, ClientMeta{}); err != nil {
		return err
	}

	ok, err := s.attempts.Finalize(ctx, attemptID, s.now(), 0)
	if err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	if ok {
		s.broadcast.BroadcastTermination(attemptID, "Your exam has been terminated due to suspicious activity.")
		s.log.Info().
			Str("attempt_id", attemptID.String()).
			Str("terminated_by", actor.Username).
			Msg("Attempt terminated by staff")
	}
	return nil
}

// authorizeProctor allows staff and admin unconditionally, and lecturers only
// for exams they created. Resolved fresh per call, never cached.
func (s *AttemptService) authorizeProctor(ctx context.Context, actor *model.User, examID uuid.UUID) error {
	switch actor.Role {
	case model.RoleStaff, model.RoleAdmin:
		return nil
	case model.RoleLecturer:
		exam, err := s.exams.GetByID(ctx, examID)
		if err != nil {
			return fmt.Errorf("get exam: %w", err)
		}
		if exam.CreatorID != actor.ID {
			return ErrNotAuthorized
		}
		return nil
	default:
		return ErrNotAuthorized
	}
}

// OverrideScore manually marks an attempt with the given score. Only the exam
// creator or an admin may mark; staff can proctor but never grade. Marking a
// running attempt finishes it at the override instant. Marking a finished
// attempt replaces the score and leaves finished_at untouched.
func (s *AttemptService) OverrideScore(ctx context.Context, attemptID uuid.UUID, actor *model.User, score float64) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	if err := s.authorizeMark(ctx, actor, attempt.ExamID); err != nil {
		return nil, err
	}

	mu := s.locks.of(attemptID)
	mu.Lock()
	defer mu.Unlock()

	finished, err := s.attempts.Finalize(ctx, attemptID, s.now(), score)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	if !finished {
		if _, err := s.attempts.UpdateScore(ctx, attemptID, score); err != nil {
			return nil, fmt.Errorf("update score: %w", err)
		}
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Float64("score", score).
		Str("marked_by", actor.Username).
		Bool("finished_now", finished).
		Msg("Attempt score overridden")
	return s.attempts.GetByID(ctx, attemptID)
}

// authorizeMark restricts manual grading to the exam creator and admins.
func (s *AttemptService) authorizeMark(ctx context.Context, actor *model.User, examID uuid.UUID) error {
	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleLecturer:
		exam, err := s.exams.GetByID(ctx, examID)
		if err != nil {
			return fmt.Errorf("get exam: %w", err)
		}
		if exam.CreatorID != actor.ID {
			return ErrNotAuthorized
		}
		return nil
	default:
		return ErrNotAuthorized
	}
}

// ─── Lazy finalization and reads ────────────────────────────────────

// GetAttempt returns one attempt, finalizing it first if its deadline passed.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if err := s.finalizeIfExpired(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// ResultView is an attempt's graded outcome as shown to its student.
type ResultView struct {
	Attempt    *model.Attempt `json:"attempt"`
	Score      *float64       `json:"score"`
	Terminated bool           `json:"terminated"`
}

// StudentResults returns the graded outcome of the student's own attempt.
// The attempt must be terminal, and the exam's results must have been
// published by staff; until then the score stays hidden.
func (s *AttemptService) StudentResults(ctx context.Context, attemptID uuid.UUID, studentID int) (*ResultView, error) {
	attempt, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, ErrNotOwner
	}
	if !attempt.Terminal() {
		return nil, ErrAttemptRunning
	}

	exam, err := s.exams.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !exam.ResultsPublished {
		return nil, ErrResultsNotReady
	}

	events, err := s.events.Snapshot(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("snapshot events: %w", err)
	}
	terminated := false
	for _, ev := range events {
		if ev.Kind == model.EventTerminatedByStaff {
			terminated = true
			break
		}
	}

	return &ResultView{Attempt: attempt, Score: attempt.Score, Terminated: terminated}, nil
}

// ListExamAttempts returns every attempt of an exam, finalizing expired ones
// first so no attempt is observed running past its deadline.
func (s *AttemptService) ListExamAttempts(ctx context.Context, examID uuid.UUID) ([]*model.Attempt, error) {
	attempts, err := s.attempts.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	for _, a := range attempts {
		if err := s.finalizeIfExpired(ctx, a); err != nil {
			return nil, err
		}
	}
	return attempts, nil
}

// ListStudentAttempts returns a student's attempts with lazy finalization.
func (s *AttemptService) ListStudentAttempts(ctx context.Context, studentID int) ([]*model.Attempt, error) {
	attempts, err := s.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	for _, a := range attempts {
		if err := s.finalizeIfExpired(ctx, a); err != nil {
			return nil, err
		}
	}
	return attempts, nil
}

// FinalizeExpired finalizes every attempt running past its deadline. Called
// periodically by the deadline sweeper; the lazy read paths make the same
// transition, so racing is harmless.
func (s *AttemptService) FinalizeExpired(ctx context.Context) (int, error) {
	expired, err := s.attempts.ListExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list expired attempts: %w", err)
	}
	finalized := 0
	for _, a := range expired {
		wasTerminal := a.Terminal()
		if err := s.finalizeIfExpired(ctx, a); err != nil {
			s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Sweep finalize failed")
			continue
		}
		if !wasTerminal && a.Terminal() {
			finalized++
		}
	}
	return finalized, nil
}

// finalizeIfExpired applies the lazy deadline trigger: a non-terminal attempt
// past its deadline is finalized with finished_at = deadline and graded from
// whatever answers were last saved. Nothing ends an attempt earlier.
func (s *AttemptService) finalizeIfExpired(ctx context.Context, attempt *model.Attempt) error {
	if attempt.Terminal() || !attempt.Expired(s.now()) {
		return nil
	}
	return s.finalizeAt(ctx, attempt, attempt.Deadline)
}

// finalizeNow applies the force-finish trigger: finished_at = now, not
// clamped to the deadline.
func (s *AttemptService) finalizeNow(ctx context.Context, attempt *model.Attempt) error {
	return s.finalizeAt(ctx, attempt, s.now())
}

// finalizeAt grades the attempt and flips it terminal. Idempotent: if another
// trigger already finalized it, the store rejects the flip and the in-memory
// copy is refreshed instead.
func (s *AttemptService) finalizeAt(ctx context.Context, attempt *model.Attempt, finishedAt time.Time) error {
	questions, err := s.questions.ListByExam(ctx, attempt.ExamID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	score := Grade(attempt.Answers, questions)

	ok, err := s.attempts.Finalize(ctx, attempt.ID, finishedAt, score)
	if err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	if ok {
		attempt.FinishedAt = &finishedAt
		attempt.Score = &score
		s.log.Info().
			Str("attempt_id", attempt.ID.String()).
			Time("finished_at", finishedAt).
			Float64("score", score).
			Msg("Attempt finalized")
		return nil
	}

	// Lost the race against another trigger; reload the terminal state.
	fresh, err := s.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return fmt.Errorf("reload attempt: %w", err)
	}
	*attempt = *fresh
	return nil
}

// ─── Grading ────────────────────────────────────────────────────────

// Grade scores saved answers against an exam's questions: 100 * correct /
// total, 0 for an exam with no questions. An absent or unparseable answer
// counts as incorrect, never as an error.
func Grade(answers map[string]string, questions []model.Question) float64 {
	if len(questions) == 0 {
		return 0
	}
	correct := 0
	for _, q := range questions {
		raw, ok := answers[q.ID.String()]
		if !ok {
			continue
		}
		chosen, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		if chosen == q.CorrectIndex {
			correct++
		}
	}
	return float64(correct) / float64(len(questions)) * 100
}

// newAgentToken returns a fresh unguessable attempt-scoped credential.
func newAgentToken() (string, error) {
	buf := make([]byte, agentTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

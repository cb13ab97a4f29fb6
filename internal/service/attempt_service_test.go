package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture wires an AttemptService to in-memory stores with a controllable clock.
type fixture struct {
	attempts  *memAttemptStore
	events    *memEventStore
	exams     *memExamStore
	questions *memQuestionStore
	bcast     *recordBroadcaster
	svc       *AttemptService
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		attempts:  newMemAttemptStore(),
		events:    newMemEventStore(),
		exams:     newMemExamStore(),
		questions: newMemQuestionStore(),
		bcast:     &recordBroadcaster{},
		clock:     time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewAttemptService(f.attempts, f.events, f.exams, f.questions, f.bcast, zerolog.Nop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// openExam creates an exam whose window opened at the current clock.
func (f *fixture) openExam(t *testing.T, creatorID, durationMinutes int) *model.Exam {
	t.Helper()
	opened := f.clock
	exam := &model.Exam{
		Title:           "Networks Midterm",
		CreatorID:       creatorID,
		DurationMinutes: durationMinutes,
		StartedAt:       &opened,
	}
	require.NoError(t, f.exams.Create(context.Background(), exam))
	return exam
}

// addQuestion appends a question with the given correct choice index.
func (f *fixture) addQuestion(t *testing.T, examID uuid.UUID, correct, order int) *model.Question {
	t.Helper()
	q := &model.Question{
		ExamID:       examID,
		Text:         "q" + strconv.Itoa(order),
		CorrectIndex: correct,
		OrderNum:     order,
	}
	require.NoError(t, f.questions.Create(context.Background(), q))
	return q
}

// ─── Start / resume ─────────────────────────────────────────────────

func TestStartCreatesAttemptWithDeadlineAndToken(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)

	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	assert.Equal(t, f.clock, attempt.StartedAt)
	assert.Equal(t, f.clock.Add(60*time.Minute), attempt.Deadline)
	assert.NotEmpty(t, attempt.AgentToken)
	assert.False(t, attempt.Terminal())
}

func TestStartResumesExistingAttempt(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)

	first, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	second, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Deadline, second.Deadline, "resume never extends the deadline")
	assert.Equal(t, first.AgentToken, second.AgentToken, "resume never rotates the agent token")
}

func TestStartRejectsWhenWindowNotOpen(t *testing.T) {
	f := newFixture(t)
	exam := &model.Exam{Title: "Unopened", CreatorID: 1, DurationMinutes: 60}
	require.NoError(t, f.exams.Create(context.Background(), exam))

	_, err := f.svc.Start(context.Background(), exam.ID, 42)
	assert.ErrorIs(t, err, ErrWindowNotOpen)
}

func TestStartRejectsWhenWindowClosed(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)

	f.advance(61 * time.Minute)
	_, err := f.svc.Start(context.Background(), exam.ID, 42)
	assert.ErrorIs(t, err, ErrWindowClosed)
}

func TestStartRejectsAfterTerminalAttempt(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)

	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), attempt.ID, 42, nil)
	require.NoError(t, err)

	_, err = f.svc.Start(context.Background(), exam.ID, 42)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

// ─── Progress / events ──────────────────────────────────────────────

func TestSaveProgressOwnershipAndTerminalGuard(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	err = f.svc.SaveProgress(context.Background(), attempt.ID, 99, map[string]string{"x": "0"})
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, f.svc.SaveProgress(context.Background(), attempt.ID, 42, map[string]string{"x": "0"}))

	_, err = f.svc.Submit(context.Background(), attempt.ID, 42, nil)
	require.NoError(t, err)

	err = f.svc.SaveProgress(context.Background(), attempt.ID, 42, map[string]string{"x": "1"})
	assert.ErrorIs(t, err, ErrAttemptFinished)
}

func TestReportEventAppendsAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	result, err := f.svc.ReportEvent(context.Background(), attempt.ID, 42, model.EventWindowBlur, nil, ClientMeta{IP: "10.0.0.1", UserAgent: "firefox"})
	require.NoError(t, err)
	assert.False(t, result.Finished)

	events, err := f.svc.Events(context.Background(), attempt.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventWindowBlur, events[0].Kind)
	assert.Equal(t, model.OriginBrowser, events[0].Origin)
	assert.Equal(t, "10.0.0.1", events[0].IP)

	require.Len(t, f.bcast.events, 1)
}

func TestReportEventForceFinishKinds(t *testing.T) {
	for _, kind := range []string{model.EventFullscreenExit, model.EventForcedExit} {
		t.Run(kind, func(t *testing.T) {
			f := newFixture(t)
			exam := f.openExam(t, 1, 60)
			attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
			require.NoError(t, err)

			f.advance(5 * time.Minute)
			result, err := f.svc.ReportEvent(context.Background(), attempt.ID, 42, kind, nil, ClientMeta{})
			require.NoError(t, err)
			assert.True(t, result.Finished)

			stored, err := f.svc.GetAttempt(context.Background(), attempt.ID)
			require.NoError(t, err)
			require.True(t, stored.Terminal())
			// Force-finish stamps the actual instant, not the deadline.
			assert.Equal(t, f.clock, *stored.FinishedAt)
		})
	}
}

func TestReportEventRejectedOnTerminalAttempt(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), attempt.ID, 42, nil)
	require.NoError(t, err)

	_, err = f.svc.ReportEvent(context.Background(), attempt.ID, 42, model.EventWindowBlur, nil, ClientMeta{})
	assert.ErrorIs(t, err, ErrAttemptFinished)

	events, err := f.svc.Events(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Empty(t, events, "no event is appended after the terminal flip")
}

// ─── Agent reports ──────────────────────────────────────────────────

func TestReportAgentEvent(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	t.Run("valid token appends agent-origin record", func(t *testing.T) {
		err := f.svc.ReportAgentEvent(context.Background(), &model.AgentReportRequest{
			AttemptID: attempt.ID,
			Token:     attempt.AgentToken,
			Kind:      "process_scan",
		}, ClientMeta{})
		require.NoError(t, err)

		events, err := f.svc.Events(context.Background(), attempt.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.OriginAgent, events[0].Origin)
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		err := f.svc.ReportAgentEvent(context.Background(), &model.AgentReportRequest{
			AttemptID: attempt.ID,
			Token:     "stale-or-forged",
			Kind:      "process_scan",
		}, ClientMeta{})
		assert.ErrorIs(t, err, ErrInvalidAgentToken)
	})

	t.Run("unknown attempt rejected identically", func(t *testing.T) {
		err := f.svc.ReportAgentEvent(context.Background(), &model.AgentReportRequest{
			AttemptID: uuid.New(),
			Token:     attempt.AgentToken,
			Kind:      "process_scan",
		}, ClientMeta{})
		assert.ErrorIs(t, err, ErrInvalidAgentToken)
	})
}

// ─── Submit and the clamp ───────────────────────────────────────────

func TestSubmitGradesAnswers(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	q1 := f.addQuestion(t, exam.ID, 2, 1)
	q2 := f.addQuestion(t, exam.ID, 0, 2)

	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	f.advance(20 * time.Minute)
	submitted, err := f.svc.Submit(context.Background(), attempt.ID, 42, map[string]string{
		q1.ID.String(): "2",
		q2.ID.String(): "1",
	})
	require.NoError(t, err)

	require.NotNil(t, submitted.Score)
	assert.Equal(t, 50.0, *submitted.Score)
	assert.Equal(t, f.clock, *submitted.FinishedAt)
}

func TestSubmitAfterDeadlineClampsFinishedAt(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)
	deadline := attempt.Deadline

	f.advance(75 * time.Minute)
	submitted, err := f.svc.Submit(context.Background(), attempt.ID, 42, nil)
	require.NoError(t, err)

	require.NotNil(t, submitted.FinishedAt)
	assert.Equal(t, deadline, *submitted.FinishedAt, "late submission is recorded at the deadline")
}

func TestSubmitTwiceRejected(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), attempt.ID, 42, nil)
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), attempt.ID, 42, nil)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

// One-minute exam: submission at T+1min lands exactly on the deadline.
func TestOneMinuteExamBoundary(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 1)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	f.advance(time.Minute)
	submitted, err := f.svc.Submit(context.Background(), attempt.ID, 42, nil)
	require.NoError(t, err)
	assert.Equal(t, attempt.Deadline, *submitted.FinishedAt)
}

// ─── Lazy finalization ──────────────────────────────────────────────

func TestGetAttemptFinalizesExpired(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	q := f.addQuestion(t, exam.ID, 1, 1)

	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)
	require.NoError(t, f.svc.SaveProgress(context.Background(), attempt.ID, 42, map[string]string{q.ID.String(): "1"}))

	f.advance(2 * time.Hour)
	read, err := f.svc.GetAttempt(context.Background(), attempt.ID)
	require.NoError(t, err)

	require.True(t, read.Terminal())
	assert.Equal(t, attempt.Deadline, *read.FinishedAt, "deadline finalization stamps the deadline, not the read instant")
	require.NotNil(t, read.Score)
	assert.Equal(t, 100.0, *read.Score, "last saved answers are graded")
}

func TestListExamAttemptsFinalizesExpired(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	_, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	attempts, err := f.svc.ListExamAttempts(context.Background(), exam.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Terminal())
}

func TestFinalizeExpiredSweep(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	a1, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), exam.ID, 43)
	require.NoError(t, err)

	// One is already submitted before the deadline.
	_, err = f.svc.Submit(context.Background(), a1.ID, 42, nil)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	n, err := f.svc.FinalizeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A second sweep finds nothing left.
	n, err = f.svc.FinalizeExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Set-once: whichever trigger fires first wins; later triggers are no-ops.
func TestFinalizeIsSetOnce(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 1, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	submitted, err := f.svc.Submit(context.Background(), attempt.ID, 42, nil)
	require.NoError(t, err)
	firstFinish := *submitted.FinishedAt

	f.advance(10 * time.Minute)
	require.NoError(t, f.svc.ForceFinish(context.Background(), attempt.ID, 42))

	read, err := f.svc.GetAttempt(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, firstFinish, *read.FinishedAt)
}

// ─── Termination ────────────────────────────────────────────────────

func TestTerminateZeroesScoreAndLogsRecordFirst(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 7, 60)
	q := f.addQuestion(t, exam.ID, 1, 1)

	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)
	require.NoError(t, f.svc.SaveProgress(context.Background(), attempt.ID, 42, map[string]string{q.ID.String(): "1"}))

	staff := &model.User{ID: 9, Username: "proctor", Role: model.RoleStaff}
	require.NoError(t, f.svc.Terminate(context.Background(), attempt.ID, staff))

	read, err := f.svc.GetAttempt(context.Background(), attempt.ID)
	require.NoError(t, err)
	require.True(t, read.Terminal())
	assert.Zero(t, *read.Score, "termination overrides correct answers with score 0")

	events, err := f.svc.Events(context.Background(), attempt.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventTerminatedByStaff, events[0].Kind)
	assert.Equal(t, model.OriginSystem, events[0].Origin)

	require.Len(t, f.bcast.terminations, 1)
	assert.Equal(t, attempt.ID, f.bcast.terminations[0])
}

func TestTerminateAuthorization(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 7, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	t.Run("lecturer of another exam denied", func(t *testing.T) {
		other := &model.User{ID: 8, Username: "other", Role: model.RoleLecturer}
		err := f.svc.Terminate(context.Background(), attempt.ID, other)
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("student denied", func(t *testing.T) {
		student := &model.User{ID: 42, Username: "student", Role: model.RoleStudent}
		err := f.svc.Terminate(context.Background(), attempt.ID, student)
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("owning lecturer allowed", func(t *testing.T) {
		owner := &model.User{ID: 7, Username: "lect", Role: model.RoleLecturer}
		require.NoError(t, f.svc.Terminate(context.Background(), attempt.ID, owner))
	})

	t.Run("terminating a terminal attempt conflicts", func(t *testing.T) {
		staff := &model.User{ID: 9, Username: "proctor", Role: model.RoleStaff}
		err := f.svc.Terminate(context.Background(), attempt.ID, staff)
		assert.ErrorIs(t, err, ErrAttemptFinished)
	})
}

// ─── Manual marking ─────────────────────────────────────────────────

func TestOverrideScoreFinishesRunningAttempt(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 7, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	owner := &model.User{ID: 7, Username: "lect", Role: model.RoleLecturer}
	f.advance(10 * time.Minute)
	marked, err := f.svc.OverrideScore(context.Background(), attempt.ID, owner, 85)
	require.NoError(t, err)

	require.True(t, marked.Terminal())
	assert.Equal(t, 85.0, *marked.Score)
	assert.Equal(t, f.clock, *marked.FinishedAt, "marking a running attempt finishes it at that instant")
}

func TestOverrideScoreOnFinishedAttemptKeepsFinishedAt(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 7, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	f.advance(5 * time.Minute)
	submitted, err := f.svc.Submit(context.Background(), attempt.ID, 42, nil)
	require.NoError(t, err)
	finishedAt := *submitted.FinishedAt

	owner := &model.User{ID: 7, Username: "lect", Role: model.RoleLecturer}
	f.advance(30 * time.Minute)
	marked, err := f.svc.OverrideScore(context.Background(), attempt.ID, owner, 60)
	require.NoError(t, err)

	assert.Equal(t, 60.0, *marked.Score)
	assert.Equal(t, finishedAt, *marked.FinishedAt, "manual marking never moves the terminal flip")
}

func TestOverrideScoreAuthorization(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 7, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	t.Run("staff denied", func(t *testing.T) {
		staff := &model.User{ID: 9, Username: "proctor", Role: model.RoleStaff}
		_, err := f.svc.OverrideScore(context.Background(), attempt.ID, staff, 50)
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("lecturer of another exam denied", func(t *testing.T) {
		other := &model.User{ID: 8, Username: "other", Role: model.RoleLecturer}
		_, err := f.svc.OverrideScore(context.Background(), attempt.ID, other, 50)
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("admin allowed", func(t *testing.T) {
		admin := &model.User{ID: 1, Username: "admin", Role: model.RoleAdmin}
		marked, err := f.svc.OverrideScore(context.Background(), attempt.ID, admin, 50)
		require.NoError(t, err)
		assert.Equal(t, 50.0, *marked.Score)
	})
}

// ─── Student results ────────────────────────────────────────────────

func TestStudentResultsGatedByPublication(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 7, 60)
	q := f.addQuestion(t, exam.ID, 1, 1)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	t.Run("running attempt has no results", func(t *testing.T) {
		_, err := f.svc.StudentResults(context.Background(), attempt.ID, 42)
		assert.ErrorIs(t, err, ErrAttemptRunning)
	})

	_, err = f.svc.Submit(context.Background(), attempt.ID, 42, map[string]string{q.ID.String(): "1"})
	require.NoError(t, err)

	t.Run("hidden until staff publishes", func(t *testing.T) {
		_, err := f.svc.StudentResults(context.Background(), attempt.ID, 42)
		assert.ErrorIs(t, err, ErrResultsNotReady)
	})

	_, err = f.exams.SetResultsPublished(context.Background(), exam.ID, true)
	require.NoError(t, err)

	t.Run("another student never sees them", func(t *testing.T) {
		_, err := f.svc.StudentResults(context.Background(), attempt.ID, 43)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("owner sees score once published", func(t *testing.T) {
		view, err := f.svc.StudentResults(context.Background(), attempt.ID, 42)
		require.NoError(t, err)
		assert.Equal(t, 100.0, *view.Score)
		assert.False(t, view.Terminated)
	})

	t.Run("unpublishing hides them again", func(t *testing.T) {
		_, err := f.exams.SetResultsPublished(context.Background(), exam.ID, false)
		require.NoError(t, err)
		_, err = f.svc.StudentResults(context.Background(), attempt.ID, 42)
		assert.ErrorIs(t, err, ErrResultsNotReady)
	})
}

func TestStudentResultsFlagsTermination(t *testing.T) {
	f := newFixture(t)
	exam := f.openExam(t, 7, 60)
	attempt, err := f.svc.Start(context.Background(), exam.ID, 42)
	require.NoError(t, err)

	staff := &model.User{ID: 9, Username: "proctor", Role: model.RoleStaff}
	require.NoError(t, f.svc.Terminate(context.Background(), attempt.ID, staff))
	_, err = f.exams.SetResultsPublished(context.Background(), exam.ID, true)
	require.NoError(t, err)

	view, err := f.svc.StudentResults(context.Background(), attempt.ID, 42)
	require.NoError(t, err)
	assert.True(t, view.Terminated)
	assert.Zero(t, *view.Score)
}

// ─── Grading ────────────────────────────────────────────────────────

func TestGrade(t *testing.T) {
	q := func(correct int) model.Question {
		return model.Question{ID: uuid.New(), CorrectIndex: correct}
	}
	q1, q2 := q(1), q(3)
	questions := []model.Question{q1, q2}

	t.Run("no questions scores zero", func(t *testing.T) {
		assert.Zero(t, Grade(map[string]string{"a": "1"}, nil))
	})

	t.Run("all correct", func(t *testing.T) {
		score := Grade(map[string]string{q1.ID.String(): "1", q2.ID.String(): "3"}, questions)
		assert.Equal(t, 100.0, score)
	})

	t.Run("half correct", func(t *testing.T) {
		score := Grade(map[string]string{q1.ID.String(): "1", q2.ID.String(): "0"}, questions)
		assert.Equal(t, 50.0, score)
	})

	t.Run("absent and unparseable answers count as incorrect", func(t *testing.T) {
		score := Grade(map[string]string{q1.ID.String(): "banana"}, questions)
		assert.Zero(t, score)
	})

	t.Run("nil answers", func(t *testing.T) {
		assert.Zero(t, Grade(nil, questions))
	})
}

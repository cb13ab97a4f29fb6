package service

import "errors"

// Sentinel errors for attempt lifecycle policy violations. Handlers map these
// to response codes; they are never wrapped with dynamic text so callers can
// match with errors.Is.
var (
	ErrWindowNotOpen     = errors.New("exam window has not been opened")
	ErrWindowClosed      = errors.New("exam window has closed")
	ErrAlreadySubmitted  = errors.New("attempt already submitted")
	ErrAttemptFinished   = errors.New("attempt is already finished")
	ErrNotOwner          = errors.New("attempt does not belong to this student")
	ErrInvalidAgentToken = errors.New("invalid agent token")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrExamAlreadyOpen   = errors.New("exam window was already opened")
	ErrAttemptRunning    = errors.New("attempt is still running")
	ErrResultsNotReady   = errors.New("exam results are not published")
)

package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden     ErrCode = "FORBIDDEN"
	ErrNotOwner      ErrCode = "NOT_OWNER"
	ErrNotAuthorized ErrCode = "NOT_AUTHORIZED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrWindowClosed      ErrCode = "EXAM_WINDOW_CLOSED"
	ErrWindowNotOpen     ErrCode = "EXAM_WINDOW_NOT_OPEN"
	ErrAlreadySubmitted  ErrCode = "ALREADY_SUBMITTED"
	ErrAttemptFinished   ErrCode = "ATTEMPT_FINISHED"
	ErrInvalidAgentToken ErrCode = "INVALID_AGENT_TOKEN"
	ErrExamAlreadyOpen   ErrCode = "EXAM_ALREADY_OPEN"
	ErrAttemptRunning    ErrCode = "ATTEMPT_RUNNING"
	ErrResultsNotReady   ErrCode = "RESULTS_NOT_PUBLISHED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Invalid username or password."
	case ErrSessionInvalidated:
		return "Your session has ended. Please log in again."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrNotOwner:
		return "This attempt does not belong to you."
	case ErrNotAuthorized:
		return "You are not authorized to perform this action."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrWindowClosed:
		return "The exam window has closed."
	case ErrWindowNotOpen:
		return "The exam window has not been opened yet."
	case ErrAlreadySubmitted:
		return "You have already submitted this exam."
	case ErrAttemptFinished:
		return "This attempt is already finished."
	case ErrInvalidAgentToken:
		return "The agent token is invalid for this attempt."
	case ErrExamAlreadyOpen:
		return "The exam window has already been opened."
	case ErrAttemptRunning:
		return "This attempt is still running."
	case ErrResultsNotReady:
		return "Results for this exam have not been published yet."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}

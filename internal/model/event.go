package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventOrigin identifies which reporter produced an integrity event.
type EventOrigin string

const (
	OriginBrowser EventOrigin = "browser"
	OriginAgent   EventOrigin = "agent"
	OriginSystem  EventOrigin = "system"
)

// Well-known event kinds. Kind is a free-form tag; these are the ones the
// engine itself reacts to.
const (
	EventFullscreenExit    = "fullscreen_exit"
	EventForcedExit        = "forced_exit"
	EventWindowBlur        = "window_blur"
	EventWindowFocus       = "window_focus"
	EventTerminatedByStaff = "exam_terminated_by_staff"
)

// EventRecord is one immutable entry in an attempt's integrity event log.
// Seq is the append order, which is also temporal order: appends to one
// attempt are serialized.
type EventRecord struct {
	Seq       int64           `json:"seq"`
	AttemptID uuid.UUID       `json:"attempt_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Origin    EventOrigin     `json:"origin"`
	IP        string          `json:"ip,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ReportEventRequest is the payload for a browser-origin integrity report.
type ReportEventRequest struct {
	Kind    string          `json:"event" binding:"required,min=1,max=100"`
	Payload json.RawMessage `json:"data"`
}

// AgentReportRequest is the payload for a native-agent integrity report.
// The endpoint is unauthenticated; the attempt-scoped token is the credential.
type AgentReportRequest struct {
	AttemptID uuid.UUID       `json:"attempt_id" binding:"required"`
	Token     string          `json:"token" binding:"required"`
	Kind      string          `json:"event" binding:"required,min=1,max=100"`
	Payload   json.RawMessage `json:"data"`
}

package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionJoinAttempt  Action = "join_attempt"
	ActionJoinAll      Action = "join_all_attempts"
	ActionLeaveAttempt Action = "leave_attempt"
	ActionPing         Action = "ping"
)

// RequestPayload is a client control message on the monitor socket.
type RequestPayload struct {
	Action    Action `json:"action"`
	AttemptID string `json:"attempt_id,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventJoined    Event = "joined"
	EventJoinedAll Event = "joined_all"
	EventLeft      Event = "left"
	EventPong      Event = "pong"
)

// AckResponse confirms a join or leave.
type AckResponse struct {
	Event     Event  `json:"event"`
	Status    string `json:"status"`
	AttemptID string `json:"attempt_id,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

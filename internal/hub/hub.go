package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
)

// Channel is a named broadcast scope monitors join to receive live events.
type Channel string

// GlobalChannel carries events from every attempt. Joining it requires the
// staff-or-admin capability.
const GlobalChannel Channel = "all_attempts"

// AttemptChannel returns the per-attempt channel name.
func AttemptChannel(attemptID uuid.UUID) Channel {
	return Channel(fmt.Sprintf("attempt:%s", attemptID))
}

// ParseAttemptChannel extracts the attempt ID from a per-attempt channel
// name. Returns false for the global channel or a malformed name.
func ParseAttemptChannel(ch Channel) (uuid.UUID, bool) {
	const prefix = "attempt:"
	s := string(ch)
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s[len(prefix):])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Identity is the caller presented at join time.
type Identity struct {
	UserID int
	Role   model.Role
}

// Event names carried in envelopes.
const (
	EventAttempt    = "attempt_event"
	EventAttemptAll = "attempt_event_all"
	EventTerminated = "exam_terminated"
)

// Envelope is one broadcast message.
type Envelope struct {
	Event     string             `json:"event"`
	AttemptID uuid.UUID          `json:"attempt_id"`
	Record    *model.EventRecord `json:"record,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// Authorizer decides whether an identity may join a channel. It is consulted
// on every join so role or ownership changes take effect for new joins
// immediately; already-joined subscribers are not re-checked.
type Authorizer interface {
	CanJoin(ctx context.Context, id Identity, ch Channel) bool
}

// Hub is the process-wide broadcast registry. Channels are created on the
// first subscriber and garbage-collected when the last one leaves. Publish is
// non-blocking: a subscriber whose sink is full misses the message rather
// than delaying the publisher.
type Hub struct {
	mu       sync.RWMutex
	channels map[Channel]map[chan<- Envelope]struct{}
	auth     Authorizer
	log      zerolog.Logger
}

// New creates a Hub with the given join authorizer.
func New(auth Authorizer, log zerolog.Logger) *Hub {
	return &Hub{
		channels: make(map[Channel]map[chan<- Envelope]struct{}),
		auth:     auth,
		log:      log.With().Str("component", "hub").Logger(),
	}
}

// Join subscribes sink to ch if the identity passes authorization.
// An unauthorized join is dropped silently: no membership, no error.
// Returns whether the sink was actually subscribed.
func (h *Hub) Join(ctx context.Context, id Identity, ch Channel, sink chan<- Envelope) bool {
	if !h.auth.CanJoin(ctx, id, ch) {
		h.log.Debug().
			Int("user_id", id.UserID).
			Str("role", string(id.Role)).
			Str("channel", string(ch)).
			Msg("Join rejected")
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[ch]
	if !ok {
		subs = make(map[chan<- Envelope]struct{})
		h.channels[ch] = subs
	}
	subs[sink] = struct{}{}
	return true
}

// Leave unsubscribes sink from ch. Leaving a channel not joined is a no-op.
func (h *Hub) Leave(ch Channel, sink chan<- Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(ch, sink)
}

// LeaveAll unsubscribes sink from every channel it joined.
func (h *Hub) LeaveAll(sink chan<- Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.channels {
		h.removeLocked(ch, sink)
	}
}

func (h *Hub) removeLocked(ch Channel, sink chan<- Envelope) {
	subs, ok := h.channels[ch]
	if !ok {
		return
	}
	delete(subs, sink)
	if len(subs) == 0 {
		delete(h.channels, ch)
	}
}

// Publish delivers env to every subscriber of ch without blocking. Messages
// to a saturated sink are dropped and logged; delivery faults never propagate
// to the publisher.
func (h *Hub) Publish(ch Channel, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sink := range h.channels[ch] {
		select {
		case sink <- env:
		default:
			h.log.Warn().
				Str("channel", string(ch)).
				Str("event", env.Event).
				Msg("Subscriber sink full, dropping message")
		}
	}
}

// SubscriberCount returns how many sinks are joined to ch.
func (h *Hub) SubscriberCount(ch Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[ch])
}

// ChannelCount returns the number of live channels.
func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

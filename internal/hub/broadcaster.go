package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
)

const publishTimeout = 2 * time.Second

// Broadcaster fans a successful event-log append out to the attempt channel,
// the global channel, and the cross-instance Redis bridge. Every publish is
// fire-and-forget: delivery faults are logged and swallowed, never failing
// the state mutation that produced the event.
type Broadcaster struct {
	hub        *Hub
	rdb        *redis.Client
	instanceID string
	log        zerolog.Logger
}

// NewBroadcaster creates a Broadcaster. rdb may be nil in tests, in which
// case only in-process delivery happens.
func NewBroadcaster(h *Hub, rdb *redis.Client, instanceID string, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		hub:        h,
		rdb:        rdb,
		instanceID: instanceID,
		log:        log.With().Str("component", "broadcaster").Logger(),
	}
}

// BroadcastEvent pushes an appended record to the attempt's channel and the
// global monitor channel.
func (b *Broadcaster) BroadcastEvent(attemptID uuid.UUID, rec *model.EventRecord) {
	b.hub.Publish(AttemptChannel(attemptID), Envelope{
		Event:     EventAttempt,
		AttemptID: attemptID,
		Record:    rec,
	})
	b.hub.Publish(GlobalChannel, Envelope{
		Event:     EventAttemptAll,
		AttemptID: attemptID,
		Record:    rec,
	})
	b.relay(AttemptChannel(attemptID), EventAttempt, attemptID, rec, "")
	b.relay(GlobalChannel, EventAttemptAll, attemptID, rec, "")
}

// BroadcastTermination notifies the attempt's channel that staff terminated it.
func (b *Broadcaster) BroadcastTermination(attemptID uuid.UUID, message string) {
	b.hub.Publish(AttemptChannel(attemptID), Envelope{
		Event:     EventTerminated,
		AttemptID: attemptID,
		Message:   message,
	})
	b.relay(AttemptChannel(attemptID), EventTerminated, attemptID, nil, message)
}

// wireEnvelope is the Redis bridge frame. Instance lets receivers skip their
// own messages.
type wireEnvelope struct {
	Instance string   `json:"instance"`
	Channel  Channel  `json:"channel"`
	Envelope Envelope `json:"envelope"`
}

func (b *Broadcaster) relay(ch Channel, event string, attemptID uuid.UUID, rec *model.EventRecord, message string) {
	if b.rdb == nil {
		return
	}

	frame := wireEnvelope{
		Instance: b.instanceID,
		Channel:  ch,
		Envelope: Envelope{Event: event, AttemptID: attemptID, Record: rec, Message: message},
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		b.log.Error().Err(err).Msg("Marshal bridge frame failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, config.CacheKey.AttemptEventsChannel(), payload).Err(); err != nil {
		b.log.Warn().Err(err).Str("channel", string(ch)).Msg("Redis relay publish failed")
	}
}

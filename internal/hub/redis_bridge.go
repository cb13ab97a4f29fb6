package hub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
)

// RedisBridge re-injects broadcast frames published by other backend
// instances into the local hub, so monitors connected to any instance see
// every attempt's events.
type RedisBridge struct {
	hub        *Hub
	rdb        *redis.Client
	instanceID string
	log        zerolog.Logger
}

// NewRedisBridge creates a RedisBridge.
func NewRedisBridge(h *Hub, rdb *redis.Client, instanceID string, log zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		hub:        h,
		rdb:        rdb,
		instanceID: instanceID,
		log:        log.With().Str("component", "redis_bridge").Logger(),
	}
}

// Run subscribes to the shared events channel and pumps remote frames into
// the local hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) {
	pubsub := b.rdb.Subscribe(ctx, config.CacheKey.AttemptEventsChannel())
	defer pubsub.Close()

	b.log.Info().Str("instance", b.instanceID).Msg("Redis bridge started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("Redis bridge stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame wireEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				b.log.Error().Err(err).Msg("Discarding malformed bridge frame")
				continue
			}
			// Local publishes already happened on the origin instance.
			if frame.Instance == b.instanceID {
				continue
			}
			b.hub.Publish(frame.Channel, frame.Envelope)
		}
	}
}

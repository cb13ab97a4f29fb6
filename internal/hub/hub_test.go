package hub

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roleAuthorizer grants the global channel to monitors and any attempt
// channel to monitors or a fixed lecturer ID, mirroring the production
// authorizer's shape without touching storage.
type roleAuthorizer struct {
	ownerLecturerID int
}

func (a roleAuthorizer) CanJoin(_ context.Context, id Identity, ch Channel) bool {
	if id.Role.IsMonitor() {
		return true
	}
	if ch == GlobalChannel {
		return false
	}
	return id.Role == model.RoleLecturer && id.UserID == a.ownerLecturerID
}

func newTestHub() *Hub {
	return New(roleAuthorizer{ownerLecturerID: 7}, zerolog.Nop())
}

func TestAttemptChannelRoundTrip(t *testing.T) {
	id := uuid.New()
	ch := AttemptChannel(id)

	parsed, ok := ParseAttemptChannel(ch)
	require.True(t, ok)
	assert.Equal(t, id, parsed)

	_, ok = ParseAttemptChannel(GlobalChannel)
	assert.False(t, ok)
	_, ok = ParseAttemptChannel(Channel("attempt:not-a-uuid"))
	assert.False(t, ok)
}

func TestJoinAuthorization(t *testing.T) {
	h := newTestHub()
	ctx := context.Background()
	attemptCh := AttemptChannel(uuid.New())
	sink := make(chan Envelope, 1)

	t.Run("staff joins anything", func(t *testing.T) {
		staff := Identity{UserID: 1, Role: model.RoleStaff}
		assert.True(t, h.Join(ctx, staff, GlobalChannel, sink))
		assert.True(t, h.Join(ctx, staff, attemptCh, sink))
	})

	t.Run("owning lecturer joins the attempt channel only", func(t *testing.T) {
		lect := Identity{UserID: 7, Role: model.RoleLecturer}
		assert.True(t, h.Join(ctx, lect, attemptCh, sink))
		assert.False(t, h.Join(ctx, lect, GlobalChannel, sink))
	})

	t.Run("student joins nothing", func(t *testing.T) {
		student := Identity{UserID: 42, Role: model.RoleStudent}
		assert.False(t, h.Join(ctx, student, GlobalChannel, sink))
		assert.False(t, h.Join(ctx, student, attemptCh, sink))
	})
}

func TestUnauthorizedJoinDeliversNothing(t *testing.T) {
	h := newTestHub()
	ch := AttemptChannel(uuid.New())
	sink := make(chan Envelope, 4)

	joined := h.Join(context.Background(), Identity{UserID: 42, Role: model.RoleStudent}, ch, sink)
	require.False(t, joined)

	h.Publish(ch, Envelope{Event: EventAttempt})
	assert.Empty(t, sink, "silent drop: no membership, no delivery")
	assert.Zero(t, h.SubscriberCount(ch))
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	h := newTestHub()
	ch := AttemptChannel(uuid.New())
	staff := Identity{UserID: 1, Role: model.RoleStaff}

	a := make(chan Envelope, 1)
	b := make(chan Envelope, 1)
	require.True(t, h.Join(context.Background(), staff, ch, a))
	require.True(t, h.Join(context.Background(), staff, ch, b))

	h.Publish(ch, Envelope{Event: EventAttempt, AttemptID: uuid.New()})

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestPublishDropsWhenSinkFull(t *testing.T) {
	h := newTestHub()
	ch := AttemptChannel(uuid.New())
	staff := Identity{UserID: 1, Role: model.RoleStaff}

	full := make(chan Envelope, 1)
	full <- Envelope{Event: "stale"}
	require.True(t, h.Join(context.Background(), staff, ch, full))

	// Must return without blocking even though the sink has no room.
	h.Publish(ch, Envelope{Event: EventAttempt})

	env := <-full
	assert.Equal(t, "stale", env.Event, "the queued message survives, the new one is dropped")
}

func TestLeaveIsIdempotentAndGCsChannels(t *testing.T) {
	h := newTestHub()
	ch := AttemptChannel(uuid.New())
	staff := Identity{UserID: 1, Role: model.RoleStaff}
	sink := make(chan Envelope, 1)

	require.True(t, h.Join(context.Background(), staff, ch, sink))
	assert.Equal(t, 1, h.ChannelCount())

	h.Leave(ch, sink)
	assert.Zero(t, h.ChannelCount(), "empty channels are collected")

	// Leaving again, or leaving a channel never joined, is a no-op.
	h.Leave(ch, sink)
	h.Leave(GlobalChannel, sink)
}

func TestLeaveAllRemovesEveryMembership(t *testing.T) {
	h := newTestHub()
	staff := Identity{UserID: 1, Role: model.RoleStaff}
	sink := make(chan Envelope, 1)
	other := make(chan Envelope, 1)

	ch1 := AttemptChannel(uuid.New())
	ch2 := AttemptChannel(uuid.New())
	require.True(t, h.Join(context.Background(), staff, ch1, sink))
	require.True(t, h.Join(context.Background(), staff, ch2, sink))
	require.True(t, h.Join(context.Background(), staff, ch2, other))

	h.LeaveAll(sink)

	assert.Zero(t, h.SubscriberCount(ch1))
	assert.Equal(t, 1, h.SubscriberCount(ch2), "other subscribers are untouched")
}

func TestBroadcasterDualChannelFanout(t *testing.T) {
	h := newTestHub()
	staff := Identity{UserID: 1, Role: model.RoleStaff}
	attemptID := uuid.New()

	perAttempt := make(chan Envelope, 2)
	global := make(chan Envelope, 2)
	require.True(t, h.Join(context.Background(), staff, AttemptChannel(attemptID), perAttempt))
	require.True(t, h.Join(context.Background(), staff, GlobalChannel, global))

	b := NewBroadcaster(h, nil, "test-instance", zerolog.Nop())
	rec := &model.EventRecord{Seq: 1, AttemptID: attemptID, Kind: "window_blur"}
	b.BroadcastEvent(attemptID, rec)

	env := <-perAttempt
	assert.Equal(t, EventAttempt, env.Event)
	assert.Equal(t, attemptID, env.AttemptID)
	require.NotNil(t, env.Record)

	env = <-global
	assert.Equal(t, EventAttemptAll, env.Event)
}

func TestBroadcasterTermination(t *testing.T) {
	h := newTestHub()
	staff := Identity{UserID: 1, Role: model.RoleStaff}
	attemptID := uuid.New()

	sink := make(chan Envelope, 1)
	require.True(t, h.Join(context.Background(), staff, AttemptChannel(attemptID), sink))

	b := NewBroadcaster(h, nil, "test-instance", zerolog.Nop())
	b.BroadcastTermination(attemptID, "Your exam has been terminated due to suspicious activity.")

	env := <-sink
	assert.Equal(t, EventTerminated, env.Event)
	assert.NotEmpty(t, env.Message)
	assert.Nil(t, env.Record)
}

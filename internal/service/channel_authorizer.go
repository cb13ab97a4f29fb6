package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/hub"
	"github.com/stemsi/examguard-backend/internal/model"
)

// ChannelAuthorizer gates live-channel joins. The global channel needs the
// staff-or-admin capability; a per-attempt channel additionally admits the
// exam's creator, re-resolved from storage on every join so ownership changes
// take effect immediately for new joins. Already-joined subscribers are not
// re-validated.
type ChannelAuthorizer struct {
	attempts AttemptStore
	exams    ExamStore
	log      zerolog.Logger
}

// NewChannelAuthorizer creates a ChannelAuthorizer.
func NewChannelAuthorizer(attempts AttemptStore, exams ExamStore, log zerolog.Logger) *ChannelAuthorizer {
	return &ChannelAuthorizer{
		attempts: attempts,
		exams:    exams,
		log:      log.With().Str("component", "channel_authorizer").Logger(),
	}
}

// CanJoin implements hub.Authorizer.
func (a *ChannelAuthorizer) CanJoin(ctx context.Context, id hub.Identity, ch hub.Channel) bool {
	if ch == hub.GlobalChannel {
		return id.Role.IsMonitor()
	}

	attemptID, ok := hub.ParseAttemptChannel(ch)
	if !ok {
		return false
	}
	if id.Role.IsMonitor() {
		return true
	}
	if id.Role != model.RoleLecturer {
		return false
	}

	attempt, err := a.attempts.GetByID(ctx, attemptID)
	if err != nil {
		a.log.Debug().Err(err).Str("channel", string(ch)).Msg("Join lookup failed")
		return false
	}
	exam, err := a.exams.GetByID(ctx, attempt.ExamID)
	if err != nil {
		a.log.Debug().Err(err).Str("channel", string(ch)).Msg("Join lookup failed")
		return false
	}
	return exam.CreatorID == id.UserID
}

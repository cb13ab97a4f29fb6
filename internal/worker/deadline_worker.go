package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Finalizer finalizes every attempt running past its deadline and reports how
// many transitions it made. Implemented by service.AttemptService.
type Finalizer interface {
	FinalizeExpired(ctx context.Context) (int, error)
}

// DeadlineWorker is the eager half of the finalization scheduler: the read
// paths finalize lazily, and this worker sweeps periodically so an attempt
// nobody looks at still reaches terminal state shortly after its deadline.
// Both paths share the same idempotent finalize, so racing is harmless.
type DeadlineWorker struct {
	finalizer Finalizer
	interval  time.Duration
	log       zerolog.Logger
}

// NewDeadlineWorker creates a DeadlineWorker.
func NewDeadlineWorker(finalizer Finalizer, interval time.Duration, log zerolog.Logger) *DeadlineWorker {
	return &DeadlineWorker{
		finalizer: finalizer,
		interval:  interval,
		log:       log.With().Str("component", "deadline_worker").Logger(),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("DeadlineWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("DeadlineWorker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *DeadlineWorker) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	n, err := w.finalizer.FinalizeExpired(sweepCtx)
	if err != nil {
		w.log.Error().Err(err).Msg("Deadline sweep failed")
		return
	}
	if n > 0 {
		w.log.Info().Int("finalized", n).Msg("Deadline sweep finalized expired attempts")
	}
}

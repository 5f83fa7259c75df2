// Package worker runs periodic maintenance over the scheduling engine.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-engine/internal/appointment"
)

// NoShowSweeper periodically marks appointments whose slot started more
// than Grace ago as noshow.
type NoShowSweeper struct {
	svc      *appointment.Service
	interval time.Duration
	grace    time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

func NewNoShowSweeper(svc *appointment.Service, interval, grace time.Duration, logger zerolog.Logger) *NoShowSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &NoShowSweeper{
		svc:      svc,
		interval: interval,
		grace:    grace,
		timeout:  20 * time.Second,
		log:      logger.With().Str("worker", "noshow").Logger(),
	}
}

// Run sweeps once at startup and then on every tick until ctx is done.
func (w *NoShowSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("grace", w.grace).Msg("no-show worker started")

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("shutdown signal received, stopping no-show worker")
			return nil
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and reports how many appointments moved.
// Failures are logged; the next tick retries.
func (w *NoShowSweeper) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	marked, err := w.svc.MarkNoShows(runCtx, w.grace)
	if err != nil {
		w.log.Error().Err(err).Msg("no-show run failed")
		return marked
	}
	w.log.Info().Int("marked", marked).Dur("took", time.Since(start)).Msg("no-show run complete")
	return marked
}

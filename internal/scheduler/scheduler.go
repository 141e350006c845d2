package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"society-ledger-backend/internal/services/ingest"
)

// Runner is the job the scheduler nudges. ErrSyncInProgress means the
// previous run has not finished; the tick is dropped.
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler fires the ingestion runner on a fixed interval. It is a
// best-effort periodic nudge: no queueing, no catch-up.
type Scheduler struct {
	interval time.Duration
	runner   Runner
	log      zerolog.Logger
}

func New(interval time.Duration, runner Runner, log zerolog.Logger) *Scheduler {
	return &Scheduler{interval: interval, runner: runner, log: log}
}

// Start loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			err := s.runner.Run(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ingest.ErrSyncInProgress):
				s.log.Info().Msg("previous sync still running, skipping tick")
			default:
				s.log.Error().Err(err).Msg("scheduled sync failed")
			}
		}
	}
}

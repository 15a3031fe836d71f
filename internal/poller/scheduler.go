package poller

import (
	"context"
	"time"

	"trafficwatch/internal/logger"
)

// Runner executes one poll cycle
type Runner interface {
	RunOnce(ctx context.Context) error
}

// Scheduler repeats a cycle on a fixed interval
type Scheduler struct {
	runner   Runner
	interval time.Duration
}

// NewScheduler creates a Scheduler. The interval is measured from the end
// of one cycle to the start of the next.
func NewScheduler(runner Runner, interval time.Duration) *Scheduler {
	return &Scheduler{runner: runner, interval: interval}
}

// RunForever runs cycles until ctx is cancelled. Cycle errors are logged
// and never stop the loop.
func (s *Scheduler) RunForever(ctx context.Context) error {
	log := logger.WithComponent("scheduler")
	log.Info().Dur("interval", s.interval).Msg("scheduler started")

	for ctx.Err() == nil {
		if err := s.runner.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("poll cycle failed")
		}

		select {
		case <-ctx.Done():
		case <-time.After(s.interval):
		}
	}

	log.Info().Msg("scheduler stopped")
	return nil
}

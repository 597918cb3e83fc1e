package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/retry"
)

// Runner performs one pipeline run.
type Runner interface {
	Run(ctx context.Context) (domain.RunSummary, error)
}

// Scheduler repeats runs on a fixed interval until the context is cancelled.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. A zero interval means a single run.
func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Run executes runs until ctx is cancelled. In single-run mode it returns the
// run's error; when repeating, failed runs are logged and the next one is
// still scheduled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		_, err := s.runner.Run(ctx)
		return err
	}

	s.logger.Info("scheduler started", "interval", s.interval)
	for {
		start := domain.Now()
		if _, err := s.runner.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduled run failed", "error", err)
		}

		wait := s.interval - domain.Now().Sub(start)
		s.logger.Info("next run scheduled", "in", wait.Round(time.Second))
		if !retry.Sleep(ctx, wait) {
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		}
	}
}

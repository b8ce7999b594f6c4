package retention

import (
	"context"
	"log/slog"
	"time"
)

// Runner is a periodic retention job; *Sweeper implements it.
type Runner interface {
	Run(ctx context.Context) ([]*Result, error)
}

// Scheduler runs the sweeper once at start and then on every tick until ctx
// is cancelled. A failed pass is logged and retried on the next tick.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.InfoContext(ctx, "retention scheduler disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pass(ctx)
	for {
		select {
		case <-ticker.C:
			s.pass(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	if _, err := s.runner.Run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "retention pass failed, waiting for next tick",
			"interval", s.interval,
			"error", err,
		)
	}
}

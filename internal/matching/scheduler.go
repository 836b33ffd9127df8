package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scheduler keeps match caches warm by periodically recomputing
// matches for recently active loan requests.
type Scheduler struct {
	service  Service
	logger   *zap.Logger
	interval time.Duration
}

func NewScheduler(service Service, logger *zap.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		service:  service,
		logger:   logger,
		interval: interval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.runEvery(ctx, s.interval, s.precompute)
}

func (s *Scheduler) precompute(ctx context.Context) {
	runID := uuid.New().String()
	start := time.Now()

	if err := s.service.PrecomputeActiveMatches(ctx); err != nil {
		s.logger.Error("match precompute run failed",
			zap.String("run_id", runID),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("match precompute run complete",
		zap.String("run_id", runID),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (s *Scheduler) runEvery(ctx context.Context, interval time.Duration, task func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			task(ctx)
		case <-ctx.Done():
			return
		}
	}
}

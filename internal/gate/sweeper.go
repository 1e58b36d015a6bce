package gate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chimeralabs/chimerad/internal/logging"
)

// Sweeper periodically auto-rejects pending reviews that were never decided.
type Sweeper struct {
	reviews  *Reviews
	interval time.Duration
	logger   *logging.Logger
	metrics  *Metrics
}

// NewSweeper creates a Sweeper over the given store.
func NewSweeper(reviews *Reviews, interval time.Duration, logger *logging.Logger, metrics *Metrics) *Sweeper {
	return &Sweeper{
		reviews:  reviews,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	swept := s.reviews.Sweep()
	for _, review := range swept {
		s.logger.Warn(ctx, "expired review auto-rejected",
			zap.String("review_id", review.ID),
			zap.String("task_id", review.TaskID),
			zap.String("reason", review.Reason))
		if s.metrics != nil {
			s.metrics.RecordExpiry()
		}
	}
}

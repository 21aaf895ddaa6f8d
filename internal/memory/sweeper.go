package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/recallhq/recall/internal/metrics"
)

// Sweeper hard-deletes expired memories in the background. Deletions run in
// bounded batches; if a full batch was deleted another sweep follows
// immediately, so a backlog drains without waiting a full interval per
// batch.
type Sweeper struct {
	repo      Repository
	interval  time.Duration
	batchSize int
}

func NewSweeper(repo Repository, interval time.Duration, batchSize int) *Sweeper {
	return &Sweeper{repo: repo, interval: interval, batchSize: batchSize}
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("memory sweeper started", "interval", s.interval, "batch_size", s.batchSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	for {
		n, err := s.repo.DeleteExpired(ctx, s.batchSize)
		if err != nil {
			slog.Error("sweeping expired memories", "error", err)
			return
		}
		if n > 0 {
			metrics.SweptMemoriesTotal.Add(float64(n))
			slog.Debug("swept expired memories", "count", n)
		}
		if n < int64(s.batchSize) {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

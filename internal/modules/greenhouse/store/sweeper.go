package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"greenhouse-server/internal/metrics"
)

type deleter interface {
	DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper enforces retention by periodically deleting records whose
// created_at is older than now minus the retention period.
type Sweeper struct {
	repo      deleter
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewSweeper(repo deleter, retention, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
// Sweep errors are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
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
	n, err := s.SweepOnce(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("retention sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("retention sweep", "deleted", n, "retention", s.retention)
	}
}

// SweepOnce deletes every record created before now - retention and returns
// how many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.retention)
	n, err := s.repo.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.RetentionDeleted.Add(float64(n))
	return n, nil
}

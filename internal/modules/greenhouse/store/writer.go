// Package store wraps the sample repository with the write-behind queue used by
// ingest and the retention sweeper.
package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"greenhouse-server/internal/metrics"
	"greenhouse-server/internal/modules/greenhouse/repository"
	"greenhouse-server/internal/modules/greenhouse/types"
)

const (
	DefaultQueueSize = 1024

	writeTimeout = 5 * time.Second
	drainTimeout = 5 * time.Second
)

// Writer persists records in submission order on a single goroutine. Append
// never blocks: when the queue is full the oldest queued record is dropped.
type Writer struct {
	repo   repository.SampleRepository
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	queue    []types.StoredRecord
	capacity int
	wake     chan struct{}

	// dropLog throttles the eviction warning; PersistDropped counts every drop.
	dropLog rate.Sometimes

	dropped atomic.Uint64
	failed  atomic.Uint64
	written atomic.Uint64
}

func NewWriter(repo repository.SampleRepository, capacity int, logger *slog.Logger) *Writer {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		repo:     repo,
		logger:   logger,
		now:      time.Now,
		queue:    make([]types.StoredRecord, 0, capacity),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		dropLog:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Append queues rec for persistence. A zero CreatedAt is set to the current
// time. It reports false when an older record had to be dropped to make room.
func (w *Writer) Append(rec types.StoredRecord) bool {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = w.now()
	}

	w.mu.Lock()
	var evicted types.StoredRecord
	ok := true
	if len(w.queue) >= w.capacity {
		evicted = w.queue[0]
		w.queue = append(w.queue[:0], w.queue[1:]...)
		ok = false
	}
	w.queue = append(w.queue, rec)
	metrics.PersistQueueDepth.Set(float64(len(w.queue)))
	w.mu.Unlock()

	if !ok {
		total := w.dropped.Add(1)
		metrics.PersistDropped.Inc()
		w.dropLog.Do(func() {
			w.logger.Warn("persist queue full, dropping oldest sample",
				"device_id", evicted.Sample.DeviceID,
				"created_at", evicted.CreatedAt,
				"capacity", w.capacity,
				"dropped_total", total,
			)
		})
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return ok
}

// Run drains the queue until ctx is cancelled, then flushes what is left
// within a bounded deadline.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			w.flush(flushCtx)
			cancel()
			if n := w.Pending(); n > 0 {
				w.logger.Warn("persist queue not fully drained on shutdown", "pending", n)
			}
			return nil
		case <-w.wake:
			w.flush(context.WithoutCancel(ctx))
		}
	}
}

// flush writes queued records until the queue is empty or ctx expires.
func (w *Writer) flush(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		batch := w.take()
		if len(batch) == 0 {
			return
		}
		for _, rec := range batch {
			w.write(ctx, rec)
		}
	}
}

func (w *Writer) take() []types.StoredRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	batch := make([]types.StoredRecord, len(w.queue))
	copy(batch, w.queue)
	w.queue = w.queue[:0]
	metrics.PersistQueueDepth.Set(0)
	return batch
}

func (w *Writer) write(ctx context.Context, rec types.StoredRecord) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if _, err := w.repo.InsertSample(writeCtx, rec.Sample, rec.CreatedAt); err != nil {
		w.failed.Add(1)
		metrics.PersistFailures.Inc()
		w.logger.Error("persist sample failed",
			"device_id", rec.Sample.DeviceID,
			"error", err,
		)
		return
	}
	w.written.Add(1)
	metrics.SamplesPersisted.Inc()
}

// Range reads stored records for id; see repository.SampleRepository.RangeSamples.
func (w *Writer) Range(ctx context.Context, id types.DeviceID, start, end time.Time, limit int) ([]types.StoredRecord, error) {
	return w.repo.RangeSamples(ctx, id, start, end, limit)
}

func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

func (w *Writer) Failed() uint64 { return w.failed.Load() }

func (w *Writer) Written() uint64 { return w.written.Load() }

package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"greenhouse-server/internal/modules/greenhouse/types"
)

type fakeRepo struct {
	mu       sync.Mutex
	inserted []types.StoredRecord
	failOn   map[float64]bool
	cutoffs  []time.Time
	deleted  int64
	delErr   error
	ranged   int
}

func (f *fakeRepo) InsertSample(_ context.Context, s types.Sample, createdAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[s.Temperature] {
		return 0, errors.New("disk full")
	}
	f.inserted = append(f.inserted, types.StoredRecord{ID: int64(len(f.inserted) + 1), Sample: s, CreatedAt: createdAt})
	return int64(len(f.inserted)), nil
}

func (f *fakeRepo) RangeSamples(_ context.Context, id types.DeviceID, _, _ time.Time, _ int) ([]types.StoredRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranged++
	var out []types.StoredRecord
	for _, r := range f.inserted {
		if r.Sample.DeviceID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteSamplesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.delErr
}

func (f *fakeRepo) temps() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float64, 0, len(f.inserted))
	for _, r := range f.inserted {
		out = append(out, r.Sample.Temperature)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rec(temp float64) types.StoredRecord {
	return types.StoredRecord{Sample: types.Sample{DeviceID: "ESP32_01", Temperature: temp}}
}

// runUntilCancelled runs w in the background and returns a stop func that
// cancels it and waits for Run to return.
func runUntilCancelled(t *testing.T, w *Writer) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWriter_PersistsInSubmissionOrder(t *testing.T) {
	repo := &fakeRepo{}
	w := NewWriter(repo, 100, discardLogger())
	stop := runUntilCancelled(t, w)
	defer stop()

	for i := 0; i < 20; i++ {
		w.Append(rec(float64(i)))
	}
	waitFor(t, func() bool { return w.Written() == 20 })

	got := repo.temps()
	for i, v := range got {
		if v != float64(i) {
			t.Fatalf("inserted[%d] = %v; want %d (order lost: %v)", i, v, i, got)
		}
	}
}

func TestWriter_AppendDropsOldestWhenFull(t *testing.T) {
	repo := &fakeRepo{}
	w := NewWriter(repo, 3, discardLogger())

	var accepted []bool
	for i := 0; i < 5; i++ {
		accepted = append(accepted, w.Append(rec(float64(i))))
	}

	if want := []bool{true, true, true, false, false}; !equalBools(accepted, want) {
		t.Errorf("Append results = %v; want %v", accepted, want)
	}
	if w.Pending() != 3 {
		t.Errorf("Pending() = %d; want 3", w.Pending())
	}
	if w.Dropped() != 2 {
		t.Errorf("Dropped() = %d; want 2", w.Dropped())
	}

	// A cancelled Run still flushes what is queued.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := repo.temps()
	if len(got) != 3 || got[0] != 2 || got[1] != 3 || got[2] != 4 {
		t.Errorf("persisted = %v; want [2 3 4]", got)
	}
	if w.Pending() != 0 {
		t.Errorf("Pending() after drain = %d; want 0", w.Pending())
	}
}

func TestWriter_AppendAssignsCreatedAt(t *testing.T) {
	repo := &fakeRepo{}
	w := NewWriter(repo, 10, discardLogger())
	fixed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	w.Append(rec(1))
	explicit := rec(2)
	explicit.CreatedAt = fixed.Add(-time.Hour)
	w.Append(explicit)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.Run(ctx)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.inserted) != 2 {
		t.Fatalf("inserted %d records; want 2", len(repo.inserted))
	}
	if !repo.inserted[0].CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v; want %v", repo.inserted[0].CreatedAt, fixed)
	}
	if !repo.inserted[1].CreatedAt.Equal(fixed.Add(-time.Hour)) {
		t.Errorf("explicit CreatedAt overwritten: %v", repo.inserted[1].CreatedAt)
	}
}

func TestWriter_FailedWriteDoesNotStopQueue(t *testing.T) {
	repo := &fakeRepo{failOn: map[float64]bool{1: true}}
	w := NewWriter(repo, 10, discardLogger())
	stop := runUntilCancelled(t, w)
	defer stop()

	w.Append(rec(0))
	w.Append(rec(1))
	w.Append(rec(2))
	waitFor(t, func() bool { return w.Written()+w.Failed() == 3 })

	if w.Failed() != 1 {
		t.Errorf("Failed() = %d; want 1", w.Failed())
	}
	got := repo.temps()
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("persisted = %v; want [0 2]", got)
	}
}

func TestWriter_RangeDelegatesToRepository(t *testing.T) {
	repo := &fakeRepo{}
	w := NewWriter(repo, 10, discardLogger())
	w.Append(rec(7))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.Run(ctx)

	got, err := w.Range(context.Background(), "ESP32_01", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(got) != 1 || got[0].Sample.Temperature != 7 {
		t.Errorf("Range() = %+v", got)
	}
	if repo.ranged != 1 {
		t.Errorf("RangeSamples called %d times; want 1", repo.ranged)
	}
}

func TestNewWriter_DefaultCapacity(t *testing.T) {
	w := NewWriter(&fakeRepo{}, 0, nil)
	if w.capacity != DefaultQueueSize {
		t.Errorf("capacity = %d; want %d", w.capacity, DefaultQueueSize)
	}
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestWriter_DropWarningIsThrottled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	w := NewWriter(&fakeRepo{}, 2, logger)

	for i := 0; i < 100; i++ {
		w.Append(rec(float64(i)))
	}

	if got := w.Dropped(); got != 98 {
		t.Errorf("Dropped() = %d; want 98", got)
	}
	if n := strings.Count(buf.String(), "persist queue full"); n != 1 {
		t.Errorf("logged %d drop warnings for 98 drops; want 1", n)
	}
	if w.Pending() != 2 {
		t.Errorf("Pending() = %d; want 2", w.Pending())
	}
}

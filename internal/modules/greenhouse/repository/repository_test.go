package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"greenhouse-server/internal/migrate"
	"greenhouse-server/internal/modules/greenhouse/types"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// One connection: every :memory: connection is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Fatalf("close db: %v", closeErr)
		}
	})
	if err := migrate.Run(context.Background(), db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func insertN(t *testing.T, repo Repository, id types.DeviceID, n int, start time.Time, step time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * step)
		s := types.Sample{DeviceID: id, Timestamp: ts, Temperature: float64(i), Soil: i % 101}
		if _, err := repo.InsertSample(context.Background(), s, ts); err != nil {
			t.Fatalf("InsertSample #%d: %v", i, err)
		}
	}
}

func TestNewRepository(t *testing.T) {
	if NewRepository(setupTestDB(t)) == nil {
		t.Fatal("NewRepository returned nil")
	}
}

func TestInsertAndRange_RoundTrip(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	s := types.Sample{DeviceID: "ESP32_01", Timestamp: base, Temperature: 36.5, Soil: 25, Pump: true, Light: true}
	id, err := repo.InsertSample(ctx, s, base.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("InsertSample: %v", err)
	}
	if id <= 0 {
		t.Errorf("id = %d; want > 0", id)
	}

	got, err := repo.RangeSamples(ctx, "ESP32_01", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("RangeSamples: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d; want 1", len(got))
	}
	rec := got[0]
	if rec.ID != id {
		t.Errorf("ID = %d; want %d", rec.ID, id)
	}
	if !rec.Sample.Timestamp.Equal(s.Timestamp) {
		t.Errorf("Timestamp = %v; want %v", rec.Sample.Timestamp, s.Timestamp)
	}
	rec.Sample.Timestamp = s.Timestamp
	if rec.Sample != s {
		t.Errorf("Sample = %+v; want %+v", rec.Sample, s)
	}
	if !rec.CreatedAt.Equal(base.Add(time.Millisecond)) {
		t.Errorf("CreatedAt = %v", rec.CreatedAt)
	}
}

func TestRangeSamples_AllInAscendingOrder(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	insertN(t, repo, "ESP32_01", 50, base, time.Second)

	got, err := repo.RangeSamples(context.Background(), "ESP32_01", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("RangeSamples: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("len = %d; want 50", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("records out of order at %d", i)
		}
	}
}

func TestRangeSamples_SameTimestampKeepsInsertOrder(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := repo.InsertSample(ctx, types.Sample{DeviceID: "d", Temperature: float64(i)}, base); err != nil {
			t.Fatalf("InsertSample: %v", err)
		}
	}

	got, err := repo.RangeSamples(ctx, "d", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("RangeSamples: %v", err)
	}
	var temps []float64
	for _, r := range got {
		temps = append(temps, r.Sample.Temperature)
	}
	if !reflect.DeepEqual(temps, []float64{0, 1, 2}) {
		t.Errorf("temperatures = %v; want [0 1 2]", temps)
	}
}

func TestRangeSamples_BoundsInclusive(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	insertN(t, repo, "d", 10, base, time.Minute)

	got, err := repo.RangeSamples(context.Background(), "d", base.Add(2*time.Minute), base.Add(5*time.Minute), 0)
	if err != nil {
		t.Fatalf("RangeSamples: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d; want 4", len(got))
	}
	if got[0].Sample.Temperature != 2 || got[3].Sample.Temperature != 5 {
		t.Errorf("range = %v..%v; want 2..5", got[0].Sample.Temperature, got[3].Sample.Temperature)
	}
}

func TestRangeSamples_LimitKeepsMostRecent(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	insertN(t, repo, "d", 10, base, time.Minute)

	got, err := repo.RangeSamples(context.Background(), "d", time.Time{}, time.Time{}, 3)
	if err != nil {
		t.Fatalf("RangeSamples: %v", err)
	}
	var temps []float64
	for _, r := range got {
		temps = append(temps, r.Sample.Temperature)
	}
	if !reflect.DeepEqual(temps, []float64{7, 8, 9}) {
		t.Errorf("temperatures = %v; want [7 8 9]", temps)
	}
}

func TestRangeSamples_DevicesIsolated(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	insertN(t, repo, "ESP32_01", 5, base, time.Second)
	insertN(t, repo, "ESP32_02", 3, base, time.Second)

	got, err := repo.RangeSamples(context.Background(), "ESP32_02", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("RangeSamples: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d; want 3", len(got))
	}
	for _, r := range got {
		if r.Sample.DeviceID != "ESP32_02" {
			t.Errorf("got record of %q", r.Sample.DeviceID)
		}
	}
}

func TestRangeSamples_EmptyWindow(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	insertN(t, repo, "d", 5, base.Add(-3*time.Hour), time.Minute)

	got, err := repo.RangeSamples(context.Background(), "d", base.Add(-time.Hour), base, 1000)
	if err != nil {
		t.Fatalf("RangeSamples: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d; want 0", len(got))
	}
}

func TestDeleteSamplesBefore(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	insertN(t, repo, "a", 10, base, time.Hour)
	insertN(t, repo, "b", 10, base, time.Hour)

	n, err := repo.DeleteSamplesBefore(ctx, base.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("DeleteSamplesBefore: %v", err)
	}
	if n != 8 {
		t.Errorf("deleted = %d; want 8", n)
	}
	got, err := repo.RangeSamples(ctx, "a", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("RangeSamples: %v", err)
	}
	if len(got) != 6 || !got[0].CreatedAt.Equal(base.Add(4*time.Hour)) {
		t.Errorf("remaining = %d starting %v; want 6 starting at cutoff", len(got), got[0].CreatedAt)
	}
}

func TestConfig_NotFound(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	_, err := repo.GetConfig(context.Background(), "nobody")
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("err = %v; want ErrConfigNotFound", err)
	}
}

func TestConfig_UpsertReplacesWholeObject(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	full := types.DefaultControlConfig()
	full.PumpState = true
	if err := repo.UpsertConfig(ctx, "ESP32_01", full, base); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}
	got, err := repo.GetConfig(ctx, "ESP32_01")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if got != full {
		t.Errorf("GetConfig = %+v; want %+v", got, full)
	}

	partial := types.ControlConfig{FanMode: types.ModeManual, FanState: true}
	if err := repo.UpsertConfig(ctx, "ESP32_01", partial, base.Add(time.Second)); err != nil {
		t.Fatalf("UpsertConfig partial: %v", err)
	}
	got, err = repo.GetConfig(ctx, "ESP32_01")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if got != partial {
		t.Errorf("after partial update GetConfig = %+v; want exactly %+v (no merge)", got, partial)
	}
}

func TestConfig_PerDevice(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cfg := types.DefaultControlConfig()
		cfg.SoilAutoStart = 10 + i
		if err := repo.UpsertConfig(ctx, types.DeviceID(fmt.Sprintf("dev-%d", i)), cfg, base); err != nil {
			t.Fatalf("UpsertConfig: %v", err)
		}
	}
	got, err := repo.GetConfig(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if got.SoilAutoStart != 11 {
		t.Errorf("SoilAutoStart = %d; want 11", got.SoilAutoStart)
	}
}

func TestConfig_ListConfigs(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	got, err := repo.ListConfigs(ctx)
	if err != nil {
		t.Fatalf("ListConfigs on empty table: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ListConfigs = %v; want empty", got)
	}

	for i := 0; i < 3; i++ {
		cfg := types.DefaultControlConfig()
		cfg.SoilAutoStart = 10 + i
		if err := repo.UpsertConfig(ctx, types.DeviceID(fmt.Sprintf("dev-%d", i)), cfg, base); err != nil {
			t.Fatalf("UpsertConfig: %v", err)
		}
	}
	got, err = repo.ListConfigs(ctx)
	if err != nil {
		t.Fatalf("ListConfigs: %v", err)
	}
	if len(got) != 3 || got["dev-2"].SoilAutoStart != 12 {
		t.Errorf("ListConfigs = %+v; want 3 configs with dev-2 soilAutoStart 12", got)
	}
}

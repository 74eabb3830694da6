package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"greenhouse-server/internal/modules/greenhouse/types"
)

//go:embed sql/insert-sample.sql
var insertSampleSQL string

//go:embed sql/range-samples.sql
var rangeSamplesSQL string

//go:embed sql/delete-samples-before.sql
var deleteSamplesBeforeSQL string

//go:embed sql/get-config.sql
var getConfigSQL string

//go:embed sql/upsert-config.sql
var upsertConfigSQL string

//go:embed sql/list-configs.sql
var listConfigsSQL string

var ErrConfigNotFound = errors.New("device config not found")

type SampleRepository interface {
	InsertSample(ctx context.Context, s types.Sample, createdAt time.Time) (int64, error)
	// RangeSamples returns records with start <= created_at <= end in
	// ascending order. A zero start or end leaves that side open. When more
	// than limit records match, the most recent limit are returned; limit <= 0
	// means no limit.
	RangeSamples(ctx context.Context, id types.DeviceID, start, end time.Time, limit int) ([]types.StoredRecord, error)
	DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ConfigRepository interface {
	GetConfig(ctx context.Context, id types.DeviceID) (types.ControlConfig, error)
	UpsertConfig(ctx context.Context, id types.DeviceID, cfg types.ControlConfig, updatedAt time.Time) error
	ListConfigs(ctx context.Context) (map[types.DeviceID]types.ControlConfig, error)
}

type Repository interface {
	SampleRepository
	ConfigRepository
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) InsertSample(ctx context.Context, s types.Sample, createdAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertSampleSQL,
		string(s.DeviceID),
		s.Timestamp.UnixNano(),
		s.Temperature,
		s.Soil,
		s.Pump,
		s.Fan,
		s.Light,
		createdAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert sample: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert sample id: %w", err)
	}
	return id, nil
}

func (r *repositoryImpl) RangeSamples(ctx context.Context, id types.DeviceID, start, end time.Time, limit int) ([]types.StoredRecord, error) {
	from := int64(math.MinInt64)
	if !start.IsZero() {
		from = start.UnixNano()
	}
	to := int64(math.MaxInt64)
	if !end.IsZero() {
		to = end.UnixNano()
	}
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}

	rows, err := r.db.QueryContext(ctx, rangeSamplesSQL, string(id), from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("range samples: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close sample rows", "error", err)
		}
	}()

	var out []types.StoredRecord
	for rows.Next() {
		var (
			rec       types.StoredRecord
			deviceID  string
			sampleTS  int64
			createdAt int64
		)
		if err := rows.Scan(
			&rec.ID,
			&deviceID,
			&sampleTS,
			&rec.Sample.Temperature,
			&rec.Sample.Soil,
			&rec.Sample.Pump,
			&rec.Sample.Fan,
			&rec.Sample.Light,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		rec.Sample.DeviceID = types.DeviceID(deviceID)
		rec.Sample.Timestamp = time.Unix(0, sampleTS).UTC()
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("range samples: %w", err)
	}
	return out, nil
}

func (r *repositoryImpl) DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteSamplesBeforeSQL, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete samples rows affected: %w", err)
	}
	return n, nil
}

func (r *repositoryImpl) GetConfig(ctx context.Context, id types.DeviceID) (types.ControlConfig, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, getConfigSQL, string(id)).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ControlConfig{}, fmt.Errorf("%w: %q", ErrConfigNotFound, id)
		}
		return types.ControlConfig{}, fmt.Errorf("get config %q: %w", id, err)
	}
	var cfg types.ControlConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return types.ControlConfig{}, fmt.Errorf("decode config %q: %w", id, err)
	}
	return cfg, nil
}

// UpsertConfig replaces the stored config of id as a whole.
func (r *repositoryImpl) UpsertConfig(ctx context.Context, id types.DeviceID, cfg types.ControlConfig, updatedAt time.Time) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config %q: %w", id, err)
	}
	if _, err := r.db.ExecContext(ctx, upsertConfigSQL, string(id), string(raw), updatedAt.UnixNano()); err != nil {
		return fmt.Errorf("upsert config %q: %w", id, err)
	}
	return nil
}

func (r *repositoryImpl) ListConfigs(ctx context.Context) (map[types.DeviceID]types.ControlConfig, error) {
	rows, err := r.db.QueryContext(ctx, listConfigsSQL)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close config rows", "error", err)
		}
	}()

	out := make(map[types.DeviceID]types.ControlConfig)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		var cfg types.ControlConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("decode config %q: %w", id, err)
		}
		out[types.DeviceID(id)] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	return out, nil
}

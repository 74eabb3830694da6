// Package control stores per-device control configuration and relays it to
// the device over MQTT.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"greenhouse-server/internal/metrics"
	"greenhouse-server/internal/modules/greenhouse/decoder"
	"greenhouse-server/internal/modules/greenhouse/repository"
	"greenhouse-server/internal/modules/greenhouse/types"
)

var (
	ErrInvalidConfig = errors.New("invalid control config")
	// ErrPublishFailed means the config was stored but could not be sent to the device.
	ErrPublishFailed = errors.New("control config publish failed")
)

// Publisher sends a payload to an MQTT topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type BreakerSettings struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

var DefaultBreakerSettings = BreakerSettings{FailureThreshold: 5, Timeout: 30 * time.Second}

// Relay keeps an in-memory copy of every stored config so alert thresholds
// are answered without touching the database.
type Relay struct {
	repo    repository.ConfigRepository
	pub     Publisher
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	configs map[types.DeviceID]types.ControlConfig
	loaded  bool
}

func NewRelay(repo repository.ConfigRepository, pub Publisher, bs BreakerSettings, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if bs.FailureThreshold == 0 {
		bs.FailureThreshold = DefaultBreakerSettings.FailureThreshold
	}
	if bs.Timeout <= 0 {
		bs.Timeout = DefaultBreakerSettings.Timeout
	}
	r := &Relay{
		repo:    repo,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
		configs: make(map[types.DeviceID]types.ControlConfig),
	}
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "control-publish",
		MaxRequests: 1,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return r
}

// SetConfig stores cfg as the complete config of id and then publishes it to
// greenhouse/{id}/control once. Fields absent from cfg are stored as zero
// values. A publish failure leaves the stored config in place and returns an
// error wrapping ErrPublishFailed.
func (r *Relay) SetConfig(ctx context.Context, id types.DeviceID, cfg types.ControlConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode control config: %w", err)
	}

	if err := r.repo.UpsertConfig(ctx, id, cfg, r.now()); err != nil {
		return fmt.Errorf("persist control config: %w", err)
	}
	r.remember(id, cfg)

	topic := decoder.ControlTopic(id)
	_, err = r.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, r.pub.Publish(ctx, topic, payload)
	})
	if err != nil {
		metrics.ControlPublishes.WithLabelValues("failed").Inc()
		r.logger.Error("control config publish failed",
			"device_id", id,
			"topic", topic,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	metrics.ControlPublishes.WithLabelValues("ok").Inc()
	r.logger.Info("control config relayed", "device_id", id, "topic", topic)
	return nil
}

// GetConfig returns the stored config of id or an error wrapping
// repository.ErrConfigNotFound.
func (r *Relay) GetConfig(ctx context.Context, id types.DeviceID) (types.ControlConfig, error) {
	return r.repo.GetConfig(ctx, id)
}

// Load reads every stored config into memory. After a successful Load,
// Thresholds never queries the repository.
func (r *Relay) Load(ctx context.Context) error {
	configs, err := r.repo.ListConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load control configs: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cfg := range configs {
		// A SetConfig that raced with the load is newer.
		if _, ok := r.configs[id]; !ok {
			r.configs[id] = cfg
		}
	}
	r.loaded = true
	r.logger.Info("control configs loaded", "devices", len(configs))
	return nil
}

// Thresholds returns the config of id, or the defaults when none is stored.
// It is used for alert evaluation. Without a prior Load a device's config is
// read from the repository once and then kept.
func (r *Relay) Thresholds(ctx context.Context, id types.DeviceID) (types.ControlConfig, error) {
	r.mu.RLock()
	cfg, ok := r.configs[id]
	loaded := r.loaded
	r.mu.RUnlock()
	if ok {
		return cfg, nil
	}
	if loaded {
		return types.DefaultControlConfig(), nil
	}

	cfg, err := r.repo.GetConfig(ctx, id)
	switch {
	case errors.Is(err, repository.ErrConfigNotFound):
		cfg = types.DefaultControlConfig()
	case err != nil:
		return types.ControlConfig{}, err
	}
	r.mu.Lock()
	if cur, ok := r.configs[id]; ok {
		cfg = cur
	} else {
		r.configs[id] = cfg
	}
	r.mu.Unlock()
	return cfg, nil
}

func (r *Relay) remember(id types.DeviceID, cfg types.ControlConfig) {
	r.mu.Lock()
	r.configs[id] = cfg
	r.mu.Unlock()
}

func (r *Relay) BreakerState() string {
	return r.breaker.State().String()
}

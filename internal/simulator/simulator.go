// Package simulator plays one or more greenhouse boards against a broker: it
// publishes random telemetry on each device's data topic and logs the control
// configs the server relays back.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"greenhouse-server/internal/modules/greenhouse/decoder"
	"greenhouse-server/internal/modules/greenhouse/types"
	"greenhouse-server/internal/mqtt"
)

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

type Simulator struct {
	broker   Broker
	gen      *Generator
	devices  []types.DeviceID
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	applied map[types.DeviceID]types.ControlConfig
}

func New(broker Broker, gen *Generator, devices []types.DeviceID, interval time.Duration, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		broker:   broker,
		gen:      gen,
		devices:  devices,
		interval: interval,
		logger:   logger,
		applied:  make(map[types.DeviceID]types.ControlConfig),
	}
}

// Run subscribes to every device's control topic, then publishes a reading
// per device on each tick until ctx is cancelled. Publish errors are logged;
// the broker may come and go while the simulator runs.
func (s *Simulator) Run(ctx context.Context) error {
	for _, id := range s.devices {
		if err := s.broker.Subscribe(decoder.ControlTopic(id), s.controlHandler(id)); err != nil {
			return fmt.Errorf("subscribe control %s: %w", id, err)
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.PublishOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("publish telemetry", "error", err)
			}
		}
	}
}

// PublishOnce sends one reading for every device.
func (s *Simulator) PublishOnce(ctx context.Context) error {
	var errs []error
	for _, id := range s.devices {
		r := s.gen.Next()
		payload, err := json.Marshal(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal reading for %s: %w", id, err))
			continue
		}
		if err := s.broker.Publish(ctx, decoder.DataTopic(id), payload); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", id, err))
			continue
		}
		s.logger.Info("sent telemetry",
			"device", id,
			"temperature", r.Temperature,
			"soil", r.Soil,
			"pump", r.Pump,
		)
	}
	return errors.Join(errs...)
}

// Applied returns the last control config received for id.
func (s *Simulator) Applied(id types.DeviceID) (types.ControlConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.applied[id]
	return cfg, ok
}

func (s *Simulator) controlHandler(id types.DeviceID) mqtt.MessageHandler {
	return func(topic string, payload []byte) {
		var cfg types.ControlConfig
		if err := json.Unmarshal(payload, &cfg); err != nil {
			s.logger.Warn("invalid control payload", "device", id, "topic", topic, "error", err)
			return
		}
		s.mu.Lock()
		s.applied[id] = cfg
		s.mu.Unlock()
		s.logger.Info("control config applied",
			"device", id,
			"pumpMode", cfg.PumpMode,
			"fanMode", cfg.FanMode,
			"lightMode", cfg.LightMode,
			"soilAutoStart", cfg.SoilAutoStart,
			"soilAutoStop", cfg.SoilAutoStop,
			"fanAutoTemp", cfg.FanAutoTemp,
		)
	}
}

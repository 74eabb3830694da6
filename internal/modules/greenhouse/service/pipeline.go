// Package service runs the ingest pipeline that turns MQTT telemetry into
// cached state, stored records, viewer notifications and alerts.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"

	"greenhouse-server/internal/metrics"
	"greenhouse-server/internal/modules/greenhouse/alerts"
	"greenhouse-server/internal/modules/greenhouse/decoder"
	"greenhouse-server/internal/modules/greenhouse/types"
)

type StateCache interface {
	Update(s types.Sample) types.RealtimeState
	Len() int
}

type Appender interface {
	Append(rec types.StoredRecord) bool
}

type Notifier interface {
	Notify(id types.DeviceID, st types.RealtimeState)
}

// ThresholdSource returns the config whose limits drive alert evaluation.
type ThresholdSource interface {
	Thresholds(ctx context.Context, id types.DeviceID) (types.ControlConfig, error)
}

type Options struct {
	Workers   int
	QueueSize int
}

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256

	thresholdTimeout = 2 * time.Second
)

// Pipeline partitions samples by device so that samples of one device are
// handled in arrival order while different devices proceed in parallel.
type Pipeline struct {
	cache      StateCache
	store      Appender
	hub        Notifier
	thresholds ThresholdSource
	logger     *slog.Logger
	now        func() time.Time

	// malformedLog throttles the per-message warning; DecodeFailures still
	// counts every drop.
	malformedLog rate.Sometimes

	partitions []chan types.Sample
	// alertQueue feeds the alert checker so threshold lookups never hold up
	// the per-device workers.
	alertQueue chan types.Sample
	stopped    chan struct{}
	stopOnce   sync.Once
}

func NewPipeline(cache StateCache, store Appender, hub Notifier, thresholds ThresholdSource, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cache:        cache,
		store:        store,
		hub:          hub,
		thresholds:   thresholds,
		logger:       logger,
		now:          time.Now,
		malformedLog: rate.Sometimes{First: 10, Interval: 10 * time.Second},
		partitions:   make([]chan types.Sample, opts.Workers),
		alertQueue:   make(chan types.Sample, opts.QueueSize),
		stopped:      make(chan struct{}),
	}
	for i := range p.partitions {
		p.partitions[i] = make(chan types.Sample, opts.QueueSize)
	}
	return p
}

func (p *Pipeline) partition(id types.DeviceID) int {
	return int(xxhash.Sum64String(string(id)) % uint64(len(p.partitions)))
}

// HandleMessage is the MQTT message callback. Malformed messages are logged
// and dropped; messages that are not telemetry are ignored. It blocks only
// while the device's partition is full.
func (p *Pipeline) HandleMessage(topic string, payload []byte) {
	s, err := decoder.Decode(topic, payload, p.now())
	if err != nil {
		if errors.Is(err, decoder.ErrNotTelemetry) {
			p.logger.Debug("ignoring non-telemetry message", "topic", topic)
			return
		}
		metrics.DecodeFailures.Inc()
		p.malformedLog.Do(func() {
			p.logger.Warn("dropping malformed telemetry",
				"topic", topic,
				"error", err,
				"payload", string(payload),
			)
		})
		return
	}
	metrics.SamplesIngested.Inc()

	select {
	case p.partitions[p.partition(s.DeviceID)] <- s:
	case <-p.stopped:
		p.logger.Debug("pipeline stopped, dropping sample", "device_id", s.DeviceID)
	}
}

// Process handles one decoded sample: cache, persist, notify. The alert
// check is queued for the alert checker and dropped when that queue is full.
func (p *Pipeline) Process(ctx context.Context, s types.Sample) {
	st := p.cache.Update(s)
	metrics.CachedDevices.Set(float64(p.cache.Len()))

	p.store.Append(types.StoredRecord{Sample: s, CreatedAt: s.Timestamp})
	p.hub.Notify(s.DeviceID, st)

	if p.thresholds == nil {
		return
	}
	select {
	case p.alertQueue <- s:
	default:
		metrics.AlertChecksDropped.Inc()
	}
}

// CheckAlerts evaluates s against its device's thresholds.
func (p *Pipeline) CheckAlerts(ctx context.Context, s types.Sample) []types.AlertKind {
	if p.thresholds == nil {
		return nil
	}
	tctx, cancel := context.WithTimeout(ctx, thresholdTimeout)
	defer cancel()
	cfg, err := p.thresholds.Thresholds(tctx, s.DeviceID)
	if err != nil {
		p.logger.Warn("alert thresholds unavailable", "device_id", s.DeviceID, "error", err)
		return nil
	}
	kinds := alerts.EvaluateAlerts(s, alerts.ThresholdsFrom(cfg))
	for _, k := range kinds {
		metrics.Alerts.WithLabelValues(string(k)).Inc()
		p.logger.Debug("alert condition",
			"device_id", s.DeviceID,
			"alert", k,
			"temperature", s.Temperature,
			"soil", s.Soil,
		)
	}
	return kinds
}

func (p *Pipeline) alertChecker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.alertQueue:
			p.CheckAlerts(ctx, s)
		}
	}
}

// Run starts one worker per partition plus the alert checker and returns once
// ctx is cancelled and every worker has drained its queue. Alert checks still
// queued at shutdown are skipped.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.alertChecker(ctx)
	}()
	for i, part := range p.partitions {
		wg.Add(1)
		go func(idx int, in <-chan types.Sample) {
			defer wg.Done()
			p.worker(ctx, idx, in)
		}(i, part)
	}

	<-ctx.Done()
	p.stopOnce.Do(func() { close(p.stopped) })
	wg.Wait()
	return nil
}

func (p *Pipeline) worker(ctx context.Context, idx int, in <-chan types.Sample) {
	for {
		select {
		case <-ctx.Done():
			p.drain(idx, in)
			return
		case s := <-in:
			p.Process(ctx, s)
		}
	}
}

// drain handles what is already queued so accepted samples still reach the
// cache and the persist queue.
func (p *Pipeline) drain(idx int, in <-chan types.Sample) {
	ctx := context.Background()
	n := 0
	for {
		select {
		case s := <-in:
			p.Process(ctx, s)
			n++
		default:
			if n > 0 {
				p.logger.Debug("ingest partition drained", "partition", idx, "samples", n)
			}
			return
		}
	}
}

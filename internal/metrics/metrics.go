// Package metrics holds the Prometheus collectors of the relay. They are
// registered with the default registry and exposed on GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesIngested counts samples that passed decoding and entered the pipeline.
	SamplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_samples_ingested_total",
		Help: "Total number of decoded telemetry samples accepted for processing",
	})

	// DecodeFailures counts telemetry messages dropped as malformed.
	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_decode_failures_total",
		Help: "Total number of telemetry messages rejected by the decoder",
	})

	SamplesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_samples_persisted_total",
		Help: "Total number of samples written to the time-series store",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_persist_failures_total",
		Help: "Total number of failed sample writes",
	})

	// PersistDropped counts records evicted from a full persist queue.
	PersistDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_persist_dropped_total",
		Help: "Total number of queued samples dropped because the persist queue was full",
	})

	PersistQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_persist_queue_depth",
		Help: "Current number of samples waiting to be persisted",
	})

	// AlertChecksDropped counts samples whose alert check was skipped because
	// the alert queue was full.
	AlertChecksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_alert_checks_dropped_total",
		Help: "Total number of samples not checked for alerts because the alert queue was full",
	})

	RetentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_retention_deleted_total",
		Help: "Total number of samples removed by the retention sweeper",
	})

	// Subscribers is the number of live realtime subscriptions.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_realtime_subscribers",
		Help: "Current number of realtime viewer subscriptions",
	})

	DeliveryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greenhouse_delivery_dropped_total",
		Help: "Total number of realtime subscriptions pruned because they could not keep up",
	})

	CachedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_realtime_cached_devices",
		Help: "Number of devices with a cached realtime state",
	})

	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenhouse_alerts_total",
		Help: "Total number of alert conditions observed on ingested samples",
	}, []string{"kind"})

	ControlPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenhouse_control_publishes_total",
		Help: "Total number of control configuration publish attempts by result",
	}, []string{"result"})

	MQTTConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenhouse_mqtt_connected",
		Help: "1 when the MQTT client is connected to the broker, 0 otherwise",
	})
)

package greenhouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"greenhouse-server/internal/config"
	"greenhouse-server/internal/logging"
	"greenhouse-server/internal/modules/greenhouse/broadcast"
	"greenhouse-server/internal/modules/greenhouse/control"
	"greenhouse-server/internal/modules/greenhouse/controller"
	"greenhouse-server/internal/modules/greenhouse/history"
	"greenhouse-server/internal/modules/greenhouse/realtime"
	"greenhouse-server/internal/modules/greenhouse/repository"
	"greenhouse-server/internal/modules/greenhouse/service"
	"greenhouse-server/internal/modules/greenhouse/store"
	"greenhouse-server/internal/mqtt"
)

// Broker is the MQTT side the feature needs: a telemetry subscription and
// control publishing.
type Broker interface {
	control.Publisher
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// Feature is the wired greenhouse module. Run drives its background workers.
type Feature struct {
	Cache    *realtime.Cache
	Hub      *broadcast.Hub
	Writer   *store.Writer
	Sweeper  *store.Sweeper
	Pipeline *service.Pipeline
	Relay    *control.Relay

	logger *slog.Logger
}

func RegisterFeature(mux *http.ServeMux, db *sql.DB, broker Broker, cfg config.Config, logger *slog.Logger) (*Feature, error) {
	if logger == nil {
		logger = slog.Default()
	}
	repo := repository.NewRepository(db)

	f := &Feature{
		Cache:  realtime.NewCache(),
		Hub:    broadcast.NewHub(logging.Component(logger, "broadcast")),
		logger: logger,
	}
	f.Writer = store.NewWriter(repo, cfg.PersistQueueSize, logging.Component(logger, "store"))
	f.Sweeper = store.NewSweeper(repo, cfg.Retention, cfg.RetentionSweepInterval, logging.Component(logger, "retention"))
	f.Relay = control.NewRelay(repo, broker, control.DefaultBreakerSettings, logging.Component(logger, "control"))
	f.Pipeline = service.NewPipeline(f.Cache, f.Writer, f.Hub, f.Relay,
		service.Options{Workers: cfg.IngestWorkers, QueueSize: cfg.IngestQueueSize},
		logging.Component(logger, "ingest"),
	)

	if err := broker.Subscribe(cfg.MQTTTopic, f.Pipeline.HandleMessage); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", cfg.MQTTTopic, err)
	}

	historyService := history.NewService(f.Writer, cfg.HistoryDisplayCap)
	ws := broadcast.NewWSHandler(f.Hub, f.Cache, logging.Component(logger, "ws"))
	greenhouseController := controller.NewGreenhouseController(historyService, f.Relay, f.Cache, ws, cfg.Location)
	greenhouseController.RegisterRoutes(mux)

	return f, nil
}

// Run blocks until ctx is cancelled. The persist writer is stopped only after
// the pipeline has drained so accepted samples still reach the queue.
func (f *Feature) Run(ctx context.Context) error {
	// Without the preload the relay falls back to one read per device.
	if err := f.Relay.Load(ctx); err != nil {
		f.logger.Warn("control configs not preloaded", "error", err)
	}

	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWriter()

	writerDone := make(chan error, 1)
	go func() { writerDone <- f.Writer.Run(writerCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.Sweeper.Run(gctx) })
	g.Go(func() error { return f.Pipeline.Run(gctx) })
	err := g.Wait()

	stopWriter()
	if werr := <-writerDone; err == nil {
		err = werr
	}
	f.Hub.Close()
	return err
}

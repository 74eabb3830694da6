package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"greenhouse-server/internal/config"
	"greenhouse-server/internal/db"
	"greenhouse-server/internal/httpapi"
	"greenhouse-server/internal/logging"
	"greenhouse-server/internal/migrate"
	greenhouse "greenhouse-server/internal/modules/greenhouse"
	"greenhouse-server/internal/mqtt"
)

const shutdownTimeout = 10 * time.Second

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"sqliteMaxIdleConns", cfg.SQLiteMaxIdleConns,
		"sqliteConnMaxLifetime", cfg.SQLiteConnMaxLifetime,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
		"retention", cfg.Retention,
		"ingestWorkers", cfg.IngestWorkers,
		"timezone", cfg.Location.String(),
	)

	dbConn, err := db.Open(cfg, logging.Component(logger, "db"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, dbConn, logging.Component(logger, "migrate")); err != nil {
		return err
	}
	logger.Info("database ready")

	// Subscriptions are registered before the first connect so the client
	// subscribes from its OnConnect handler and no early message is missed.
	mqttClient := mqtt.NewClient(mqtt.Options{
		Broker:   cfg.MQTTBroker,
		Port:     cfg.MQTTPort,
		ClientID: cfg.MQTTClientID,
		QoS:      1,
	}, logging.Component(logger, "mqtt"))

	mux := httpapi.NewMux(dbConn, mqttClient)
	feature, err := greenhouse.RegisterFeature(mux, dbConn, mqttClient, cfg, logger)
	if err != nil {
		return err
	}

	srv := httpapi.NewServer(cfg, mux, logging.Component(logger, "http"))

	g, gctx := errgroup.WithContext(ctx)

	// Broker outages never stop the server; the client keeps retrying.
	g.Go(func() error { return mqttClient.Run(gctx) })
	g.Go(func() error { return feature.Run(gctx) })
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("http shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

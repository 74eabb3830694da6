// cmd/simulator/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"greenhouse-server/internal/logging"
	"greenhouse-server/internal/mqtt"
	"greenhouse-server/internal/simulator"
)

const appName = "greenhouse-simulator"

var version = "dev"

func main() {
	cfg, err := simulator.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Base, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"mqtt_broker", cfg.Base.MQTTBroker,
		"mqtt_port", cfg.Base.MQTTPort,
		"devices", cfg.Devices,
		"interval", cfg.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := mqtt.NewClient(mqtt.Options{
		Broker:   cfg.Base.MQTTBroker,
		Port:     cfg.Base.MQTTPort,
		ClientID: cfg.ClientID,
		QoS:      1,
	}, logging.Component(logger, "mqtt"))

	sim := simulator.New(client, simulator.NewGenerator(uint64(time.Now().UnixNano())), cfg.Devices, cfg.Interval,
		logging.Component(logger, "simulator"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return sim.Run(gctx) })

	if err := g.Wait(); err != nil {
		slog.Error("simulator failed", "err", err)
		os.Exit(1)
	}
	slog.Info("shutting down")
}

// cmd/tools/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"greenhouse-server/internal/config"
	"greenhouse-server/internal/db"
	"greenhouse-server/internal/logging"
	"greenhouse-server/internal/migrate"
	"greenhouse-server/internal/modules/greenhouse/repository"
	"greenhouse-server/internal/modules/greenhouse/store"
)

const usage = `usage: %s <command>
  migrate  apply pending schema migrations
  sweep    delete samples older than RETENTION once
`

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, command string, out io.Writer) error {
	switch command {
	case "migrate", "sweep":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	logger := logging.New(cfg, version, "greenhouse-tools")

	conn, err := db.Open(cfg, logging.Component(logger, "db"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "err", closeErr)
		}
	}()

	if err := migrate.Run(ctx, conn, logging.Component(logger, "migrate")); err != nil {
		return err
	}

	switch command {
	case "migrate":
		fmt.Fprintln(out, "migrations applied")
	case "sweep":
		sweeper := store.NewSweeper(repository.NewRepository(conn), cfg.Retention, cfg.RetentionSweepInterval,
			logging.Component(logger, "retention"))
		n, err := sweeper.SweepOnce(ctx, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %d samples older than %s\n", n, cfg.Retention)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"safesleep-telemetry/common/database"
	"safesleep-telemetry/common/logger"
	"safesleep-telemetry/internal/config"
	"safesleep-telemetry/internal/report"
	"safesleep-telemetry/internal/repository"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.Level, "console", "safesleep-admin")
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer database.Close(db)

	if err := repository.Migrate(db); err != nil {
		return err
	}

	readings := repository.NewTelemetryRepository(db, log)
	a := &app{
		devices:  repository.NewDeviceRepository(db, log),
		readings: readings,
		reports:  report.NewService(readings, log),
		out:      os.Stdout,
		logger:   log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Debug("Running admin command", zap.Strings("args", args))
	return a.execute(ctx, args)
}

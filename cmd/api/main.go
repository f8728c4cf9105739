package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kzaleski/signalmap/internal/adapter/httpapi"
	kafkaadapter "github.com/kzaleski/signalmap/internal/adapter/kafka"
	"github.com/kzaleski/signalmap/internal/adapter/postgres"
	"github.com/kzaleski/signalmap/internal/config"
	"github.com/kzaleski/signalmap/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	producer := kafkaadapter.NewProducer(cfg, logger)
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error("kafka producer close error", "error", err)
		}
	}()

	srv, err := httpapi.New(cfg, store, producer, logger, metrics)
	if err != nil {
		logger.Error("failed to build api server", "error", err)
		os.Exit(1)
	}

	logger.Info("api server starting", "addr", cfg.HTTPAddr)
	if err := srv.Run(ctx); err != nil {
		logger.Error("api server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

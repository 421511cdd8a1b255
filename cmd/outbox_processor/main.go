package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnichat/gateway/internal/outbox"
	outboxpostgres "github.com/omnichat/gateway/internal/outbox/repository/postgres"
	"github.com/omnichat/gateway/internal/platform/config"
	"github.com/omnichat/gateway/internal/platform/database"
	"github.com/omnichat/gateway/internal/platform/logger"
	"github.com/omnichat/gateway/internal/platform/messagebroker"
	"github.com/omnichat/gateway/internal/queueing"
	queuepostgres "github.com/omnichat/gateway/internal/queueing/repository/postgres"
)

const serviceName = "outbox_processor"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Outbox processor starting...", "poll_interval", cfg.OutboxPollInterval, "batch_size", cfg.OutboxBatchSize)

	dbPool, err := database.NewDBPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL")

	broker, err := messagebroker.NewRabbitMQClient(cfg.RabbitMQURL, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer broker.Close()
	appLogger.Info("Connected to RabbitMQ")

	topology := queueing.NewTopologyManager(broker, queuepostgres.NewPgQueueMetadataRepository(), dbPool, appLogger)
	if err := topology.DeclareExchanges(); err != nil {
		appLogger.Error("Failed to declare exchanges", "error", err)
		os.Exit(1)
	}

	processor := outbox.NewProcessor(
		outboxpostgres.NewPgOutboxRepository(),
		queuepostgres.NewPgQueueMetadataRepository(),
		dbPool,
		broker,
		appLogger,
		outbox.ProcessorConfig{BatchSize: cfg.OutboxBatchSize, StaleAfter: cfg.OutboxStaleAfter},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.OutboxPollInterval)
	defer ticker.Stop()
	appLogger.Info("Outbox drain loop started")

	for {
		select {
		case <-ctx.Done():
			appLogger.Info("Shutdown signal received, draining one final batch...")
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, _, err := processor.Drain(drainCtx); err != nil {
				appLogger.Error("Final drain pass failed", "error", err)
			}
			cancel()
			appLogger.Info("Outbox processor shut down.")
			return
		case <-ticker.C:
			published, failed, err := processor.Drain(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("Drain pass failed", "error", err)
				continue
			}
			if published > 0 || failed > 0 {
				appLogger.Info("Drain pass complete", "published", published, "failed", failed)
			}
		}
	}
}

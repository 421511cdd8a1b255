package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/omnichat/gateway/internal/monitor"
	outboxpostgres "github.com/omnichat/gateway/internal/outbox/repository/postgres"
	"github.com/omnichat/gateway/internal/platform/config"
	"github.com/omnichat/gateway/internal/platform/database"
	"github.com/omnichat/gateway/internal/platform/logger"
	"github.com/omnichat/gateway/internal/platform/messagebroker"
	"github.com/omnichat/gateway/internal/providers"
	"github.com/omnichat/gateway/internal/queueing"
	queuepostgres "github.com/omnichat/gateway/internal/queueing/repository/postgres"
	tenantpostgres "github.com/omnichat/gateway/internal/tenant/repository/postgres"
)

const serviceName = "health_monitor"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Health monitor starting...", "check_interval", cfg.HealthCheckInterval)

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

	providerRepo := tenantpostgres.NewPgChatProviderRepository()
	registry := providers.NewRegistry(providerRepo, dbPool, appLogger, cfg.ProviderTimeout)
	dispatcher := providers.NewDispatcher(registry, tenantpostgres.NewPgChatInstanceRepository(), dbPool, appLogger)

	topology := queueing.NewTopologyManager(broker, queuepostgres.NewPgQueueMetadataRepository(), dbPool, appLogger)

	svc := monitor.NewService(
		providerRepo,
		tenantpostgres.NewPgRateLimitRepository(),
		outboxpostgres.NewPgOutboxRepository(),
		topology,
		dispatcher,
		dbPool,
		appLogger,
		monitor.Config{
			CheckInterval:          cfg.HealthCheckInterval,
			CleanupEveryNTicks:     cfg.CleanupEveryNTicks,
			OutboxRetentionDays:    cfg.OutboxRetentionDays,
			QueueIdleDays:          cfg.QueueIdleDays,
			RateLimitRetentionDays: cfg.RateLimitRetentionDays,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Monitor loop stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Health monitor shut down.")
}

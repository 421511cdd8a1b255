package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	msgpostgres "github.com/omnichat/gateway/internal/messages/repository/postgres"
	"github.com/omnichat/gateway/internal/phoneval"
	phonevalpostgres "github.com/omnichat/gateway/internal/phoneval/repository/postgres"
	"github.com/omnichat/gateway/internal/platform/config"
	"github.com/omnichat/gateway/internal/platform/database"
	"github.com/omnichat/gateway/internal/platform/logger"
	"github.com/omnichat/gateway/internal/platform/messagebroker"
	"github.com/omnichat/gateway/internal/providers"
	"github.com/omnichat/gateway/internal/queueing"
	queuepostgres "github.com/omnichat/gateway/internal/queueing/repository/postgres"
	"github.com/omnichat/gateway/internal/sender"
	tenantpostgres "github.com/omnichat/gateway/internal/tenant/repository/postgres"
)

const serviceName = "message_sender"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Message sender starting...", "prefetch", cfg.ConsumerPrefetch)

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
	if err := topology.DeclareSenderQueue(); err != nil {
		appLogger.Error("Failed to declare sender queue", "error", err)
		os.Exit(1)
	}

	registry := providers.NewRegistry(tenantpostgres.NewPgChatProviderRepository(), dbPool, appLogger, cfg.ProviderTimeout)
	dispatcher := providers.NewDispatcher(registry, tenantpostgres.NewPgChatInstanceRepository(), dbPool, appLogger)
	validator := phoneval.NewValidator(phonevalpostgres.NewPgValidatedPhoneRepository(), dbPool, dispatcher, appLogger)

	svc := sender.NewService(
		msgpostgres.NewPgMessageRepository(),
		dbPool,
		validator,
		dispatcher,
		appLogger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = broker.Consume(ctx, queueing.OutboundSenderQueue, svc.HandleDelivery, cfg.ConsumerPrefetch)
	if err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Consumer stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Message sender shut down.")
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/omnichat/gateway/internal/inbound"
	"github.com/omnichat/gateway/internal/platform/config"
	"github.com/omnichat/gateway/internal/platform/database"
	"github.com/omnichat/gateway/internal/platform/logger"
	"github.com/omnichat/gateway/internal/platform/messagebroker"
	"github.com/omnichat/gateway/internal/queueing"
	queuepostgres "github.com/omnichat/gateway/internal/queueing/repository/postgres"
	tenantpostgres "github.com/omnichat/gateway/internal/tenant/repository/postgres"
)

const serviceName = "inbound_forwarder"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Inbound forwarder starting...", "webhook_timeout", cfg.WebhookTimeout)

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

	forwarder := inbound.NewForwarder(tenantpostgres.NewPgChatInstanceRepository(), dbPool, appLogger, cfg.WebhookTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = broker.ConsumeFromExchange(ctx, queueing.InboundExchange, "", forwarder.HandleDelivery, cfg.ConsumerPrefetch)
	if err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Consumer stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Inbound forwarder shut down.")
}

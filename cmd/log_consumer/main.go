package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/omnichat/gateway/internal/logsink"
	logpostgres "github.com/omnichat/gateway/internal/logsink/repository/postgres"
	"github.com/omnichat/gateway/internal/platform/config"
	"github.com/omnichat/gateway/internal/platform/database"
	"github.com/omnichat/gateway/internal/platform/logger"
	"github.com/omnichat/gateway/internal/platform/messagebroker"
	"github.com/omnichat/gateway/internal/queueing"
)

const serviceName = "log_consumer"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Log consumer starting...", "batch_size", cfg.LogBatchSize, "flush_interval", cfg.LogFlushInterval)

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

	if err := broker.DeclareExchange(queueing.LogsExchange, "topic", true); err != nil {
		appLogger.Error("Failed to declare logs exchange", "error", err)
		os.Exit(1)
	}
	if err := broker.DeclareQueue(queueing.LogsQueueName, true, nil); err != nil {
		appLogger.Error("Failed to declare logs queue", "error", err)
		os.Exit(1)
	}
	if err := broker.BindQueue(queueing.LogsQueueName, queueing.LogsExchange, queueing.LogsWildcardPattern); err != nil {
		appLogger.Error("Failed to bind logs queue", "error", err)
		os.Exit(1)
	}

	sink := logsink.NewSink(logpostgres.NewPgGatewayLogRepository(), dbPool, appLogger, logsink.Config{
		BatchSize:     cfg.LogBatchSize,
		FlushInterval: cfg.LogFlushInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broker.Consume(gCtx, queueing.LogsQueueName, sink.HandleDelivery, cfg.ConsumerPrefetch)
	})
	g.Go(func() error {
		return sink.RunFlusher(gCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Log consumer stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Log consumer shut down.")
}

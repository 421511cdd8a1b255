package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httptransport "github.com/omnichat/gateway/internal/api_service/transport/http"
	msgpostgres "github.com/omnichat/gateway/internal/messages/repository/postgres"
	outboxpostgres "github.com/omnichat/gateway/internal/outbox/repository/postgres"
	"github.com/omnichat/gateway/internal/phoneval"
	phonevalpostgres "github.com/omnichat/gateway/internal/phoneval/repository/postgres"
	"github.com/omnichat/gateway/internal/platform/config"
	"github.com/omnichat/gateway/internal/platform/database"
	"github.com/omnichat/gateway/internal/platform/logger"
	"github.com/omnichat/gateway/internal/platform/messagebroker"
	"github.com/omnichat/gateway/internal/providers"
	"github.com/omnichat/gateway/internal/queueing"
	queuepostgres "github.com/omnichat/gateway/internal/queueing/repository/postgres"
	tenantpostgres "github.com/omnichat/gateway/internal/tenant/repository/postgres"
)

const serviceName = "api_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("API service starting...", "port", cfg.APIServicePort)

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

	messageHandler := httptransport.NewMessageHandler(
		msgpostgres.NewPgMessageRepository(),
		outboxpostgres.NewPgOutboxRepository(),
		dbPool,
		appLogger,
	)
	registry := providers.NewRegistry(tenantpostgres.NewPgChatProviderRepository(), dbPool, appLogger, cfg.ProviderTimeout)
	dispatcher := providers.NewDispatcher(registry, tenantpostgres.NewPgChatInstanceRepository(), dbPool, appLogger)
	phoneValidator := phoneval.NewValidator(phonevalpostgres.NewPgValidatedPhoneRepository(), dbPool, dispatcher, appLogger)
	instanceHandler := httptransport.NewInstanceHandler(
		dispatcher,
		phoneValidator,
		tenantpostgres.NewPgChatInstanceRepository(),
		dbPool,
		appLogger,
	)
	adminHandler := httptransport.NewAdminHandler(topology, tenantpostgres.NewPgCompanyRepository(), dbPool, appLogger)

	router := httptransport.NewRouter(cfg.JWTSecret, messageHandler, instanceHandler, adminHandler, appLogger)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.APIServicePort), Handler: router}

	go func() {
		appLogger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quitChan
	appLogger.Info("Shutdown signal received, shutting down HTTP server...", "signal", sig.String())

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	}
	appLogger.Info("API service shut down.")
}

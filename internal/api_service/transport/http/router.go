package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omnichat/gateway/internal/api_service/middleware"
)

// NewRouter assembles the API service's routes.
func NewRouter(jwtSecret string, messageHandler *MessageHandler, instanceHandler *InstanceHandler, adminHandler *AdminHandler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Auth(jwtSecret, logger))
		messageHandler.RegisterRoutes(api)
		instanceHandler.RegisterRoutes(api)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.Auth(jwtSecret, logger))
		admin.Use(middleware.RequireAdmin)
		adminHandler.RegisterRoutes(admin)
	})

	return r
}

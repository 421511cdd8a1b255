package monitor

import (
	"context"
	"log/slog"
	"time"

	outboxrepo "github.com/omnichat/gateway/internal/outbox/repository"
	"github.com/omnichat/gateway/internal/queueing"
	tenantrepo "github.com/omnichat/gateway/internal/tenant/repository"
)

// HealthChecker probes one provider's backend liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context, providerID string) bool
}

// Config tunes the monitor loop.
type Config struct {
	CheckInterval          time.Duration
	CleanupEveryNTicks     int
	OutboxRetentionDays    int
	QueueIdleDays          int
	RateLimitRetentionDays int
}

// Service is the health-check/cleanup loop: every tick it probes active
// providers and persists their status; every Nth tick it also runs the
// retention sweeps.
type Service struct {
	providerRepo  tenantrepo.ChatProviderRepository
	rateLimitRepo tenantrepo.RateLimitRepository
	outboxRepo    outboxrepo.OutboxRepository
	topology      *queueing.TopologyManager
	checker       HealthChecker
	db            tenantrepo.Querier
	logger        *slog.Logger
	cfg           Config
}

// NewService wires a monitor service.
func NewService(
	providerRepo tenantrepo.ChatProviderRepository,
	rateLimitRepo tenantrepo.RateLimitRepository,
	outboxRepo outboxrepo.OutboxRepository,
	topology *queueing.TopologyManager,
	checker HealthChecker,
	db tenantrepo.Querier,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.CleanupEveryNTicks <= 0 {
		cfg.CleanupEveryNTicks = 60
	}
	return &Service{
		providerRepo:  providerRepo,
		rateLimitRepo: rateLimitRepo,
		outboxRepo:    outboxRepo,
		topology:      topology,
		checker:       checker,
		db:            db,
		logger:        logger.With("component", "monitor"),
		cfg:           cfg,
	}
}

// Run ticks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ticker.C:
			tick++
			s.CheckProviders(ctx)
			if tick%s.cfg.CleanupEveryNTicks == 0 {
				s.RunRetention(ctx)
			}
		case <-ctx.Done():
			s.logger.Info("monitor loop stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// CheckProviders probes every active provider and writes the result back so
// the admin surface sees current liveness.
func (s *Service) CheckProviders(ctx context.Context) {
	providers, err := s.providerRepo.ListActive(ctx, s.db)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list active providers", "error", err)
		return
	}
	for _, p := range providers {
		healthy := s.checker.HealthCheck(ctx, p.ID)
		if healthy != p.IsHealthy {
			s.logger.InfoContext(ctx, "provider health changed",
				"provider_id", p.ID, "company_id", p.CompanyID, "healthy", healthy)
		}
		if err := s.providerRepo.UpdateHealth(ctx, s.db, p.ID, healthy); err != nil {
			s.logger.WarnContext(ctx, "failed to persist provider health", "provider_id", p.ID, "error", err)
		}
	}
}

// RunRetention runs the outbox, rate-limit and idle-queue sweeps. Each sweep
// failure is logged and the others still run.
func (s *Service) RunRetention(ctx context.Context) {
	if deleted, err := s.outboxRepo.Cleanup(ctx, s.db, s.cfg.OutboxRetentionDays); err != nil {
		s.logger.ErrorContext(ctx, "outbox retention sweep failed", "error", err)
	} else if deleted > 0 {
		s.logger.InfoContext(ctx, "outbox retention sweep", "deleted", deleted)
	}

	if deleted, err := s.rateLimitRepo.Cleanup(ctx, s.db, s.cfg.RateLimitRetentionDays); err != nil {
		s.logger.ErrorContext(ctx, "rate-limit retention sweep failed", "error", err)
	} else if deleted > 0 {
		s.logger.InfoContext(ctx, "rate-limit retention sweep", "deleted", deleted)
	}

	if _, err := s.topology.SweepIdleQueues(ctx, s.cfg.QueueIdleDays); err != nil {
		s.logger.ErrorContext(ctx, "idle queue sweep failed", "error", err)
	}
}

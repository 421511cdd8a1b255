package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/omnichat/gateway/internal/core_domain"
	tenantrepo "github.com/omnichat/gateway/internal/tenant/repository"
)

// Registry resolves provider rows to backend clients and caches one client
// per provider id, so repeated sends against the same tenant reuse one HTTP
// client. It is an explicit object handed to workers at startup, never a
// package global.
type Registry struct {
	providerRepo tenantrepo.ChatProviderRepository
	db           tenantrepo.Querier
	httpClient   *http.Client
	logger       *slog.Logger

	mu      sync.RWMutex
	clients map[string]Backend
}

// NewRegistry builds a registry. timeout bounds every backend HTTP call.
func NewRegistry(providerRepo tenantrepo.ChatProviderRepository, db tenantrepo.Querier, logger *slog.Logger, timeout time.Duration) *Registry {
	if timeout <= 0 || timeout > 30*time.Second {
		timeout = 30 * time.Second
	}
	return &Registry{
		providerRepo: providerRepo,
		db:           db,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
		clients:      map[string]Backend{},
	}
}

// Backend returns the cached client for a provider id, building it on first
// use. The provider row is returned alongside for callers that need tenant or
// status fields.
func (r *Registry) Backend(ctx context.Context, providerID string) (Backend, *core_domain.ChatProvider, error) {
	prov, err := r.providerRepo.GetByID(ctx, r.db, providerID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving provider %s: %w", providerID, err)
	}
	if !prov.IsActive {
		return nil, nil, fmt.Errorf("provider %s is inactive", providerID)
	}

	r.mu.RLock()
	client, ok := r.clients[providerID]
	r.mu.RUnlock()
	if ok {
		return client, prov, nil
	}

	client, err = r.build(prov)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	if existing, ok := r.clients[providerID]; ok {
		client = existing
	} else {
		r.clients[providerID] = client
	}
	r.mu.Unlock()
	return client, prov, nil
}

func (r *Registry) build(prov *core_domain.ChatProvider) (Backend, error) {
	switch prov.Kind {
	case core_domain.ProviderKindZAPI:
		return NewZAPIClient(r.logger, prov.BaseURL, prov.APIToken, r.httpClient), nil
	case core_domain.ProviderKindWPPConnect:
		return NewWPPConnectClient(r.logger, prov.BaseURL, prov.APIToken, r.httpClient), nil
	case core_domain.ProviderKindMeta:
		return NewMetaClient(r.logger, prov.BaseURL, prov.APIToken, r.httpClient), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", prov.Kind)
	}
}

// Invalidate drops a cached client, forcing a rebuild on next use (e.g. after
// a token rotation).
func (r *Registry) Invalidate(providerID string) {
	r.mu.Lock()
	delete(r.clients, providerID)
	r.mu.Unlock()
}

package providers

import (
	"context"
	"fmt"
	"log/slog"

	tenantrepo "github.com/omnichat/gateway/internal/tenant/repository"
)

// Dispatcher sends messages through whichever backend a provider id maps to
// and normalizes every failure shape into a SendResult. Missing providers and
// instances short-circuit before any network call.
type Dispatcher struct {
	registry     *Registry
	instanceRepo tenantrepo.ChatInstanceRepository
	db           tenantrepo.Querier
	logger       *slog.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(registry *Registry, instanceRepo tenantrepo.ChatInstanceRepository, db tenantrepo.Querier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		instanceRepo: instanceRepo,
		db:           db,
		logger:       logger.With("component", "dispatch"),
	}
}

// SendMessage resolves the backend for (providerID, externalInstanceID) and
// sends. The result is always normalized; no provider error type escapes.
func (d *Dispatcher) SendMessage(ctx context.Context, providerID, externalInstanceID string, req SendRequest) *SendResult {
	backend, _, err := d.registry.Backend(ctx, providerID)
	if err != nil {
		return &SendResult{Success: false, Error: err.Error(), Retryable: false}
	}

	inst, err := d.instanceRepo.GetByExternalID(ctx, d.db, providerID, externalInstanceID)
	if err != nil {
		return &SendResult{Success: false, Error: fmt.Sprintf("resolving instance %s: %v", externalInstanceID, err), Retryable: false}
	}
	if !inst.IsActive {
		return &SendResult{Success: false, Error: fmt.Sprintf("instance %s is inactive", externalInstanceID), Retryable: false}
	}

	switch req.MessageType {
	case "media":
		if req.MediaURL == "" {
			return &SendResult{Success: false, Error: "media message without media_url", Retryable: false}
		}
		return backend.SendMedia(ctx, externalInstanceID, req.Phone, req.MediaURL, req.Content)
	default:
		return backend.SendText(ctx, externalInstanceID, req.Phone, req.Content)
	}
}

// NumberExists satisfies the phone validation cache's checker contract. A
// non-nil error means the probe failed and must not be memoized.
func (d *Dispatcher) NumberExists(ctx context.Context, providerID, externalInstanceID, phone string) (bool, string, error) {
	backend, _, err := d.registry.Backend(ctx, providerID)
	if err != nil {
		return false, "", err
	}
	check, err := backend.NumberExists(ctx, externalInstanceID, phone)
	if err != nil {
		return false, "", err
	}
	return check.Exists, check.ChatID, nil
}

// HealthCheck probes one provider's backend liveness.
func (d *Dispatcher) HealthCheck(ctx context.Context, providerID string) bool {
	backend, _, err := d.registry.Backend(ctx, providerID)
	if err != nil {
		d.logger.WarnContext(ctx, "health check could not resolve backend", "provider_id", providerID, "error", err)
		return false
	}
	return backend.HealthCheck(ctx)
}

// CreateGroup exposes the group capability uniformly.
func (d *Dispatcher) CreateGroup(ctx context.Context, providerID, externalInstanceID, name string, participants []string) *GroupResult {
	backend, _, err := d.registry.Backend(ctx, providerID)
	if err != nil {
		return &GroupResult{Success: false, Error: err.Error()}
	}
	return backend.CreateGroup(ctx, externalInstanceID, name, participants)
}

// ListContacts exposes the contacts capability uniformly.
func (d *Dispatcher) ListContacts(ctx context.Context, providerID, externalInstanceID string) ([]Contact, error) {
	backend, _, err := d.registry.Backend(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return backend.ListContacts(ctx, externalInstanceID)
}

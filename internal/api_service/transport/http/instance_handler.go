package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/omnichat/gateway/internal/api_service/middleware"
	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/phoneval"
	"github.com/omnichat/gateway/internal/providers"
	tenantrepo "github.com/omnichat/gateway/internal/tenant/repository"
	tenantpostgres "github.com/omnichat/gateway/internal/tenant/repository/postgres"
)

// ChatOperations is the provider capability slice the instance routes expose.
type ChatOperations interface {
	CreateGroup(ctx context.Context, providerID, externalInstanceID, name string, participants []string) *providers.GroupResult
	ListContacts(ctx context.Context, providerID, externalInstanceID string) ([]providers.Contact, error)
}

// PhoneRevalidator refreshes the cached verdict for one number.
type PhoneRevalidator interface {
	Revalidate(ctx context.Context, providerID, instanceID, rawNumber string) *phoneval.Result
}

// InstanceHandler exposes per-instance provider operations: group creation,
// contact listing and the explicit re-check of a cached phone validation.
type InstanceHandler struct {
	chatOps      ChatOperations
	revalidator  PhoneRevalidator
	instanceRepo tenantrepo.ChatInstanceRepository
	db           tenantrepo.Querier
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewInstanceHandler wires an instance handler.
func NewInstanceHandler(
	chatOps ChatOperations,
	revalidator PhoneRevalidator,
	instanceRepo tenantrepo.ChatInstanceRepository,
	db tenantrepo.Querier,
	logger *slog.Logger,
) *InstanceHandler {
	return &InstanceHandler{
		chatOps:      chatOps,
		revalidator:  revalidator,
		instanceRepo: instanceRepo,
		db:           db,
		validate:     validator.New(),
		logger:       logger.With("handler", "instance"),
	}
}

// RegisterRoutes registers instance routes with the given router.
func (h *InstanceHandler) RegisterRoutes(r chi.Router) {
	r.Post("/instances/{externalInstanceID}/groups", h.handleCreateGroup)
	r.Get("/instances/{externalInstanceID}/contacts", h.handleListContacts)
	r.Post("/instances/{externalInstanceID}/phone-checks", h.handleRevalidatePhone)
}

// resolveInstance loads the instance and enforces tenant ownership. A foreign
// tenant's instance looks like absence, not denial, same as message reads.
func (h *InstanceHandler) resolveInstance(w http.ResponseWriter, r *http.Request, providerID string) (*core_domain.ChatInstance, bool) {
	ctx := r.Context()
	tenant, ok := middleware.TenantFrom(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated", "unauthenticated")
		return nil, false
	}
	externalInstanceID := chi.URLParam(r, "externalInstanceID")

	inst, err := h.instanceRepo.GetByExternalID(ctx, h.db, providerID, externalInstanceID)
	if err != nil {
		if errors.Is(err, tenantpostgres.ErrInstanceNotFound) {
			writeError(w, http.StatusNotFound, "instance not found", "not_found")
			return nil, false
		}
		h.logger.ErrorContext(ctx, "failed to load instance", "external_instance_id", externalInstanceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load instance", "internal")
		return nil, false
	}
	if inst.CompanyID != tenant.CompanyID {
		writeError(w, http.StatusNotFound, "instance not found", "not_found")
		return nil, false
	}
	if !inst.IsActive {
		writeError(w, http.StatusConflict, "instance is inactive", "instance_inactive")
		return nil, false
	}
	return inst, true
}

func (h *InstanceHandler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload: "+err.Error(), "bad_request")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation failed: "+err.Error(), "validation")
		return
	}

	inst, ok := h.resolveInstance(w, r, req.ProviderID)
	if !ok {
		return
	}

	result := h.chatOps.CreateGroup(ctx, req.ProviderID, inst.ExternalID, req.Name, req.Participants)
	if !result.Success {
		h.logger.WarnContext(ctx, "group creation failed", "external_instance_id", inst.ExternalID, "error", result.Error)
		writeError(w, http.StatusBadGateway, result.Error, "provider_error")
		return
	}
	writeJSON(w, http.StatusCreated, CreateGroupResponse{GroupID: result.GroupID})
}

func (h *InstanceHandler) handleListContacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	providerID := r.URL.Query().Get("provider_id")
	if providerID == "" {
		writeError(w, http.StatusBadRequest, "provider_id query parameter is required", "bad_request")
		return
	}

	inst, ok := h.resolveInstance(w, r, providerID)
	if !ok {
		return
	}

	contacts, err := h.chatOps.ListContacts(ctx, providerID, inst.ExternalID)
	if err != nil {
		h.logger.WarnContext(ctx, "contact listing failed", "external_instance_id", inst.ExternalID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to list contacts", "provider_error")
		return
	}
	writeJSON(w, http.StatusOK, ListContactsResponse{Contacts: contacts})
}

func (h *InstanceHandler) handleRevalidatePhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RevalidatePhoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload: "+err.Error(), "bad_request")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation failed: "+err.Error(), "validation")
		return
	}

	inst, ok := h.resolveInstance(w, r, req.ProviderID)
	if !ok {
		return
	}

	result := h.revalidator.Revalidate(ctx, req.ProviderID, inst.ExternalID, req.Phone)
	if result.ErrorCode == phoneval.ErrCodeProviderUnavailable {
		writeError(w, http.StatusServiceUnavailable, "provider unavailable, cached verdict unchanged", "provider_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

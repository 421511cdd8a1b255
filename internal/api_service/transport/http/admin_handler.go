package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnichat/gateway/internal/queueing"
	tenantrepo "github.com/omnichat/gateway/internal/tenant/repository"
	tenantpostgres "github.com/omnichat/gateway/internal/tenant/repository/postgres"
)

// AdminHandler exposes tenant topology provisioning to operators.
type AdminHandler struct {
	topology    *queueing.TopologyManager
	companyRepo tenantrepo.CompanyRepository
	dbPool      *pgxpool.Pool
	logger      *slog.Logger
}

// NewAdminHandler wires an admin handler.
func NewAdminHandler(topology *queueing.TopologyManager, companyRepo tenantrepo.CompanyRepository, dbPool *pgxpool.Pool, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		topology:    topology,
		companyRepo: companyRepo,
		dbPool:      dbPool,
		logger:      logger.With("handler", "admin"),
	}
}

// RegisterRoutes registers admin routes with the given router.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Post("/companies/{companyID}/provision", h.handleProvision)
	r.Delete("/companies/{companyID}/provision", h.handleDeprovision)
}

func (h *AdminHandler) companyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "companyID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid company id", "bad_request")
		return 0, false
	}
	return id, true
}

func (h *AdminHandler) handleProvision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}

	if _, err := h.companyRepo.GetByID(ctx, h.dbPool, companyID); err != nil {
		if errors.Is(err, tenantpostgres.ErrCompanyNotFound) {
			writeError(w, http.StatusNotFound, "company not found", "not_found")
			return
		}
		h.logger.ErrorContext(ctx, "failed to load company", "company_id", companyID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load company", "internal")
		return
	}

	if err := h.topology.ProvisionTenant(ctx, companyID); err != nil {
		h.logger.ErrorContext(ctx, "tenant provisioning failed", "company_id", companyID, "error", err)
		writeError(w, http.StatusInternalServerError, "provisioning failed", "internal")
		return
	}
	writeJSON(w, http.StatusOK, ProvisionResponse{CompanyID: companyID, Result: "provisioned"})
}

func (h *AdminHandler) handleDeprovision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, ok := h.companyID(w, r)
	if !ok {
		return
	}

	if err := h.topology.DeprovisionTenant(ctx, companyID); err != nil {
		h.logger.ErrorContext(ctx, "tenant deprovisioning failed", "company_id", companyID, "error", err)
		writeError(w, http.StatusInternalServerError, "deprovisioning failed", "internal")
		return
	}
	writeJSON(w, http.StatusOK, ProvisionResponse{CompanyID: companyID, Result: "deprovisioned"})
}

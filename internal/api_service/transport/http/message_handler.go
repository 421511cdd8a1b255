package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnichat/gateway/internal/api_service/middleware"
	"github.com/omnichat/gateway/internal/core_domain"
	msgrepo "github.com/omnichat/gateway/internal/messages/repository"
	msgpostgres "github.com/omnichat/gateway/internal/messages/repository/postgres"
	outboxrepo "github.com/omnichat/gateway/internal/outbox/repository"
	"github.com/omnichat/gateway/internal/queueing"
)

// MessageHandler accepts outbound messages. The message row and its outbox
// record commit in one transaction, so a message either exists with a
// guaranteed future publish or not at all.
type MessageHandler struct {
	messageRepo msgrepo.MessageRepository
	outboxRepo  outboxrepo.OutboxRepository
	dbPool      *pgxpool.Pool
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewMessageHandler wires a message handler.
func NewMessageHandler(
	messageRepo msgrepo.MessageRepository,
	outboxRepo outboxrepo.OutboxRepository,
	dbPool *pgxpool.Pool,
	logger *slog.Logger,
) *MessageHandler {
	return &MessageHandler{
		messageRepo: messageRepo,
		outboxRepo:  outboxRepo,
		dbPool:      dbPool,
		validate:    validator.New(),
		logger:      logger.With("handler", "message"),
	}
}

// RegisterRoutes registers message routes with the given router.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleSendMessage)
	r.Get("/messages/{messageID}", h.handleGetMessage)
}

func (h *MessageHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := middleware.TenantFrom(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated", "unauthenticated")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload: "+err.Error(), "bad_request")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation failed: "+err.Error(), "validation")
		return
	}

	level := req.Priority
	if level == "" {
		level = queueing.PriorityNormal
	}

	msg := &core_domain.Message{
		CompanyID:          tenant.CompanyID,
		ProviderID:         req.ProviderID,
		ExternalInstanceID: req.ExternalInstanceID,
		PhoneTo:            req.PhoneTo,
		MessageType:        req.MessageType,
		Content:            req.Content,
		Status:             core_domain.MessageStatusQueued,
	}
	if req.MediaURL != "" {
		msg.MediaURL = &req.MediaURL
	}

	queueName := queueing.OutboundQueueName(tenant.CompanyID, level)
	txErr := pgx.BeginFunc(ctx, h.dbPool, func(tx pgx.Tx) error {
		if err := h.messageRepo.Create(ctx, tx, msg); err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]any{
			"message_id":           msg.ID,
			"provider_id":          msg.ProviderID,
			"external_instance_id": msg.ExternalInstanceID,
			"phone_to":             msg.PhoneTo,
			"message_type":         msg.MessageType,
			"content":              msg.Content,
			"media_url":            req.MediaURL,
			"priority":             queueing.PriorityCeiling(level),
		})
		if err != nil {
			return err
		}
		return h.outboxRepo.Enqueue(ctx, tx, &core_domain.OutboxRecord{
			QueueName:  queueName,
			RoutingKey: queueing.OutboundRoutingKey(tenant.CompanyID, level),
			Payload:    payload,
		})
	})
	if txErr != nil {
		h.logger.ErrorContext(ctx, "failed to accept message", "company_id", tenant.CompanyID, "error", txErr)
		writeError(w, http.StatusInternalServerError, "failed to queue message", "internal")
		return
	}

	h.logger.InfoContext(ctx, "message accepted", "message_id", msg.ID, "company_id", tenant.CompanyID, "queue", queueName)
	writeJSON(w, http.StatusAccepted, SendMessageResponse{
		MessageID: msg.ID,
		Status:    msg.Status,
		QueueName: queueName,
	})
}

func (h *MessageHandler) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := middleware.TenantFrom(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated", "unauthenticated")
		return
	}

	messageID := chi.URLParam(r, "messageID")
	msg, err := h.messageRepo.GetByID(ctx, h.dbPool, messageID)
	if err != nil {
		if errors.Is(err, msgpostgres.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "message not found", "not_found")
			return
		}
		h.logger.ErrorContext(ctx, "failed to load message", "message_id", messageID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load message", "internal")
		return
	}
	if msg.CompanyID != tenant.CompanyID {
		// Cross-tenant reads look like absence, not denial.
		writeError(w, http.StatusNotFound, "message not found", "not_found")
		return
	}

	writeJSON(w, http.StatusOK, MessageStatusResponse{
		ID:           msg.ID,
		PhoneTo:      msg.PhoneTo,
		MessageType:  msg.MessageType,
		Status:       msg.Status,
		ExternalID:   msg.ExternalID,
		ErrorMessage: msg.ErrorMessage,
		CreatedAt:    msg.CreatedAt,
		UpdatedAt:    msg.UpdatedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

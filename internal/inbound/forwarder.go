package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/omnichat/gateway/internal/platform/messagebroker"
	tenantrepo "github.com/omnichat/gateway/internal/tenant/repository"
)

// SourceHeader marks forwarded webhooks so tenant endpoints can recognize the
// gateway as the caller.
const SourceHeader = "X-Gateway-Source"

// SourceValue is the constant header value.
const SourceValue = "omnichat-gateway"

// Event is the already-translated inbound event fanned out to tenants.
type Event struct {
	CompanyID          int64           `json:"company_id"`
	ProviderID         string          `json:"provider_id"`
	ExternalInstanceID string          `json:"external_instance_id"`
	EventType          string          `json:"event_type"`
	Payload            json.RawMessage `json:"payload"`
}

// Forwarder consumes the inbound lane and POSTs each event to the tenant's
// configured callback URL. Forwarding is best-effort: failures are logged and
// the delivery is acked regardless, inbound events are never retried against
// the client's endpoint.
type Forwarder struct {
	instanceRepo tenantrepo.ChatInstanceRepository
	db           tenantrepo.Querier
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewForwarder wires a forwarder; timeout bounds the callback POST.
func NewForwarder(instanceRepo tenantrepo.ChatInstanceRepository, db tenantrepo.Querier, logger *slog.Logger, timeout time.Duration) *Forwarder {
	if timeout <= 0 || timeout > 30*time.Second {
		timeout = 15 * time.Second
	}
	return &Forwarder{
		instanceRepo: instanceRepo,
		db:           db,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.With("component", "inbound_forwarder"),
	}
}

// HandleDelivery forwards one inbound event. Always returns OutcomeAck.
func (f *Forwarder) HandleDelivery(ctx context.Context, d amqp.Delivery) messagebroker.Outcome {
	var event Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		f.logger.ErrorContext(ctx, "undecodable inbound event", "error", err)
		return messagebroker.OutcomeAck
	}

	inst, err := f.instanceRepo.GetByExternalID(ctx, f.db, event.ProviderID, event.ExternalInstanceID)
	if err != nil {
		f.logger.WarnContext(ctx, "inbound event for unknown instance",
			"provider_id", event.ProviderID, "external_instance_id", event.ExternalInstanceID, "error", err)
		return messagebroker.OutcomeAck
	}
	if inst.WebhookURL == nil || *inst.WebhookURL == "" {
		f.logger.DebugContext(ctx, "instance has no webhook URL, dropping event",
			"instance_id", inst.ID, "event_type", event.EventType)
		return messagebroker.OutcomeAck
	}

	if err := f.forward(ctx, *inst.WebhookURL, d.Body); err != nil {
		f.logger.WarnContext(ctx, "webhook forward failed",
			"instance_id", inst.ID, "url", *inst.WebhookURL, "error", err)
	}
	return messagebroker.OutcomeAck
}

func (f *Forwarder) forward(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SourceHeader, SourceValue)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		f.logger.Warn("webhook endpoint returned non-success", "url", url, "status", resp.StatusCode)
	}
	return nil
}

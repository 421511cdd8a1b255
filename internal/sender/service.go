package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/omnichat/gateway/internal/core_domain"
	msgrepo "github.com/omnichat/gateway/internal/messages/repository"
	msgpostgres "github.com/omnichat/gateway/internal/messages/repository/postgres"
	"github.com/omnichat/gateway/internal/phoneval"
	"github.com/omnichat/gateway/internal/platform/messagebroker"
	"github.com/omnichat/gateway/internal/providers"
)

// OutboundPayload is the message-queue document published into a tenant's
// priority lane.
type OutboundPayload struct {
	MessageID          string `json:"message_id"`
	ProviderID         string `json:"provider_id"`
	ExternalInstanceID string `json:"external_instance_id"`
	PhoneTo            string `json:"phone_to"`
	MessageType        string `json:"message_type"`
	Content            string `json:"content,omitempty"`
	MediaURL           string `json:"media_url,omitempty"`
	Priority           *uint8 `json:"priority,omitempty"`
}

// PhoneValidator gates sends on number existence.
type PhoneValidator interface {
	Validate(ctx context.Context, providerID, instanceID, rawNumber string) *phoneval.Result
}

// MessageDispatcher sends through the resolved backend.
type MessageDispatcher interface {
	SendMessage(ctx context.Context, providerID, externalInstanceID string, req providers.SendRequest) *providers.SendResult
}

// Service consumes outbound lanes, validates the destination number,
// dispatches through the provider and owns every Message status transition
// past "processing".
type Service struct {
	messageRepo msgrepo.MessageRepository
	db          msgrepo.Querier
	validator   PhoneValidator
	dispatcher  MessageDispatcher
	logger      *slog.Logger
}

// NewService wires a sender service.
func NewService(
	messageRepo msgrepo.MessageRepository,
	db msgrepo.Querier,
	validator PhoneValidator,
	dispatcher MessageDispatcher,
	logger *slog.Logger,
) *Service {
	return &Service{
		messageRepo: messageRepo,
		db:          db,
		validator:   validator,
		dispatcher:  dispatcher,
		logger:      logger.With("component", "sender"),
	}
}

// HandleDelivery processes one lane delivery and maps the result onto the
// transport's tri-state outcome.
func (s *Service) HandleDelivery(ctx context.Context, d amqp.Delivery) messagebroker.Outcome {
	var payload OutboundPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		// Undecodable payloads go through the counted path so they end up in
		// the DLQ for inspection instead of being dropped or looping.
		s.logger.ErrorContext(ctx, "undecodable outbound payload", "error", err, "routing_key", d.RoutingKey)
		return messagebroker.OutcomeRetry
	}
	if payload.MessageID == "" {
		s.logger.ErrorContext(ctx, "outbound payload without message_id", "routing_key", d.RoutingKey)
		return messagebroker.OutcomeRetry
	}

	log := s.logger.With("message_id", payload.MessageID, "provider_id", payload.ProviderID)

	if err := s.messageRepo.MarkProcessing(ctx, s.db, payload.MessageID); err != nil {
		if errors.Is(err, msgpostgres.ErrMessageNotFound) {
			// Already terminal or never existed; nothing left to do here.
			log.WarnContext(ctx, "message not claimable, acking", "error", err)
			return messagebroker.OutcomeAck
		}
		log.ErrorContext(ctx, "failed to claim message", "error", err)
		return messagebroker.OutcomeRequeue
	}

	lastAttempt := messagebroker.RetryCount(d.Headers) >= messagebroker.MaxRetries

	validation := s.validator.Validate(ctx, payload.ProviderID, payload.ExternalInstanceID, payload.PhoneTo)
	switch {
	case validation.ErrorCode == phoneval.ErrCodeProviderUnavailable:
		phoneValidationCounter.WithLabelValues("transient_error").Inc()
		return s.retryOrFail(ctx, log, payload.MessageID, lastAttempt, "phone validation unavailable")
	case !validation.IsValid:
		if validation.FromCache {
			phoneValidationCounter.WithLabelValues("cache_hit").Inc()
		} else {
			phoneValidationCounter.WithLabelValues("checked_invalid").Inc()
		}
		s.markTerminal(ctx, log, payload.MessageID, core_domain.MessageStatusError,
			fmt.Sprintf("phone number %s does not exist on the platform", validation.ValidatedNumber))
		messagesProcessedCounter.WithLabelValues("invalid_number").Inc()
		return messagebroker.OutcomeAck
	case validation.FromCache:
		phoneValidationCounter.WithLabelValues("cache_hit").Inc()
	default:
		phoneValidationCounter.WithLabelValues("checked_valid").Inc()
	}

	start := time.Now()
	result := s.dispatcher.SendMessage(ctx, payload.ProviderID, payload.ExternalInstanceID, providers.SendRequest{
		ExternalInstanceID: payload.ExternalInstanceID,
		Phone:              validation.ValidatedNumber,
		MessageType:        payload.MessageType,
		Content:            payload.Content,
		MediaURL:           payload.MediaURL,
	})
	dispatchDurationHist.WithLabelValues(payload.ProviderID).Observe(time.Since(start).Seconds())

	switch {
	case result.Success:
		if err := s.messageRepo.MarkSent(ctx, s.db, payload.MessageID, result.MessageID); err != nil {
			log.ErrorContext(ctx, "failed to mark message sent", "error", err)
		}
		messagesProcessedCounter.WithLabelValues("sent").Inc()
		log.InfoContext(ctx, "message dispatched", "external_id", result.MessageID)
		return messagebroker.OutcomeAck
	case result.Retryable:
		return s.retryOrFail(ctx, log, payload.MessageID, lastAttempt, result.Error)
	default:
		s.markTerminal(ctx, log, payload.MessageID, core_domain.MessageStatusError, result.Error)
		messagesProcessedCounter.WithLabelValues("provider_error").Inc()
		return messagebroker.OutcomeAck
	}
}

// retryOrFail returns the message to queued for the next counted attempt, or
// marks it failed when this delivery was the last one before the DLQ.
func (s *Service) retryOrFail(ctx context.Context, log *slog.Logger, messageID string, lastAttempt bool, reason string) messagebroker.Outcome {
	if lastAttempt {
		s.markTerminal(ctx, log, messageID, core_domain.MessageStatusFailed,
			"retries exhausted: "+reason)
		messagesProcessedCounter.WithLabelValues("dead_lettered").Inc()
	} else {
		if err := s.messageRepo.MarkQueued(ctx, s.db, messageID); err != nil {
			log.WarnContext(ctx, "failed to requeue message status", "error", err)
		}
		messagesProcessedCounter.WithLabelValues("retried").Inc()
	}
	log.WarnContext(ctx, "transient send failure", "reason", reason, "last_attempt", lastAttempt)
	return messagebroker.OutcomeRetry
}

func (s *Service) markTerminal(ctx context.Context, log *slog.Logger, messageID string, status core_domain.MessageStatus, errMsg string) {
	if err := s.messageRepo.MarkTerminalFailure(ctx, s.db, messageID, status, errMsg); err != nil {
		log.ErrorContext(ctx, "failed to mark message terminal", "status", status, "error", err)
	}
}

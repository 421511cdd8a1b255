package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/omnichat/gateway/internal/outbox/repository"
	"github.com/omnichat/gateway/internal/queueing"
	queuerepo "github.com/omnichat/gateway/internal/queueing/repository"
)

// Publisher is the slice of the transport the processor needs.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8) error
}

// ProcessorConfig tunes one drain pass.
type ProcessorConfig struct {
	BatchSize  int
	StaleAfter time.Duration
}

// Processor drains pending outbox records into the broker. This is the
// boundary where "logically sent" becomes "physically handed to the broker".
type Processor struct {
	repo         repository.OutboxRepository
	metadataRepo queuerepo.QueueMetadataRepository
	db           repository.Querier
	publisher    Publisher
	logger       *slog.Logger
	cfg          ProcessorConfig
}

// NewProcessor wires an outbox processor.
func NewProcessor(
	repo repository.OutboxRepository,
	metadataRepo queuerepo.QueueMetadataRepository,
	db repository.Querier,
	publisher Publisher,
	logger *slog.Logger,
	cfg ProcessorConfig,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Processor{
		repo:         repo,
		metadataRepo: metadataRepo,
		db:           db,
		publisher:    publisher,
		logger:       logger.With("component", "outbox_processor"),
		cfg:          cfg,
	}
}

// payloadPriority is the one field the processor reads out of the otherwise
// opaque payload document.
type payloadPriority struct {
	Priority *uint8 `json:"priority,omitempty"`
}

// Drain claims one batch and publishes each record, marking it completed or
// failed. Returns how many records were published and how many failed.
func (p *Processor) Drain(ctx context.Context) (published, failed int, err error) {
	records, err := p.repo.ClaimPending(ctx, p.db, p.cfg.BatchSize, p.cfg.StaleAfter)
	if err != nil {
		return 0, 0, err
	}

	for _, rec := range records {
		exchange := queueing.ExchangeForQueue(rec.QueueName)
		routingKey := rec.RoutingKey
		if exchange == "" && routingKey == "" {
			// Default exchange routes by queue name.
			routingKey = rec.QueueName
		}

		var prio payloadPriority
		_ = json.Unmarshal(rec.Payload, &prio)
		var priority uint8
		if prio.Priority != nil {
			priority = *prio.Priority
		}

		if pubErr := p.publisher.Publish(ctx, exchange, routingKey, rec.Payload, priority); pubErr != nil {
			failed++
			p.logger.Warn("outbox publish failed",
				"record_id", rec.ID, "queue", rec.QueueName, "attempt", rec.AttemptCount, "error", pubErr)
			if markErr := p.repo.MarkFailed(ctx, p.db, rec.ID, pubErr.Error()); markErr != nil {
				p.logger.Error("failed to mark outbox record failed", "record_id", rec.ID, "error", markErr)
			}
			continue
		}

		if markErr := p.repo.MarkCompleted(ctx, p.db, rec.ID); markErr != nil {
			p.logger.Error("failed to mark outbox record completed", "record_id", rec.ID, "error", markErr)
		}
		if touchErr := p.metadataRepo.TouchActivity(ctx, p.db, rec.QueueName); touchErr != nil {
			p.logger.Warn("failed to touch queue activity", "queue", rec.QueueName, "error", touchErr)
		}
		published++
	}

	if published > 0 || failed > 0 {
		p.logger.Info("outbox drain pass", "published", published, "failed", failed, "claimed", len(records))
	}
	return published, failed, nil
}

// Cleanup removes terminal records older than the retention window.
func (p *Processor) Cleanup(ctx context.Context, daysOld int) (int64, error) {
	return p.repo.Cleanup(ctx, p.db, daysOld)
}

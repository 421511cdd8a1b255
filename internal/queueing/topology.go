package queueing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/omnichat/gateway/internal/queueing/repository"
)

// MaxLaneLength bounds every priority lane; the oldest message is dropped on
// overflow rather than letting a stalled tenant grow without limit.
const MaxLaneLength = 10000

// Broker is the slice of the transport the topology manager needs.
type Broker interface {
	DeclareExchange(name, kind string, durable bool) error
	DeclareQueue(name string, durable bool, args amqp.Table) error
	BindQueue(queue, exchange, routingKey string) error
	DeleteQueue(name string) error
	InspectQueue(name string) (int, error)
}

// TopologyManager provisions and tears down per-tenant broker topology and
// keeps the queue_metadata table in step with it.
type TopologyManager struct {
	broker       Broker
	metadataRepo repository.QueueMetadataRepository
	db           repository.Querier
	logger       *slog.Logger
}

// NewTopologyManager wires a topology manager.
func NewTopologyManager(broker Broker, metadataRepo repository.QueueMetadataRepository, db repository.Querier, logger *slog.Logger) *TopologyManager {
	return &TopologyManager{
		broker:       broker,
		metadataRepo: metadataRepo,
		db:           db,
		logger:       logger.With("component", "topology"),
	}
}

// DeclareExchanges declares the fixed exchange set. Idempotent; every worker
// calls this at startup so exchange existence never depends on boot order.
func (t *TopologyManager) DeclareExchanges() error {
	exchanges := []struct {
		name string
		kind string
	}{
		{OutboundExchange, "topic"},
		{InboundExchange, "fanout"},
		{EventsExchange, "topic"},
		{RetryExchange, "topic"},
		{DLQExchange, "direct"},
		{LogsExchange, "topic"},
	}
	for _, ex := range exchanges {
		if err := t.broker.DeclareExchange(ex.name, ex.kind, true); err != nil {
			return fmt.Errorf("declaring exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

// DeclareSenderQueue declares the shared durable queue sender instances
// compete on and binds it to every tenant's outbound routing key. One queue
// with many consumers is what makes the broker deliver each message to
// exactly one sender; its dead-letter exchange preserves the original lane
// routing key, so an exhausted delivery lands in that lane's DLQ.
func (t *TopologyManager) DeclareSenderQueue() error {
	args := amqp.Table{
		"x-max-priority":         int32(PriorityCeiling(PriorityHigh)),
		"x-dead-letter-exchange": DLQExchange,
	}
	if err := t.broker.DeclareQueue(OutboundSenderQueue, true, args); err != nil {
		return fmt.Errorf("declaring sender queue %s: %w", OutboundSenderQueue, err)
	}
	if err := t.broker.BindQueue(OutboundSenderQueue, OutboundExchange, OutboundWildcardPattern); err != nil {
		return fmt.Errorf("binding sender queue %s: %w", OutboundSenderQueue, err)
	}
	return nil
}

// ProvisionTenant declares the tenant's three priority lanes (each with its
// own DLQ), the inbound lane and the events lane, and upserts metadata for
// every queue. Safe to call repeatedly: redeclaring identical queues and
// bindings is a broker no-op and the metadata upsert only refreshes activity.
func (t *TopologyManager) ProvisionTenant(ctx context.Context, companyID int64) error {
	if err := t.DeclareExchanges(); err != nil {
		return err
	}

	for _, level := range PriorityLevels {
		queueName := OutboundQueueName(companyID, level)
		dlqName := DLQName(queueName)

		if err := t.broker.DeclareQueue(dlqName, true, nil); err != nil {
			return fmt.Errorf("declaring DLQ %s: %w", dlqName, err)
		}
		// Two routes into the DLQ: lane-queue deaths arrive under the explicit
		// dead-letter routing key, while deaths from consumer queues with no
		// x-dead-letter-routing-key keep the original lane routing key.
		if err := t.broker.BindQueue(dlqName, DLQExchange, dlqName); err != nil {
			return fmt.Errorf("binding DLQ %s: %w", dlqName, err)
		}
		if err := t.broker.BindQueue(dlqName, DLQExchange, OutboundRoutingKey(companyID, level)); err != nil {
			return fmt.Errorf("binding DLQ %s: %w", dlqName, err)
		}

		args := amqp.Table{
			"x-max-priority":            int32(PriorityCeiling(level)),
			"x-dead-letter-exchange":    DLQExchange,
			"x-dead-letter-routing-key": dlqName,
			"x-max-length":              int32(MaxLaneLength),
			"x-overflow":                "drop-head",
		}
		if err := t.broker.DeclareQueue(queueName, true, args); err != nil {
			return fmt.Errorf("declaring lane %s: %w", queueName, err)
		}
		if err := t.broker.BindQueue(queueName, OutboundExchange, OutboundRoutingKey(companyID, level)); err != nil {
			return fmt.Errorf("binding lane %s: %w", queueName, err)
		}

		for _, name := range []string{queueName, dlqName} {
			if err := t.metadataRepo.Upsert(ctx, t.db, companyID, name); err != nil {
				return fmt.Errorf("recording metadata for %s: %w", name, err)
			}
		}
	}

	inboundQueue := InboundQueueName(companyID)
	if err := t.broker.DeclareQueue(inboundQueue, true, nil); err != nil {
		return fmt.Errorf("declaring inbound lane %s: %w", inboundQueue, err)
	}
	if err := t.broker.BindQueue(inboundQueue, InboundExchange, InboundRoutingKey(companyID)); err != nil {
		return fmt.Errorf("binding inbound lane %s: %w", inboundQueue, err)
	}
	if err := t.metadataRepo.Upsert(ctx, t.db, companyID, inboundQueue); err != nil {
		return fmt.Errorf("recording metadata for %s: %w", inboundQueue, err)
	}

	eventsQueue := EventsQueueName(companyID)
	if err := t.broker.DeclareQueue(eventsQueue, true, nil); err != nil {
		return fmt.Errorf("declaring events lane %s: %w", eventsQueue, err)
	}
	if err := t.broker.BindQueue(eventsQueue, EventsExchange, EventsBindingPattern(companyID)); err != nil {
		return fmt.Errorf("binding events lane %s: %w", eventsQueue, err)
	}
	if err := t.metadataRepo.Upsert(ctx, t.db, companyID, eventsQueue); err != nil {
		return fmt.Errorf("recording metadata for %s: %w", eventsQueue, err)
	}

	t.logger.Info("tenant provisioned", "company_id", companyID)
	return nil
}

// DeprovisionTenant deletes every queue recorded for the tenant and its
// metadata rows. Best-effort: per-queue failures are logged, the batch
// continues.
func (t *TopologyManager) DeprovisionTenant(ctx context.Context, companyID int64) error {
	queues, err := t.metadataRepo.ListByCompany(ctx, t.db, companyID)
	if err != nil {
		return fmt.Errorf("listing queues for company %d: %w", companyID, err)
	}
	for _, q := range queues {
		if err := t.broker.DeleteQueue(q.QueueName); err != nil {
			t.logger.Warn("failed to delete queue during deprovision",
				"queue", q.QueueName, "company_id", companyID, "error", err)
		}
	}
	if err := t.metadataRepo.DeleteByCompany(ctx, t.db, companyID); err != nil {
		return fmt.Errorf("deleting metadata for company %d: %w", companyID, err)
	}
	t.logger.Info("tenant deprovisioned", "company_id", companyID, "queues", len(queues))
	return nil
}

// SweepIdleQueues deletes queues that have been inactive beyond the threshold
// and are currently empty, flipping their metadata inactive. A queue with any
// backlog is never deleted, no matter how long it has been idle.
func (t *TopologyManager) SweepIdleQueues(ctx context.Context, inactiveDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -inactiveDays)
	candidates, err := t.metadataRepo.ListIdleActive(ctx, t.db, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing idle queues: %w", err)
	}

	swept := 0
	for _, q := range candidates {
		backlog, err := t.broker.InspectQueue(q.QueueName)
		if err != nil {
			t.logger.Warn("failed to inspect idle queue, skipping", "queue", q.QueueName, "error", err)
			continue
		}
		if backlog > 0 {
			t.logger.Debug("idle queue still has backlog, keeping", "queue", q.QueueName, "messages", backlog)
			continue
		}
		if err := t.broker.DeleteQueue(q.QueueName); err != nil {
			t.logger.Warn("failed to delete idle queue", "queue", q.QueueName, "error", err)
			continue
		}
		if err := t.metadataRepo.Deactivate(ctx, t.db, q.QueueName); err != nil {
			t.logger.Warn("failed to deactivate queue metadata", "queue", q.QueueName, "error", err)
			continue
		}
		swept++
	}
	if swept > 0 {
		t.logger.Info("idle queue sweep completed", "swept", swept, "candidates", len(candidates))
	}
	return swept, nil
}

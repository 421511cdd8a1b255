package queueing

import (
	"fmt"
	"strings"

	"github.com/omnichat/gateway/internal/platform/messagebroker"
)

// Exchange names are part of the wire contract shared with every producer and
// consumer; they must not change between releases. The dead-letter exchange
// name belongs to the transport, which targets it from every queue it
// declares itself.
const (
	OutboundExchange = "messaging.outbound.exchange"    // topic
	InboundExchange  = "messaging.inbound.exchange"     // fanout
	EventsExchange   = "events.exchange"                // topic
	RetryExchange    = "retry.exchange"                 // topic
	DLQExchange      = messagebroker.DeadLetterExchange // direct
	LogsExchange     = "logs.exchange"                  // topic
)

// Priority lane levels and their AMQP priority ceilings.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// PriorityLevels lists the lanes provisioned per tenant, highest first.
var PriorityLevels = []string{PriorityHigh, PriorityNormal, PriorityLow}

// PriorityCeiling returns the numeric x-max-priority for a lane level.
func PriorityCeiling(level string) uint8 {
	switch level {
	case PriorityHigh:
		return 10
	case PriorityNormal:
		return 5
	default:
		return 1
	}
}

// OutboundQueueName returns the tenant's priority lane queue name.
func OutboundQueueName(companyID int64, level string) string {
	return fmt.Sprintf("outbound.company.%d.priority.%s", companyID, level)
}

// DLQName returns the dead-letter queue name for a lane.
func DLQName(queueName string) string {
	return queueName + ".dlq"
}

// InboundQueueName returns the tenant's inbound lane queue name.
func InboundQueueName(companyID int64) string {
	return fmt.Sprintf("inbound.company.%d", companyID)
}

// EventsQueueName returns the tenant's events lane queue name.
func EventsQueueName(companyID int64) string {
	return fmt.Sprintf("events.company.%d", companyID)
}

// OutboundRoutingKey returns the routing key an outbound publish uses for a
// tenant and priority level.
func OutboundRoutingKey(companyID int64, level string) string {
	return fmt.Sprintf("company.%d.priority.%s", companyID, level)
}

// OutboundWildcardPattern matches every tenant's outbound routing key; the
// shared sender queue is bound with it.
const OutboundWildcardPattern = "company.*.priority.*"

// OutboundSenderQueue is the one durable queue every sender instance consumes.
// Competing consumers on a single queue is how the broker load-balances;
// binding per-instance queues to the wildcard would copy each message to
// every instance instead.
const OutboundSenderQueue = "outbound.sender"

// InboundRoutingKey returns the routing key for a tenant's inbound events.
func InboundRoutingKey(companyID int64) string {
	return fmt.Sprintf("company.%d", companyID)
}

// EventsBindingPattern returns the binding pattern for a tenant's events lane.
func EventsBindingPattern(companyID int64) string {
	return fmt.Sprintf("event.*.%d", companyID)
}

// LogsRoutingKey returns the routing key for one log level.
func LogsRoutingKey(level string) string {
	return "logs." + level
}

// LogsQueueName is the single queue the log consumer drains.
const LogsQueueName = "gateway.logs"

// LogsWildcardPattern binds the logs queue to every level.
const LogsWildcardPattern = "logs.*"

// ExchangeForQueue derives the destination exchange from a queue name prefix.
// Outbox records persist only {queue_name, routing_key}; the exchange is a
// naming-convention function of the queue, not stored data.
func ExchangeForQueue(queueName string) string {
	switch {
	case strings.HasPrefix(queueName, "outbound."):
		return OutboundExchange
	case strings.HasPrefix(queueName, "inbound."):
		return InboundExchange
	case strings.HasPrefix(queueName, "events."):
		return EventsExchange
	case strings.HasPrefix(queueName, "gateway.logs"), strings.HasPrefix(queueName, "logs."):
		return LogsExchange
	default:
		// Default exchange: routed directly to the queue by name.
		return ""
	}
}

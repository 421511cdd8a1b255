package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MaxRetries is the delivery retry ceiling. Once a delivery has been retried
// this many times it is nacked without requeue so the queue's dead-letter
// binding routes it to the DLQ instead of looping forever.
const MaxRetries = 3

// RetryCountHeader carries the number of times a delivery has already been
// retried through the republish path.
const RetryCountHeader = "x-retry-count"

// DeadLetterExchange receives deliveries that exhaust their retries. The
// transport owns the bounded-retry policy, so it owns this name too; the
// topology layer binds per-lane DLQs to it. Every queue the transport itself
// declares carries it as the dead-letter target, so a nack at the retry
// ceiling always leaves a DLQ trail instead of deleting the message.
const DeadLetterExchange = "dlq.exchange"

// Outcome is the tri-state result a consumer handler reports for one delivery.
type Outcome int

const (
	// OutcomeAck acknowledges the delivery; processing succeeded or the
	// failure is terminal and has been recorded elsewhere.
	OutcomeAck Outcome = iota
	// OutcomeRequeue nacks with requeue for immediate redelivery, without
	// touching the retry count. Used when the worker itself could not run
	// (e.g. local resources unavailable), not when processing failed.
	OutcomeRequeue
	// OutcomeRetry escalates through the counted retry path: the delivery is
	// republished with an incremented retry header, and once the ceiling is
	// reached it is dead-lettered.
	OutcomeRetry
)

// Handler processes one delivery and reports how to settle it. Panics are
// recovered by the consume loop and treated as OutcomeRetry.
type Handler func(ctx context.Context, d amqp.Delivery) Outcome

// channelOps is the slice of the AMQP channel the settle path uses.
// *amqp.Channel satisfies it; tests substitute a recording fake.
type channelOps interface {
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQClient wraps one AMQP connection and channel for a worker process.
type RabbitMQClient struct {
	logger *slog.Logger
	conn   *amqp.Connection
	ch     *amqp.Channel

	mu     sync.Mutex
	closed bool
}

// NewRabbitMQClient dials the broker and opens the process's single channel.
func NewRabbitMQClient(url, appName string, logger *slog.Logger) (*RabbitMQClient, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": appName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &RabbitMQClient{
		logger: logger.With("component", "rabbitmq"),
		conn:   conn,
		ch:     ch,
	}, nil
}

// DeclareExchange declares an exchange; redeclaring with the same arguments is
// a no-op on the broker side.
func (c *RabbitMQClient) DeclareExchange(name, kind string, durable bool) error {
	if err := c.ch.ExchangeDeclare(name, kind, durable, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", name, err)
	}
	return nil
}

// DeclareQueue declares a queue with the given arguments (dead-letter routing,
// max length, priority ceiling and so on).
func (c *RabbitMQClient) DeclareQueue(name string, durable bool, args amqp.Table) error {
	if _, err := c.ch.QueueDeclare(name, durable, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", name, err)
	}
	return nil
}

// BindQueue binds a queue to an exchange under a routing key.
func (c *RabbitMQClient) BindQueue(queue, exchange, routingKey string) error {
	if err := c.ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q to %q: %w", queue, exchange, err)
	}
	return nil
}

// DeleteQueue removes a queue regardless of its contents.
func (c *RabbitMQClient) DeleteQueue(name string) error {
	if _, err := c.ch.QueueDelete(name, false, false, false); err != nil {
		return fmt.Errorf("failed to delete queue %q: %w", name, err)
	}
	return nil
}

// InspectQueue returns the number of ready messages in a queue via a passive
// declare. The sweep uses this as its data-loss guard: a non-empty queue is
// never deleted. A passive declare on a missing queue closes the channel it
// runs on, so inspection uses a throwaway channel and the client's channel
// stays usable afterwards.
func (c *RabbitMQClient) InspectQueue(name string) (int, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("failed to open inspection channel: %w", err)
	}
	defer ch.Close()
	q, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %q: %w", name, err)
	}
	return q.Messages, nil
}

// Publish hands one persistent message to the local channel. A nil error means
// "accepted by the channel", not "persisted by the broker"; durability beyond
// that point is the broker's responsibility.
func (c *RabbitMQClient) Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("publish on closed client")
	}
	err := c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     priority,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %q/%q: %w", exchange, routingKey, err)
	}
	return nil
}

// Consume attaches a handler to a named queue and blocks until ctx is
// cancelled or the delivery channel closes. The in-flight delivery is always
// settled before returning.
func (c *RabbitMQClient) Consume(ctx context.Context, queue string, handler Handler, prefetch int) error {
	return c.consume(ctx, queue, false, handler, prefetch)
}

// ConsumeFromExchange declares a server-named exclusive auto-delete queue,
// binds it to the exchange under the routing pattern and consumes from it.
// Broadcast consumers use this to tap a fan-out without pre-declared queues:
// each instance gets its own temporary queue and therefore its own copy of
// every delivery. The temporary queue carries the dead-letter exchange so a
// retried delivery hitting the ceiling still leaves a DLQ trail.
func (c *RabbitMQClient) ConsumeFromExchange(ctx context.Context, exchange, routingPattern string, handler Handler, prefetch int) error {
	q, err := c.ch.QueueDeclare("", false, true, true, false, amqp.Table{
		"x-dead-letter-exchange": DeadLetterExchange,
	})
	if err != nil {
		return fmt.Errorf("failed to declare temporary queue: %w", err)
	}
	if err := c.ch.QueueBind(q.Name, routingPattern, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind temporary queue to %q: %w", exchange, err)
	}
	return c.consume(ctx, q.Name, true, handler, prefetch)
}

func (c *RabbitMQClient) consume(ctx context.Context, queue string, exclusive bool, handler Handler, prefetch int) error {
	if prefetch > 0 {
		if err := c.ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set prefetch: %w", err)
		}
	}
	deliveries, err := c.ch.Consume(queue, "", false, exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consumer on %q: %w", queue, err)
	}
	c.logger.Info("consumer started", "queue", queue, "prefetch", prefetch)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "queue", queue)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %q", queue)
			}
			c.settle(ctx, c.ch, d, c.runHandler(ctx, d, handler))
		}
	}
}

// runHandler invokes the handler, converting panics into OutcomeRetry so an
// unexpected bug in a consumer callback follows the bounded-retry path instead
// of crashing the worker or dropping the delivery.
func (c *RabbitMQClient) runHandler(ctx context.Context, d amqp.Delivery, handler Handler) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in consumer handler", "panic", r, "routing_key", d.RoutingKey)
			out = OutcomeRetry
		}
	}()
	return handler(ctx, d)
}

func (c *RabbitMQClient) settle(ctx context.Context, ops channelOps, d amqp.Delivery, outcome Outcome) {
	switch outcome {
	case OutcomeAck:
		if err := ops.Ack(d.DeliveryTag, false); err != nil {
			c.logger.Error("failed to ack delivery", "error", err)
		}
	case OutcomeRequeue:
		if err := ops.Nack(d.DeliveryTag, false, true); err != nil {
			c.logger.Error("failed to nack delivery", "error", err)
		}
	case OutcomeRetry:
		c.retryOrDeadLetter(ctx, ops, d)
	}
}

// retryOrDeadLetter implements the bounded-retry policy: republish with an
// incremented retry header until the ceiling, then nack without requeue so the
// queue's dead-letter exchange takes over. A delivery is never requeued
// indefinitely and never dropped without a DLQ trail.
func (c *RabbitMQClient) retryOrDeadLetter(ctx context.Context, ops channelOps, d amqp.Delivery) {
	count := RetryCount(d.Headers)
	if count >= MaxRetries {
		c.logger.Warn("retry ceiling reached, dead-lettering",
			"routing_key", d.RoutingKey, "retries", count)
		if err := ops.Nack(d.DeliveryTag, false, false); err != nil {
			c.logger.Error("failed to dead-letter delivery", "error", err)
		}
		return
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryCountHeader] = count + 1

	c.mu.Lock()
	err := ops.PublishWithContext(ctx, d.Exchange, d.RoutingKey, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Priority:     d.Priority,
		Headers:      headers,
		Timestamp:    time.Now().UTC(),
		Body:         d.Body,
	})
	c.mu.Unlock()
	if err != nil {
		// Could not republish; keep the message alive on the original queue.
		c.logger.Error("failed to republish for retry, requeueing", "error", err)
		if nackErr := ops.Nack(d.DeliveryTag, false, true); nackErr != nil {
			c.logger.Error("failed to requeue delivery", "error", nackErr)
		}
		return
	}
	if err := ops.Ack(d.DeliveryTag, false); err != nil {
		c.logger.Error("failed to ack retried delivery", "error", err)
	}
}

// RetryCount reads the retry header from a delivery's headers, tolerating the
// integer widths different clients write.
func RetryCount(headers amqp.Table) int64 {
	if headers == nil {
		return 0
	}
	switch v := headers[RetryCountHeader].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Close shuts the channel and connection down. Safe to call more than once and
// from a signal handler.
func (c *RabbitMQClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.logger.Warn("error closing channel", "error", err)
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("error closing connection", "error", err)
		}
	}
}

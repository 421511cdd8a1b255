package messagebroker

import (
	"context"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nackCall struct {
	tag     uint64
	requeue bool
}

type publishCall struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

// fakeChannelOps records the settle path's channel interactions.
type fakeChannelOps struct {
	acks       []uint64
	nacks      []nackCall
	published  []publishCall
	publishErr error
}

func (f *fakeChannelOps) Ack(tag uint64, multiple bool) error {
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeChannelOps) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks = append(f.nacks, nackCall{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeChannelOps) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishCall{exchange: exchange, key: key, msg: msg})
	return nil
}

func testClient() *RabbitMQClient {
	return &RabbitMQClient{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func outboundDelivery(tag uint64, retries int64) amqp.Delivery {
	d := amqp.Delivery{
		DeliveryTag: tag,
		Exchange:    "messaging.outbound.exchange",
		RoutingKey:  "company.7.priority.high",
		Priority:    10,
		Body:        []byte(`{"message_id":"m-1"}`),
	}
	if retries > 0 {
		d.Headers = amqp.Table{RetryCountHeader: retries}
	}
	return d
}

func TestSettleAcksOnAckOutcome(t *testing.T) {
	ops := &fakeChannelOps{}
	testClient().settle(context.Background(), ops, outboundDelivery(11, 0), OutcomeAck)

	assert.Equal(t, []uint64{11}, ops.acks)
	assert.Empty(t, ops.nacks)
	assert.Empty(t, ops.published)
}

func TestSettleRequeuesOnRequeueOutcome(t *testing.T) {
	ops := &fakeChannelOps{}
	testClient().settle(context.Background(), ops, outboundDelivery(11, 0), OutcomeRequeue)

	assert.Equal(t, []nackCall{{tag: 11, requeue: true}}, ops.nacks)
	assert.Empty(t, ops.acks)
	assert.Empty(t, ops.published)
}

func TestRetryRepublishesWithIncrementedHeader(t *testing.T) {
	ops := &fakeChannelOps{}
	testClient().settle(context.Background(), ops, outboundDelivery(42, 1), OutcomeRetry)

	require.Len(t, ops.published, 1)
	pub := ops.published[0]
	assert.Equal(t, "messaging.outbound.exchange", pub.exchange)
	assert.Equal(t, "company.7.priority.high", pub.key)
	assert.Equal(t, int64(2), pub.msg.Headers[RetryCountHeader])
	assert.Equal(t, uint8(10), pub.msg.Priority)
	assert.Equal(t, []byte(`{"message_id":"m-1"}`), pub.msg.Body)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)

	// The original delivery is acked only after the republish succeeded.
	assert.Equal(t, []uint64{42}, ops.acks)
	assert.Empty(t, ops.nacks)
}

func TestRetryFirstAttemptStartsHeaderAtOne(t *testing.T) {
	ops := &fakeChannelOps{}
	testClient().settle(context.Background(), ops, outboundDelivery(42, 0), OutcomeRetry)

	require.Len(t, ops.published, 1)
	assert.Equal(t, int64(1), ops.published[0].msg.Headers[RetryCountHeader])
	assert.Equal(t, []uint64{42}, ops.acks)
}

func TestRetryCeilingNacksWithoutRequeue(t *testing.T) {
	ops := &fakeChannelOps{}
	testClient().settle(context.Background(), ops, outboundDelivery(42, MaxRetries), OutcomeRetry)

	// No republish and no ack: the nack without requeue hands the delivery to
	// the queue's dead-letter exchange.
	assert.Equal(t, []nackCall{{tag: 42, requeue: false}}, ops.nacks)
	assert.Empty(t, ops.published)
	assert.Empty(t, ops.acks)
}

func TestRetryRepublishFailureRequeuesOriginal(t *testing.T) {
	ops := &fakeChannelOps{publishErr: assert.AnError}
	testClient().settle(context.Background(), ops, outboundDelivery(42, 1), OutcomeRetry)

	// The message stays alive on its original queue, retry count untouched.
	assert.Equal(t, []nackCall{{tag: 42, requeue: true}}, ops.nacks)
	assert.Empty(t, ops.acks)
}

func TestRetryCountToleratesIntegerWidths(t *testing.T) {
	assert.Equal(t, int64(0), RetryCount(nil))
	assert.Equal(t, int64(0), RetryCount(amqp.Table{}))
	assert.Equal(t, int64(2), RetryCount(amqp.Table{RetryCountHeader: int64(2)}))
	assert.Equal(t, int64(2), RetryCount(amqp.Table{RetryCountHeader: int32(2)}))
	assert.Equal(t, int64(2), RetryCount(amqp.Table{RetryCountHeader: int(2)}))
	assert.Equal(t, int64(2), RetryCount(amqp.Table{RetryCountHeader: float64(2)}))
	assert.Equal(t, int64(0), RetryCount(amqp.Table{RetryCountHeader: "2"}))
}

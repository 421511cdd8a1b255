package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/outbox/repository"
	"github.com/omnichat/gateway/internal/queueing"
	queuerepo "github.com/omnichat/gateway/internal/queueing/repository"
)

type mockOutboxRepo struct {
	mock.Mock
}

func (m *mockOutboxRepo) Enqueue(ctx context.Context, q repository.Querier, rec *core_domain.OutboxRecord) error {
	args := m.Called(ctx, q, rec)
	return args.Error(0)
}

func (m *mockOutboxRepo) ClaimPending(ctx context.Context, q repository.Querier, batchSize int, staleAfter time.Duration) ([]core_domain.OutboxRecord, error) {
	args := m.Called(ctx, q, batchSize, staleAfter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core_domain.OutboxRecord), args.Error(1)
}

func (m *mockOutboxRepo) MarkCompleted(ctx context.Context, q repository.Querier, id string) error {
	args := m.Called(ctx, q, id)
	return args.Error(0)
}

func (m *mockOutboxRepo) MarkFailed(ctx context.Context, q repository.Querier, id string, reason string) error {
	args := m.Called(ctx, q, id, reason)
	return args.Error(0)
}

func (m *mockOutboxRepo) Cleanup(ctx context.Context, q repository.Querier, daysOld int) (int64, error) {
	args := m.Called(ctx, q, daysOld)
	return args.Get(0).(int64), args.Error(1)
}

type mockMetadataRepo struct {
	mock.Mock
}

func (m *mockMetadataRepo) Upsert(ctx context.Context, q queuerepo.Querier, companyID int64, queueName string) error {
	args := m.Called(ctx, q, companyID, queueName)
	return args.Error(0)
}

func (m *mockMetadataRepo) TouchActivity(ctx context.Context, q queuerepo.Querier, queueName string) error {
	args := m.Called(ctx, q, queueName)
	return args.Error(0)
}

func (m *mockMetadataRepo) ListByCompany(ctx context.Context, q queuerepo.Querier, companyID int64) ([]core_domain.QueueMetadata, error) {
	args := m.Called(ctx, q, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core_domain.QueueMetadata), args.Error(1)
}

func (m *mockMetadataRepo) ListIdleActive(ctx context.Context, q queuerepo.Querier, inactiveSince time.Time) ([]core_domain.QueueMetadata, error) {
	args := m.Called(ctx, q, inactiveSince)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core_domain.QueueMetadata), args.Error(1)
}

func (m *mockMetadataRepo) Deactivate(ctx context.Context, q queuerepo.Querier, queueName string) error {
	args := m.Called(ctx, q, queueName)
	return args.Error(0)
}

func (m *mockMetadataRepo) DeleteByCompany(ctx context.Context, q queuerepo.Querier, companyID int64) error {
	args := m.Called(ctx, q, companyID)
	return args.Error(0)
}

// fakePublisher records publishes and fails on demand.
type fakePublisher struct {
	published []publishedMessage
	failOn    map[string]error // routing key -> error
}

type publishedMessage struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Priority   uint8
}

func (f *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8) error {
	if err := f.failOn[routingKey]; err != nil {
		return err
	}
	f.published = append(f.published, publishedMessage{exchange, routingKey, body, priority})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDrainPublishesClaimedRecords(t *testing.T) {
	repo := new(mockOutboxRepo)
	metaRepo := new(mockMetadataRepo)
	pub := &fakePublisher{}

	payload := json.RawMessage(`{"message_id":"m1","priority":5}`)
	records := []core_domain.OutboxRecord{{
		ID:         "rec-1",
		QueueName:  "outbound.company.7.priority.normal",
		RoutingKey: "company.7.priority.normal",
		Payload:    payload,
	}}
	repo.On("ClaimPending", mock.Anything, mock.Anything, 100, 5*time.Minute).Return(records, nil)
	repo.On("MarkCompleted", mock.Anything, mock.Anything, "rec-1").Return(nil)
	metaRepo.On("TouchActivity", mock.Anything, mock.Anything, "outbound.company.7.priority.normal").Return(nil)

	p := NewProcessor(repo, metaRepo, nil, pub, testLogger(), ProcessorConfig{BatchSize: 100, StaleAfter: 5 * time.Minute})
	published, failed, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, 0, failed)

	require.Len(t, pub.published, 1)
	assert.Equal(t, queueing.OutboundExchange, pub.published[0].Exchange)
	assert.Equal(t, "company.7.priority.normal", pub.published[0].RoutingKey)
	assert.Equal(t, uint8(5), pub.published[0].Priority)
	repo.AssertExpectations(t)
	metaRepo.AssertExpectations(t)
}

func TestDrainMarksFailedOnPublishError(t *testing.T) {
	repo := new(mockOutboxRepo)
	metaRepo := new(mockMetadataRepo)
	pubErr := errors.New("channel closed")
	pub := &fakePublisher{failOn: map[string]error{"company.7.priority.low": pubErr}}

	records := []core_domain.OutboxRecord{{
		ID:         "rec-1",
		QueueName:  "outbound.company.7.priority.low",
		RoutingKey: "company.7.priority.low",
		Payload:    json.RawMessage(`{"message_id":"m1"}`),
	}}
	repo.On("ClaimPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(records, nil)
	repo.On("MarkFailed", mock.Anything, mock.Anything, "rec-1", pubErr.Error()).Return(nil)

	p := NewProcessor(repo, metaRepo, nil, pub, testLogger(), ProcessorConfig{})
	published, failed, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, published)
	assert.Equal(t, 1, failed)

	repo.AssertExpectations(t)
	metaRepo.AssertNotCalled(t, "TouchActivity", mock.Anything, mock.Anything, mock.Anything)
}

func TestDrainPropagatesClaimError(t *testing.T) {
	repo := new(mockOutboxRepo)
	claimErr := errors.New("deadlock detected")
	repo.On("ClaimPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, claimErr)

	p := NewProcessor(repo, new(mockMetadataRepo), nil, &fakePublisher{}, testLogger(), ProcessorConfig{})
	_, _, err := p.Drain(context.Background())
	assert.ErrorIs(t, err, claimErr)
}

func TestDrainRoutesUnknownQueueThroughDefaultExchange(t *testing.T) {
	repo := new(mockOutboxRepo)
	metaRepo := new(mockMetadataRepo)
	pub := &fakePublisher{}

	records := []core_domain.OutboxRecord{{
		ID:        "rec-1",
		QueueName: "adhoc.work",
		Payload:   json.RawMessage(`{}`),
	}}
	repo.On("ClaimPending", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(records, nil)
	repo.On("MarkCompleted", mock.Anything, mock.Anything, "rec-1").Return(nil)
	metaRepo.On("TouchActivity", mock.Anything, mock.Anything, "adhoc.work").Return(nil)

	p := NewProcessor(repo, metaRepo, nil, pub, testLogger(), ProcessorConfig{})
	published, _, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "", pub.published[0].Exchange)
	assert.Equal(t, "adhoc.work", pub.published[0].RoutingKey)
}

package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/platform/messagebroker"
	tenantrepo "github.com/omnichat/gateway/internal/tenant/repository"
)

type mockInstanceRepo struct {
	mock.Mock
}

func (m *mockInstanceRepo) GetByExternalID(ctx context.Context, q tenantrepo.Querier, providerID, externalID string) (*core_domain.ChatInstance, error) {
	args := m.Called(ctx, q, providerID, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.ChatInstance), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(Event{
		CompanyID:          7,
		ProviderID:         "prov-1",
		ExternalInstanceID: "inst-1",
		EventType:          "message.received",
		Payload:            json.RawMessage(`{"from":"558498537596","text":"oi"}`),
	})
	require.NoError(t, err)
	return body
}

func TestHandleDeliveryForwardsToWebhook(t *testing.T) {
	var received []byte
	var sourceHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceHeader = r.Header.Get(SourceHeader)
		received, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	repo := new(mockInstanceRepo)
	url := srv.URL
	repo.On("GetByExternalID", mock.Anything, mock.Anything, "prov-1", "inst-1").
		Return(&core_domain.ChatInstance{ID: "i1", WebhookURL: &url, IsActive: true}, nil)

	f := NewForwarder(repo, nil, testLogger(), 5*time.Second)
	body := eventBody(t)
	out := f.HandleDelivery(context.Background(), amqp.Delivery{Body: body})

	assert.Equal(t, messagebroker.OutcomeAck, out)
	assert.Equal(t, SourceValue, sourceHeader)
	assert.JSONEq(t, string(body), string(received))
}

func TestHandleDeliveryAcksOnWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	repo := new(mockInstanceRepo)
	url := srv.URL
	repo.On("GetByExternalID", mock.Anything, mock.Anything, "prov-1", "inst-1").
		Return(&core_domain.ChatInstance{ID: "i1", WebhookURL: &url, IsActive: true}, nil)

	f := NewForwarder(repo, nil, testLogger(), time.Second)
	out := f.HandleDelivery(context.Background(), amqp.Delivery{Body: eventBody(t)})
	assert.Equal(t, messagebroker.OutcomeAck, out)
}

func TestHandleDeliveryAcksOnUnknownInstance(t *testing.T) {
	repo := new(mockInstanceRepo)
	repo.On("GetByExternalID", mock.Anything, mock.Anything, "prov-1", "inst-1").
		Return(nil, errors.New("instance not found"))

	f := NewForwarder(repo, nil, testLogger(), time.Second)
	out := f.HandleDelivery(context.Background(), amqp.Delivery{Body: eventBody(t)})
	assert.Equal(t, messagebroker.OutcomeAck, out)
}

func TestHandleDeliveryAcksWhenNoWebhookConfigured(t *testing.T) {
	repo := new(mockInstanceRepo)
	repo.On("GetByExternalID", mock.Anything, mock.Anything, "prov-1", "inst-1").
		Return(&core_domain.ChatInstance{ID: "i1", WebhookURL: nil, IsActive: true}, nil)

	f := NewForwarder(repo, nil, testLogger(), time.Second)
	out := f.HandleDelivery(context.Background(), amqp.Delivery{Body: eventBody(t)})
	assert.Equal(t, messagebroker.OutcomeAck, out)
}

func TestHandleDeliveryAcksUndecodableEvent(t *testing.T) {
	f := NewForwarder(new(mockInstanceRepo), nil, testLogger(), time.Second)
	out := f.HandleDelivery(context.Background(), amqp.Delivery{Body: []byte("not json")})
	assert.Equal(t, messagebroker.OutcomeAck, out)
}

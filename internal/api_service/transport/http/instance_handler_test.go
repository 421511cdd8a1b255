package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/omnichat/gateway/internal/api_service/middleware"
	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/phoneval"
	"github.com/omnichat/gateway/internal/providers"
	tenantrepo "github.com/omnichat/gateway/internal/tenant/repository"
	tenantpostgres "github.com/omnichat/gateway/internal/tenant/repository/postgres"
)

const testProviderID = "7f9c24e5-1b14-4ea9-a8a0-0c0b6dca4efc"

type mockChatOps struct {
	mock.Mock
}

func (m *mockChatOps) CreateGroup(ctx context.Context, providerID, externalInstanceID, name string, participants []string) *providers.GroupResult {
	args := m.Called(ctx, providerID, externalInstanceID, name, participants)
	return args.Get(0).(*providers.GroupResult)
}

func (m *mockChatOps) ListContacts(ctx context.Context, providerID, externalInstanceID string) ([]providers.Contact, error) {
	args := m.Called(ctx, providerID, externalInstanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]providers.Contact), args.Error(1)
}

type mockRevalidator struct {
	mock.Mock
}

func (m *mockRevalidator) Revalidate(ctx context.Context, providerID, instanceID, rawNumber string) *phoneval.Result {
	args := m.Called(ctx, providerID, instanceID, rawNumber)
	return args.Get(0).(*phoneval.Result)
}

type fakeInstanceRepo struct {
	instance *core_domain.ChatInstance
	err      error
}

func (f *fakeInstanceRepo) GetByExternalID(ctx context.Context, q tenantrepo.Querier, providerID, externalID string) (*core_domain.ChatInstance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.instance, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeInstance(companyID int64) *core_domain.ChatInstance {
	return &core_domain.ChatInstance{
		ID:         "inst-1",
		CompanyID:  companyID,
		ProviderID: testProviderID,
		ExternalID: "wa-main",
		IsActive:   true,
	}
}

// instanceTestRouter serves instance routes with a pre-authenticated tenant.
func instanceTestRouter(h *InstanceHandler, companyID int64) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			tenant := middleware.AuthenticatedTenant{CompanyID: companyID, Subject: "user-1"}
			ctx := context.WithValue(req.Context(), middleware.AuthenticatedTenantContextKey, tenant)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.RegisterRoutes(r)
	return r
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestCreateGroupReturnsCreated(t *testing.T) {
	chatOps := new(mockChatOps)
	chatOps.On("CreateGroup", mock.Anything, testProviderID, "wa-main", "support", []string{"5584998537596"}).
		Return(&providers.GroupResult{Success: true, GroupID: "g-1"})

	h := NewInstanceHandler(chatOps, new(mockRevalidator), &fakeInstanceRepo{instance: activeInstance(7)}, nil, testLogger())
	router := instanceTestRouter(h, 7)

	body := jsonBody(t, CreateGroupRequest{ProviderID: testProviderID, Name: "support", Participants: []string{"5584998537596"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/instances/wa-main/groups", body))

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp CreateGroupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "g-1", resp.GroupID)
	chatOps.AssertExpectations(t)
}

func TestCreateGroupProviderFailureIsBadGateway(t *testing.T) {
	chatOps := new(mockChatOps)
	chatOps.On("CreateGroup", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&providers.GroupResult{Success: false, Error: "group already exists"})

	h := NewInstanceHandler(chatOps, new(mockRevalidator), &fakeInstanceRepo{instance: activeInstance(7)}, nil, testLogger())
	router := instanceTestRouter(h, 7)

	body := jsonBody(t, CreateGroupRequest{ProviderID: testProviderID, Name: "support", Participants: []string{"5584998537596"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/instances/wa-main/groups", body))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCreateGroupRejectsInvalidPayload(t *testing.T) {
	h := NewInstanceHandler(new(mockChatOps), new(mockRevalidator), &fakeInstanceRepo{instance: activeInstance(7)}, nil, testLogger())
	router := instanceTestRouter(h, 7)

	// Missing name and participants.
	body := jsonBody(t, CreateGroupRequest{ProviderID: testProviderID})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/instances/wa-main/groups", body))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateGroupForeignInstanceLooksAbsent(t *testing.T) {
	chatOps := new(mockChatOps)
	h := NewInstanceHandler(chatOps, new(mockRevalidator), &fakeInstanceRepo{instance: activeInstance(9)}, nil, testLogger())
	router := instanceTestRouter(h, 7)

	body := jsonBody(t, CreateGroupRequest{ProviderID: testProviderID, Name: "support", Participants: []string{"5584998537596"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/instances/wa-main/groups", body))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	chatOps.AssertNotCalled(t, "CreateGroup", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateGroupInactiveInstanceConflicts(t *testing.T) {
	inst := activeInstance(7)
	inst.IsActive = false
	h := NewInstanceHandler(new(mockChatOps), new(mockRevalidator), &fakeInstanceRepo{instance: inst}, nil, testLogger())
	router := instanceTestRouter(h, 7)

	body := jsonBody(t, CreateGroupRequest{ProviderID: testProviderID, Name: "support", Participants: []string{"5584998537596"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/instances/wa-main/groups", body))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListContactsReturnsContacts(t *testing.T) {
	chatOps := new(mockChatOps)
	chatOps.On("ListContacts", mock.Anything, testProviderID, "wa-main").
		Return([]providers.Contact{{Phone: "5584998537596", Name: "Ana"}}, nil)

	h := NewInstanceHandler(chatOps, new(mockRevalidator), &fakeInstanceRepo{instance: activeInstance(7)}, nil, testLogger())
	router := instanceTestRouter(h, 7)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances/wa-main/contacts?provider_id="+testProviderID, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp ListContactsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Contacts, 1)
	assert.Equal(t, "Ana", resp.Contacts[0].Name)
}

func TestListContactsRequiresProviderID(t *testing.T) {
	h := NewInstanceHandler(new(mockChatOps), new(mockRevalidator), &fakeInstanceRepo{instance: activeInstance(7)}, nil, testLogger())
	router := instanceTestRouter(h, 7)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances/wa-main/contacts", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListContactsUnknownInstanceIsNotFound(t *testing.T) {
	h := NewInstanceHandler(new(mockChatOps), new(mockRevalidator), &fakeInstanceRepo{err: tenantpostgres.ErrInstanceNotFound}, nil, testLogger())
	router := instanceTestRouter(h, 7)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances/gone/contacts?provider_id="+testProviderID, nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevalidatePhoneRefreshesVerdict(t *testing.T) {
	revalidator := new(mockRevalidator)
	revalidator.On("Revalidate", mock.Anything, testProviderID, "wa-main", "5584998537596").
		Return(&phoneval.Result{ValidatedNumber: "558498537596", IsValid: true})

	h := NewInstanceHandler(new(mockChatOps), revalidator, &fakeInstanceRepo{instance: activeInstance(7)}, nil, testLogger())
	router := instanceTestRouter(h, 7)

	body := jsonBody(t, RevalidatePhoneRequest{ProviderID: testProviderID, Phone: "5584998537596"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/instances/wa-main/phone-checks", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp phoneval.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsValid)
	assert.Equal(t, "558498537596", resp.ValidatedNumber)
	revalidator.AssertExpectations(t)
}

func TestRevalidatePhoneProviderUnavailable(t *testing.T) {
	revalidator := new(mockRevalidator)
	revalidator.On("Revalidate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&phoneval.Result{ValidatedNumber: "5584998537596", IsValid: false, ErrorCode: phoneval.ErrCodeProviderUnavailable})

	h := NewInstanceHandler(new(mockChatOps), revalidator, &fakeInstanceRepo{instance: activeInstance(7)}, nil, testLogger())
	router := instanceTestRouter(h, 7)

	body := jsonBody(t, RevalidatePhoneRequest{ProviderID: testProviderID, Phone: "5584998537596"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/instances/wa-main/phone-checks", body))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

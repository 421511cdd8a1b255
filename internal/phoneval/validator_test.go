package phoneval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/phoneval/repository"
	pvpostgres "github.com/omnichat/gateway/internal/phoneval/repository/postgres"
)

type mockPhoneRepo struct {
	mock.Mock
}

func (m *mockPhoneRepo) Get(ctx context.Context, q repository.Querier, instanceID, originalNumber string) (*core_domain.ValidatedPhoneNumber, error) {
	args := m.Called(ctx, q, instanceID, originalNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.ValidatedPhoneNumber), args.Error(1)
}

func (m *mockPhoneRepo) Upsert(ctx context.Context, q repository.Querier, entry *core_domain.ValidatedPhoneNumber) error {
	args := m.Called(ctx, q, entry)
	return args.Error(0)
}

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) NumberExists(ctx context.Context, providerID, externalInstanceID, phone string) (bool, string, error) {
	args := m.Called(ctx, providerID, externalInstanceID, phone)
	return args.Bool(0), args.String(1), args.Error(2)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidateNonBrazilianTrustedWithoutProbe(t *testing.T) {
	repo := new(mockPhoneRepo)
	checker := new(mockChecker)
	v := NewValidator(repo, nil, checker, testLogger())

	res := v.Validate(context.Background(), "prov", "inst", "+1 (415) 555-0123")
	assert.True(t, res.IsValid)
	assert.False(t, res.FromCache)
	assert.Equal(t, "14155550123", res.ValidatedNumber)

	checker.AssertNotCalled(t, "NumberExists", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidateCacheHitSkipsProbe(t *testing.T) {
	repo := new(mockPhoneRepo)
	checker := new(mockChecker)
	repo.On("Get", mock.Anything, mock.Anything, "inst", "558498537596").Return(&core_domain.ValidatedPhoneNumber{
		InstanceID:      "inst",
		OriginalNumber:  "558498537596",
		ValidatedNumber: "558498537596",
		IsValid:         true,
	}, nil)

	v := NewValidator(repo, nil, checker, testLogger())
	res := v.Validate(context.Background(), "prov", "inst", "+55 (84) 9853-7596")

	assert.True(t, res.IsValid)
	assert.True(t, res.FromCache)
	assert.Equal(t, "558498537596", res.ValidatedNumber)
	checker.AssertNotCalled(t, "NumberExists", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestValidateTransientProbeFailureNotCached(t *testing.T) {
	repo := new(mockPhoneRepo)
	checker := new(mockChecker)
	repo.On("Get", mock.Anything, mock.Anything, "inst", "558498537596").Return(nil, pvpostgres.ErrValidatedNumberNotFound)
	checker.On("NumberExists", mock.Anything, "prov", "inst", "558498537596").Return(false, "", errors.New("timeout"))

	v := NewValidator(repo, nil, checker, testLogger())
	res := v.Validate(context.Background(), "prov", "inst", "558498537596")

	assert.False(t, res.IsValid)
	assert.Equal(t, ErrCodeProviderUnavailable, res.ErrorCode)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidateOriginalExists(t *testing.T) {
	repo := new(mockPhoneRepo)
	checker := new(mockChecker)
	repo.On("Get", mock.Anything, mock.Anything, "inst", "558498537596").Return(nil, pvpostgres.ErrValidatedNumberNotFound)
	checker.On("NumberExists", mock.Anything, "prov", "inst", "558498537596").Return(true, "558498537596@c.us", nil)
	repo.On("Upsert", mock.Anything, mock.Anything, mock.MatchedBy(func(e *core_domain.ValidatedPhoneNumber) bool {
		return e.OriginalNumber == "558498537596" && e.ValidatedNumber == "558498537596" && e.IsValid
	})).Return(nil)

	v := NewValidator(repo, nil, checker, testLogger())
	res := v.Validate(context.Background(), "prov", "inst", "558498537596")

	assert.True(t, res.IsValid)
	assert.Equal(t, "558498537596", res.ValidatedNumber)
	repo.AssertExpectations(t)
}

func TestValidateNinthDigitAlternateCachesBothForms(t *testing.T) {
	repo := new(mockPhoneRepo)
	checker := new(mockChecker)

	// A 13-digit mobile number whose provider-side identity drops the ninth digit.
	repo.On("Get", mock.Anything, mock.Anything, "inst", "5584998537596").Return(nil, pvpostgres.ErrValidatedNumberNotFound)
	checker.On("NumberExists", mock.Anything, "prov", "inst", "5584998537596").Return(false, "", nil)
	checker.On("NumberExists", mock.Anything, "prov", "inst", "558498537596").Return(true, "558498537596@c.us", nil)

	var cached []core_domain.ValidatedPhoneNumber
	repo.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		cached = append(cached, *args.Get(2).(*core_domain.ValidatedPhoneNumber))
	}).Return(nil)

	v := NewValidator(repo, nil, checker, testLogger())
	res := v.Validate(context.Background(), "prov", "inst", "5584998537596")

	assert.True(t, res.IsValid)
	assert.Equal(t, "558498537596", res.ValidatedNumber)

	require.Len(t, cached, 2)
	originals := []string{cached[0].OriginalNumber, cached[1].OriginalNumber}
	assert.ElementsMatch(t, []string{"5584998537596", "558498537596"}, originals)
	for _, e := range cached {
		assert.Equal(t, "558498537596", e.ValidatedNumber)
		assert.True(t, e.IsValid)
	}
}

func TestValidateNinthDigitInsertedForShortForm(t *testing.T) {
	repo := new(mockPhoneRepo)
	checker := new(mockChecker)

	repo.On("Get", mock.Anything, mock.Anything, "inst", "558498537596").Return(nil, pvpostgres.ErrValidatedNumberNotFound)
	checker.On("NumberExists", mock.Anything, "prov", "inst", "558498537596").Return(false, "", nil)
	checker.On("NumberExists", mock.Anything, "prov", "inst", "5584998537596").Return(true, "5584998537596@c.us", nil)
	repo.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	v := NewValidator(repo, nil, checker, testLogger())
	res := v.Validate(context.Background(), "prov", "inst", "558498537596")

	assert.True(t, res.IsValid)
	assert.Equal(t, "5584998537596", res.ValidatedNumber)
}

func TestValidateNeitherFormExists(t *testing.T) {
	repo := new(mockPhoneRepo)
	checker := new(mockChecker)

	repo.On("Get", mock.Anything, mock.Anything, "inst", "5584998537596").Return(nil, pvpostgres.ErrValidatedNumberNotFound)
	checker.On("NumberExists", mock.Anything, "prov", "inst", "5584998537596").Return(false, "", nil)
	checker.On("NumberExists", mock.Anything, "prov", "inst", "558498537596").Return(false, "", nil)
	repo.On("Upsert", mock.Anything, mock.Anything, mock.MatchedBy(func(e *core_domain.ValidatedPhoneNumber) bool {
		return e.OriginalNumber == "5584998537596" && !e.IsValid
	})).Return(nil)

	v := NewValidator(repo, nil, checker, testLogger())
	res := v.Validate(context.Background(), "prov", "inst", "5584998537596")

	assert.False(t, res.IsValid)
	assert.Empty(t, res.ErrorCode)
	repo.AssertExpectations(t)
}

func TestRevalidateBypassesCache(t *testing.T) {
	repo := new(mockPhoneRepo)
	checker := new(mockChecker)

	checker.On("NumberExists", mock.Anything, "prov", "inst", "558498537596").Return(true, "558498537596@c.us", nil)
	repo.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	v := NewValidator(repo, nil, checker, testLogger())
	res := v.Revalidate(context.Background(), "prov", "inst", "558498537596")

	assert.True(t, res.IsValid)
	repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNinthDigitAlternate(t *testing.T) {
	alt, ok := ninthDigitAlternate("558498537596") // 8-digit subscriber
	require.True(t, ok)
	assert.Equal(t, "5584998537596", alt)

	alt, ok = ninthDigitAlternate("5584998537596") // 9-digit subscriber with leading 9
	require.True(t, ok)
	assert.Equal(t, "558498537596", alt)

	_, ok = ninthDigitAlternate("5584812345678") // 9 digits, no leading 9
	assert.False(t, ok)

	_, ok = ninthDigitAlternate("14155550123") // not Brazilian
	assert.False(t, ok)
}

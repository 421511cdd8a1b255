package phoneval

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/phoneval/repository"
	pvpostgres "github.com/omnichat/gateway/internal/phoneval/repository/postgres"
)

// Brazilian numbers are the one locale the gateway trusts itself to reason
// about: country code 55 + 2-digit area code + 8- or 9-digit subscriber. The
// ninth digit (a leading 9 on mobile subscribers) may or may not be present
// in the number a tenant hands us, so a failed check tries the other form.
const (
	brazilCountryCode = "55"
	brazilMinDigits   = 12 // 55 + DDD + 8-digit subscriber
	brazilMaxDigits   = 13 // 55 + DDD + 9-digit subscriber
)

// ErrCodeProviderUnavailable marks a transient probe failure. It is never
// cached; the next send re-attempts the check.
const ErrCodeProviderUnavailable = "provider_unavailable"

// Result is the outcome of one validation.
type Result struct {
	ValidatedNumber string `json:"validated_number"`
	IsValid         bool   `json:"is_valid"`
	FromCache       bool   `json:"from_cache"`
	ErrorCode       string `json:"error_code,omitempty"`
}

// NumberChecker probes number existence against the external backend. A
// non-nil error means the probe failed and the answer is unknown.
type NumberChecker interface {
	NumberExists(ctx context.Context, providerID, externalInstanceID, phone string) (exists bool, chatID string, err error)
}

// Validator gates sends with a cached existence check. Cache entries never
// expire on their own; Revalidate is the explicit re-check path.
type Validator struct {
	repo    repository.ValidatedPhoneRepository
	db      repository.Querier
	checker NumberChecker
	logger  *slog.Logger
}

// NewValidator wires a validator.
func NewValidator(repo repository.ValidatedPhoneRepository, db repository.Querier, checker NumberChecker, logger *slog.Logger) *Validator {
	return &Validator{
		repo:    repo,
		db:      db,
		checker: checker,
		logger:  logger.With("component", "phoneval"),
	}
}

// Validate cleans the raw number and returns the cached or freshly-checked
// verdict. Branches, in order: non-local short-circuit, cache hit, transient
// probe failure, exists (original or ninth-digit alternate), neither exists.
func (v *Validator) Validate(ctx context.Context, providerID, instanceID, rawNumber string) *Result {
	return v.validate(ctx, providerID, instanceID, rawNumber, true)
}

// Revalidate bypasses the cache lookup and refreshes the stored entry. This
// is the invalidation path for numbers whose platform presence changed after
// they were first checked.
func (v *Validator) Revalidate(ctx context.Context, providerID, instanceID, rawNumber string) *Result {
	return v.validate(ctx, providerID, instanceID, rawNumber, false)
}

func (v *Validator) validate(ctx context.Context, providerID, instanceID, rawNumber string, useCache bool) *Result {
	cleaned := digitsOnly(rawNumber)

	// Non-local numbers are trusted as-is; no probe, no cache entry.
	if !isBrazilian(cleaned) {
		return &Result{ValidatedNumber: cleaned, IsValid: true}
	}

	if useCache {
		entry, err := v.repo.Get(ctx, v.db, instanceID, cleaned)
		if err == nil {
			return &Result{ValidatedNumber: entry.ValidatedNumber, IsValid: entry.IsValid, FromCache: true}
		}
		if !errors.Is(err, pvpostgres.ErrValidatedNumberNotFound) {
			// Treat a broken cache read as a miss; the probe below still answers.
			v.logger.WarnContext(ctx, "validation cache read failed", "instance_id", instanceID, "error", err)
		}
	}

	exists, chatID, err := v.checker.NumberExists(ctx, providerID, instanceID, cleaned)
	if err != nil {
		v.logger.WarnContext(ctx, "number existence probe failed",
			"instance_id", instanceID, "number", cleaned, "error", err)
		return &Result{ValidatedNumber: cleaned, IsValid: false, ErrorCode: ErrCodeProviderUnavailable}
	}

	if exists {
		canonical := canonicalNumber(chatID, cleaned)
		v.cache(ctx, instanceID, cleaned, canonical, true)
		return &Result{ValidatedNumber: canonical, IsValid: true}
	}

	// Original not found: try the ninth-digit alternate form, if there is one.
	if alt, ok := ninthDigitAlternate(cleaned); ok {
		altExists, altChatID, altErr := v.checker.NumberExists(ctx, providerID, instanceID, alt)
		if altErr != nil {
			v.logger.WarnContext(ctx, "alternate existence probe failed",
				"instance_id", instanceID, "number", alt, "error", altErr)
			return &Result{ValidatedNumber: cleaned, IsValid: false, ErrorCode: ErrCodeProviderUnavailable}
		}
		if altExists {
			canonical := canonicalNumber(altChatID, alt)
			// Both attempted forms map to the same canonical identity, so the
			// next send with either spelling is a cache hit.
			v.cache(ctx, instanceID, cleaned, canonical, true)
			v.cache(ctx, instanceID, alt, canonical, true)
			return &Result{ValidatedNumber: canonical, IsValid: true}
		}
	}

	v.cache(ctx, instanceID, cleaned, cleaned, false)
	return &Result{ValidatedNumber: cleaned, IsValid: false}
}

func (v *Validator) cache(ctx context.Context, instanceID, original, validated string, isValid bool) {
	entry := &core_domain.ValidatedPhoneNumber{
		InstanceID:      instanceID,
		OriginalNumber:  original,
		ValidatedNumber: validated,
		IsValid:         isValid,
		LastValidatedAt: time.Now().UTC(),
	}
	if err := v.repo.Upsert(ctx, v.db, entry); err != nil {
		v.logger.WarnContext(ctx, "failed to cache validation result",
			"instance_id", instanceID, "number", original, "error", err)
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isBrazilian(cleaned string) bool {
	return strings.HasPrefix(cleaned, brazilCountryCode) &&
		len(cleaned) >= brazilMinDigits && len(cleaned) <= brazilMaxDigits
}

// ninthDigitAlternate computes the one alternate spelling of a Brazilian
// mobile number: insert the leading 9 on an 8-digit subscriber, remove it
// from a 9-digit one.
func ninthDigitAlternate(cleaned string) (string, bool) {
	if !isBrazilian(cleaned) {
		return "", false
	}
	prefix := cleaned[:4] // 55 + DDD
	subscriber := cleaned[4:]
	switch {
	case len(subscriber) == 8:
		return prefix + "9" + subscriber, true
	case len(subscriber) == 9 && subscriber[0] == '9':
		return prefix + subscriber[1:], true
	default:
		return "", false
	}
}

// canonicalNumber extracts the number from a provider chat id such as
// "558498537596@c.us", falling back to the probed number.
func canonicalNumber(chatID, fallback string) string {
	if chatID == "" {
		return fallback
	}
	if at := strings.Index(chatID, "@"); at > 0 {
		chatID = chatID[:at]
	}
	if digits := digitsOnly(chatID); digits != "" {
		return digits
	}
	return fallback
}

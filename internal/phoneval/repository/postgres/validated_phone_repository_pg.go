package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/phoneval/repository"
)

var ErrValidatedNumberNotFound = errors.New("validated phone number not found")

type pgValidatedPhoneRepository struct{}

// NewPgValidatedPhoneRepository creates the PostgreSQL-backed validation cache.
func NewPgValidatedPhoneRepository() repository.ValidatedPhoneRepository {
	return &pgValidatedPhoneRepository{}
}

func (r *pgValidatedPhoneRepository) Get(ctx context.Context, q repository.Querier, instanceID, originalNumber string) (*core_domain.ValidatedPhoneNumber, error) {
	entry := &core_domain.ValidatedPhoneNumber{}
	query := `
		SELECT instance_id, original_number, validated_number, is_valid, last_validated_at
		FROM validated_phone_numbers
		WHERE instance_id = $1 AND original_number = $2
	`
	err := q.QueryRow(ctx, query, instanceID, originalNumber).Scan(
		&entry.InstanceID, &entry.OriginalNumber, &entry.ValidatedNumber, &entry.IsValid, &entry.LastValidatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrValidatedNumberNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (r *pgValidatedPhoneRepository) Upsert(ctx context.Context, q repository.Querier, entry *core_domain.ValidatedPhoneNumber) error {
	if entry.LastValidatedAt.IsZero() {
		entry.LastValidatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO validated_phone_numbers (instance_id, original_number, validated_number, is_valid, last_validated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instance_id, original_number)
		DO UPDATE SET validated_number = EXCLUDED.validated_number,
		              is_valid = EXCLUDED.is_valid,
		              last_validated_at = EXCLUDED.last_validated_at
	`
	_, err := q.Exec(ctx, query,
		entry.InstanceID, entry.OriginalNumber, entry.ValidatedNumber, entry.IsValid, entry.LastValidatedAt,
	)
	return err
}

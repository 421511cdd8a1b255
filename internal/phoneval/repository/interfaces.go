package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/omnichat/gateway/internal/core_domain"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ValidatedPhoneRepository persists provider existence-check results keyed by
// (instance_id, original_number).
type ValidatedPhoneRepository interface {
	Get(ctx context.Context, q Querier, instanceID, originalNumber string) (*core_domain.ValidatedPhoneNumber, error)
	Upsert(ctx context.Context, q Querier, entry *core_domain.ValidatedPhoneNumber) error
}

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

// CompanyRepository reads tenant rows. Tenant CRUD itself lives outside the
// core; the gateway only needs existence and active checks.
type CompanyRepository interface {
	GetByID(ctx context.Context, q Querier, id int64) (*core_domain.Company, error)
}

// ChatProviderRepository reads provider configuration and writes back health
// status from the monitor loop.
type ChatProviderRepository interface {
	GetByID(ctx context.Context, q Querier, id string) (*core_domain.ChatProvider, error)
	ListActive(ctx context.Context, q Querier) ([]core_domain.ChatProvider, error)
	UpdateHealth(ctx context.Context, q Querier, id string, healthy bool) error
}

// ChatInstanceRepository reads connected-account rows.
type ChatInstanceRepository interface {
	GetByExternalID(ctx context.Context, q Querier, providerID, externalID string) (*core_domain.ChatInstance, error)
}

// RateLimitRepository exposes only the retention sweep; the limiter itself is
// an external collaborator.
type RateLimitRepository interface {
	Cleanup(ctx context.Context, q Querier, daysOld int) (int64, error)
}

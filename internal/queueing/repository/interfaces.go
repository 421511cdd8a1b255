package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/omnichat/gateway/internal/core_domain"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock, so repository
// methods run the same on a pool, inside a transaction, or under test.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QueueMetadataRepository persists the per-queue bookkeeping rows the topology
// manager and the idle-queue sweep work from.
type QueueMetadataRepository interface {
	Upsert(ctx context.Context, q Querier, companyID int64, queueName string) error
	TouchActivity(ctx context.Context, q Querier, queueName string) error
	ListByCompany(ctx context.Context, q Querier, companyID int64) ([]core_domain.QueueMetadata, error)
	ListIdleActive(ctx context.Context, q Querier, inactiveSince time.Time) ([]core_domain.QueueMetadata, error)
	Deactivate(ctx context.Context, q Querier, queueName string) error
	DeleteByCompany(ctx context.Context, q Querier, companyID int64) error
}

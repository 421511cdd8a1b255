package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/omnichat/gateway/internal/core_domain"
)

// CopyQuerier is the batch-insert surface; *pgxpool.Pool and pgx.Tx satisfy it.
type CopyQuerier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// GatewayLogRepository persists drained log records in batches.
type GatewayLogRepository interface {
	InsertBatch(ctx context.Context, q CopyQuerier, entries []core_domain.GatewayLog) error
}

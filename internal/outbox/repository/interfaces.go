package repository

import (
	"context"
	"time"

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

// OutboxRepository persists the durable staging records that turn a committed
// database write into a guaranteed future broker publish.
type OutboxRepository interface {
	// Enqueue inserts one record using the caller's querier. Callers pass the
	// transaction that also carries their domain write; the outbox never opens
	// a transaction of its own, so the row commits or rolls back atomically
	// with the write that triggered it.
	Enqueue(ctx context.Context, q Querier, rec *core_domain.OutboxRecord) error

	// ClaimPending atomically claims up to batchSize records for this drainer,
	// moving them to processing and bumping attempt_count. Records stuck in
	// processing longer than staleAfter (a drainer crashed mid-drain) are
	// reclaimed by the same query. SKIP LOCKED keeps concurrent drainers from
	// ever claiming the same record.
	ClaimPending(ctx context.Context, q Querier, batchSize int, staleAfter time.Duration) ([]core_domain.OutboxRecord, error)

	MarkCompleted(ctx context.Context, q Querier, id string) error

	// MarkFailed records the publish failure. The record goes terminal only
	// when its attempts are exhausted; otherwise it returns to pending for the
	// next drain.
	MarkFailed(ctx context.Context, q Querier, id string, reason string) error

	// Cleanup hard-deletes terminal records older than the retention window.
	Cleanup(ctx context.Context, q Querier, daysOld int) (int64, error)
}

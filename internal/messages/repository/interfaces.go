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

// MessageRepository persists outbound chat messages. Once a message reaches
// processing, only the sender worker writes its status; the conditional
// updates below enforce that single-writer rule.
type MessageRepository interface {
	Create(ctx context.Context, q Querier, m *core_domain.Message) error
	GetByID(ctx context.Context, q Querier, id string) (*core_domain.Message, error)
	MarkProcessing(ctx context.Context, q Querier, id string) error
	MarkQueued(ctx context.Context, q Querier, id string) error
	MarkSent(ctx context.Context, q Querier, id, externalID string) error
	MarkTerminalFailure(ctx context.Context, q Querier, id string, status core_domain.MessageStatus, errorMessage string) error
}

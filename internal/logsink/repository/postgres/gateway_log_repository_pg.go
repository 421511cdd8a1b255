package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/logsink/repository"
)

type pgGatewayLogRepository struct{}

// NewPgGatewayLogRepository creates the PostgreSQL-backed log repository.
func NewPgGatewayLogRepository() repository.GatewayLogRepository {
	return &pgGatewayLogRepository{}
}

func (r *pgGatewayLogRepository) InsertBatch(ctx context.Context, q repository.CopyQuerier, entries []core_domain.GatewayLog) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rows = append(rows, []any{id, e.Level, e.Source, e.Message, []byte(e.Context), createdAt})
	}
	_, err := q.CopyFrom(ctx,
		pgx.Identifier{"gateway_logs"},
		[]string{"id", "level", "source", "message", "context", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

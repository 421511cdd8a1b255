package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/outbox/repository"
)

var ErrOutboxRecordNotFound = errors.New("outbox record not found")

type pgOutboxRepository struct{}

// NewPgOutboxRepository creates the PostgreSQL-backed outbox repository.
func NewPgOutboxRepository() repository.OutboxRepository {
	return &pgOutboxRepository{}
}

func (r *pgOutboxRepository) Enqueue(ctx context.Context, q repository.Querier, rec *core_domain.OutboxRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MaxAttempts <= 0 {
		rec.MaxAttempts = 3
	}
	now := time.Now().UTC()
	rec.Status = core_domain.OutboxStatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `
		INSERT INTO outbox_records (
			id, queue_name, routing_key, payload, attempt_count, max_attempts,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.Exec(ctx, query,
		rec.ID, rec.QueueName, rec.RoutingKey, rec.Payload, rec.AttemptCount,
		rec.MaxAttempts, rec.Status, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (r *pgOutboxRepository) ClaimPending(ctx context.Context, q repository.Querier, batchSize int, staleAfter time.Duration) ([]core_domain.OutboxRecord, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-staleAfter)

	query := `
		UPDATE outbox_records
		SET status = 'processing', attempt_count = attempt_count + 1, updated_at = $1
		WHERE id IN (
			SELECT id FROM outbox_records
			WHERE status = 'pending'
			   OR (status = 'processing' AND updated_at < $2)
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue_name, routing_key, payload, attempt_count, max_attempts,
		          status, error_message, created_at, updated_at
	`
	rows, err := q.Query(ctx, query, now, staleBefore, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []core_domain.OutboxRecord
	for rows.Next() {
		var rec core_domain.OutboxRecord
		if err := rows.Scan(
			&rec.ID, &rec.QueueName, &rec.RoutingKey, &rec.Payload, &rec.AttemptCount,
			&rec.MaxAttempts, &rec.Status, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *pgOutboxRepository) MarkCompleted(ctx context.Context, q repository.Querier, id string) error {
	query := `
		UPDATE outbox_records
		SET status = 'completed', error_message = NULL, updated_at = $2
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOutboxRecordNotFound
	}
	return nil
}

func (r *pgOutboxRepository) MarkFailed(ctx context.Context, q repository.Querier, id string, reason string) error {
	query := `
		UPDATE outbox_records
		SET status = CASE WHEN attempt_count >= max_attempts THEN 'failed' ELSE 'pending' END,
		    error_message = $2, updated_at = $3
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, reason, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOutboxRecordNotFound
	}
	return nil
}

func (r *pgOutboxRepository) Cleanup(ctx context.Context, q repository.Querier, daysOld int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)
	query := `
		DELETE FROM outbox_records
		WHERE status IN ('completed', 'failed') AND created_at < $1
	`
	tag, err := q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

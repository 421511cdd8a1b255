package postgres

import (
	"context"
	"time"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/queueing/repository"
)

type pgQueueMetadataRepository struct{}

// NewPgQueueMetadataRepository creates the PostgreSQL-backed metadata repository.
func NewPgQueueMetadataRepository() repository.QueueMetadataRepository {
	return &pgQueueMetadataRepository{}
}

func (r *pgQueueMetadataRepository) Upsert(ctx context.Context, q repository.Querier, companyID int64, queueName string) error {
	query := `
		INSERT INTO queue_metadata (company_id, queue_name, last_activity, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (queue_name)
		DO UPDATE SET last_activity = EXCLUDED.last_activity, is_active = TRUE
	`
	_, err := q.Exec(ctx, query, companyID, queueName, time.Now().UTC())
	return err
}

func (r *pgQueueMetadataRepository) TouchActivity(ctx context.Context, q repository.Querier, queueName string) error {
	query := `UPDATE queue_metadata SET last_activity = $2 WHERE queue_name = $1`
	_, err := q.Exec(ctx, query, queueName, time.Now().UTC())
	return err
}

func (r *pgQueueMetadataRepository) ListByCompany(ctx context.Context, q repository.Querier, companyID int64) ([]core_domain.QueueMetadata, error) {
	query := `
		SELECT company_id, queue_name, last_activity, is_active
		FROM queue_metadata
		WHERE company_id = $1
	`
	rows, err := q.Query(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMetadataRows(rows)
}

func (r *pgQueueMetadataRepository) ListIdleActive(ctx context.Context, q repository.Querier, inactiveSince time.Time) ([]core_domain.QueueMetadata, error) {
	query := `
		SELECT company_id, queue_name, last_activity, is_active
		FROM queue_metadata
		WHERE is_active = TRUE AND last_activity < $1
	`
	rows, err := q.Query(ctx, query, inactiveSince)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMetadataRows(rows)
}

func (r *pgQueueMetadataRepository) Deactivate(ctx context.Context, q repository.Querier, queueName string) error {
	query := `UPDATE queue_metadata SET is_active = FALSE WHERE queue_name = $1`
	_, err := q.Exec(ctx, query, queueName)
	return err
}

func (r *pgQueueMetadataRepository) DeleteByCompany(ctx context.Context, q repository.Querier, companyID int64) error {
	query := `DELETE FROM queue_metadata WHERE company_id = $1`
	_, err := q.Exec(ctx, query, companyID)
	return err
}

type metadataRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMetadataRows(rows metadataRows) ([]core_domain.QueueMetadata, error) {
	var out []core_domain.QueueMetadata
	for rows.Next() {
		var m core_domain.QueueMetadata
		if err := rows.Scan(&m.CompanyID, &m.QueueName, &m.LastActivity, &m.IsActive); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/messages/repository"
)

var ErrMessageNotFound = errors.New("message not found")

type pgMessageRepository struct{}

// NewPgMessageRepository creates the PostgreSQL-backed message repository.
func NewPgMessageRepository() repository.MessageRepository {
	return &pgMessageRepository{}
}

func (r *pgMessageRepository) Create(ctx context.Context, q repository.Querier, m *core_domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = core_domain.MessageStatusQueued
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	query := `
		INSERT INTO messages (
			id, company_id, provider_id, external_instance_id, phone_to,
			message_type, content, media_url, status, external_id, error_message,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := q.Exec(ctx, query,
		m.ID, m.CompanyID, m.ProviderID, m.ExternalInstanceID, m.PhoneTo,
		m.MessageType, m.Content, m.MediaURL, m.Status, m.ExternalID, m.ErrorMessage,
		m.CreatedAt, m.UpdatedAt,
	)
	return err
}

const messageColumns = `id, company_id, provider_id, external_instance_id, phone_to,
	message_type, content, media_url, status, external_id, error_message, created_at, updated_at`

func (r *pgMessageRepository) GetByID(ctx context.Context, q repository.Querier, id string) (*core_domain.Message, error) {
	m := &core_domain.Message{}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	err := q.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.CompanyID, &m.ProviderID, &m.ExternalInstanceID, &m.PhoneTo,
		&m.MessageType, &m.Content, &m.MediaURL, &m.Status, &m.ExternalID, &m.ErrorMessage,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return m, nil
}

// MarkProcessing claims the message for the sender. The status guard makes
// redelivery of an already-terminal message a no-op instead of a regression.
func (r *pgMessageRepository) MarkProcessing(ctx context.Context, q repository.Querier, id string) error {
	query := `
		UPDATE messages SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status IN ('queued', 'processing')
	`
	tag, err := q.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkQueued puts a message back to queued ahead of a counted retry.
func (r *pgMessageRepository) MarkQueued(ctx context.Context, q repository.Querier, id string) error {
	query := `
		UPDATE messages SET status = 'queued', updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`
	_, err := q.Exec(ctx, query, id, time.Now().UTC())
	return err
}

func (r *pgMessageRepository) MarkSent(ctx context.Context, q repository.Querier, id, externalID string) error {
	query := `
		UPDATE messages
		SET status = 'sent', external_id = $2, error_message = NULL, updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`
	tag, err := q.Exec(ctx, query, id, externalID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *pgMessageRepository) MarkTerminalFailure(ctx context.Context, q repository.Querier, id string, status core_domain.MessageStatus, errorMessage string) error {
	if status != core_domain.MessageStatusFailed && status != core_domain.MessageStatusError {
		return errors.New("not a terminal failure status: " + string(status))
	}
	query := `
		UPDATE messages SET status = $2, error_message = $3, updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`
	tag, err := q.Exec(ctx, query, id, status, errorMessage, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

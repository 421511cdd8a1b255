package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/tenant/repository"
)

var (
	ErrCompanyNotFound  = errors.New("company not found")
	ErrProviderNotFound = errors.New("chat provider not found")
	ErrInstanceNotFound = errors.New("chat instance not found")
)

type pgCompanyRepository struct{}

func NewPgCompanyRepository() repository.CompanyRepository {
	return &pgCompanyRepository{}
}

func (r *pgCompanyRepository) GetByID(ctx context.Context, q repository.Querier, id int64) (*core_domain.Company, error) {
	c := &core_domain.Company{}
	query := `SELECT id, name, is_active, created_at FROM companies WHERE id = $1`
	err := q.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, err
	}
	return c, nil
}

type pgChatProviderRepository struct{}

func NewPgChatProviderRepository() repository.ChatProviderRepository {
	return &pgChatProviderRepository{}
}

const providerColumns = `id, company_id, kind, base_url, api_token, is_healthy, is_active, checked_at`

func (r *pgChatProviderRepository) GetByID(ctx context.Context, q repository.Querier, id string) (*core_domain.ChatProvider, error) {
	p := &core_domain.ChatProvider{}
	query := `SELECT ` + providerColumns + ` FROM chat_providers WHERE id = $1`
	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.CompanyID, &p.Kind, &p.BaseURL, &p.APIToken, &p.IsHealthy, &p.IsActive, &p.CheckedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *pgChatProviderRepository) ListActive(ctx context.Context, q repository.Querier) ([]core_domain.ChatProvider, error) {
	query := `SELECT ` + providerColumns + ` FROM chat_providers WHERE is_active = TRUE`
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []core_domain.ChatProvider
	for rows.Next() {
		var p core_domain.ChatProvider
		if err := rows.Scan(
			&p.ID, &p.CompanyID, &p.Kind, &p.BaseURL, &p.APIToken, &p.IsHealthy, &p.IsActive, &p.CheckedAt,
		); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *pgChatProviderRepository) UpdateHealth(ctx context.Context, q repository.Querier, id string, healthy bool) error {
	query := `UPDATE chat_providers SET is_healthy = $2, checked_at = $3 WHERE id = $1`
	tag, err := q.Exec(ctx, query, id, healthy, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProviderNotFound
	}
	return nil
}

type pgChatInstanceRepository struct{}

func NewPgChatInstanceRepository() repository.ChatInstanceRepository {
	return &pgChatInstanceRepository{}
}

func (r *pgChatInstanceRepository) GetByExternalID(ctx context.Context, q repository.Querier, providerID, externalID string) (*core_domain.ChatInstance, error) {
	inst := &core_domain.ChatInstance{}
	query := `
		SELECT id, company_id, provider_id, external_id, webhook_url, is_active
		FROM chat_instances
		WHERE provider_id = $1 AND external_id = $2
	`
	err := q.QueryRow(ctx, query, providerID, externalID).Scan(
		&inst.ID, &inst.CompanyID, &inst.ProviderID, &inst.ExternalID, &inst.WebhookURL, &inst.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

type pgRateLimitRepository struct{}

func NewPgRateLimitRepository() repository.RateLimitRepository {
	return &pgRateLimitRepository{}
}

func (r *pgRateLimitRepository) Cleanup(ctx context.Context, q repository.Querier, daysOld int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)
	tag, err := q.Exec(ctx, `DELETE FROM rate_limit_hits WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

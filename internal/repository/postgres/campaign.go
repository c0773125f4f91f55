package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var rawConfig []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, status, config, started_at, completed_at, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Status, &rawConfig, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if err := json.Unmarshal(rawConfig, &c.Config); err != nil {
		return nil, fmt.Errorf("decode campaign config: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, status, config, started_at, completed_at, created_at, updated_at
		FROM campaigns
		WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Type != "" {
		q += fmt.Sprintf(" AND config->>'type' = $%d", idx)
		args = append(args, f.Type)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		var rawConfig []byte
		if err := rows.Scan(&c.ID, &c.Status, &rawConfig, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		if err := json.Unmarshal(rawConfig, &c.Config); err != nil {
			return nil, fmt.Errorf("decode campaign config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	rawConfig, err := json.Marshal(c.Config)
	if err != nil {
		return "", fmt.Errorf("encode campaign config: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, status, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Status, rawConfig, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

// UpdateStatus transitions the campaign atomically: the UPDATE carries the
// set of source states the move is legal from, so a concurrent transition
// loses cleanly instead of corrupting the state machine.
func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	from := legalSources(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: no state may move to %s", campaign.ErrInvalidTransition, status)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2,
		    updated_at = NOW(),
		    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $2 IN ('completed', 'cancelled') THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = ANY($3)
	`, id, status, pq.Array(from))
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n == 0 {
		// Either the campaign is missing or its current state forbids the move.
		var current domain.CampaignStatus
		err := r.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return campaign.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check campaign status: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", campaign.ErrInvalidTransition, current, status)
	}
	return nil
}

// legalSources lists the states the campaign state machine allows to move
// into target.
func legalSources(target domain.CampaignStatus) []string {
	all := []domain.CampaignStatus{
		domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignRunning,
		domain.CampaignPaused, domain.CampaignCompleted, domain.CampaignCancelled,
	}
	var out []string
	for _, s := range all {
		if s.CanTransitionTo(target) {
			out = append(out, string(s))
		}
	}
	return out
}

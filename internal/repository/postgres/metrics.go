package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/personalize"
)

// MetricsRepo implements analytics.MetricsStore against PostgreSQL.
type MetricsRepo struct{ db *sql.DB }

// NewMetricsRepo creates a Postgres-backed metrics repository.
func NewMetricsRepo(db *sql.DB) *MetricsRepo { return &MetricsRepo{db: db} }

const metricsColumns = `campaign_id, sent, delivered, bounced, opened, clicked,
	converted, unsubscribed, avg_open_time_minutes, revenue, updated_at`

func (r *MetricsRepo) Get(ctx context.Context, campaignID string) (*domain.CampaignMetrics, error) {
	m := &domain.CampaignMetrics{}
	err := r.db.QueryRowContext(ctx, `
		SELECT `+metricsColumns+`
		FROM campaign_metrics
		WHERE campaign_id = $1
	`, campaignID).Scan(
		&m.CampaignID, &m.Sent, &m.Delivered, &m.Bounced, &m.Opened, &m.Clicked,
		&m.Converted, &m.Unsubscribed, &m.AvgOpenTimeMinutes, &m.Revenue, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign metrics: %w", err)
	}
	return m, nil
}

// Increment applies one event's delta in a single conflict-update
// statement. The additions happen inside Postgres, so concurrent events
// for the same campaign serialize on the row instead of racing a
// read-modify-write in the service.
func (r *MetricsRepo) Increment(ctx context.Context, campaignID string, d domain.MetricsDelta) error {
	hasDelay := d.OpenDelayMinutes != nil
	var delay float64
	if hasDelay {
		delay = *d.OpenDelayMinutes
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_metrics (`+metricsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (campaign_id) DO UPDATE SET
			sent = campaign_metrics.sent + EXCLUDED.sent,
			delivered = campaign_metrics.delivered + EXCLUDED.delivered,
			bounced = campaign_metrics.bounced + EXCLUDED.bounced,
			opened = campaign_metrics.opened + EXCLUDED.opened,
			clicked = campaign_metrics.clicked + EXCLUDED.clicked,
			converted = campaign_metrics.converted + EXCLUDED.converted,
			unsubscribed = campaign_metrics.unsubscribed + EXCLUDED.unsubscribed,
			avg_open_time_minutes = CASE WHEN $12::boolean THEN
					campaign_metrics.avg_open_time_minutes
						+ (EXCLUDED.avg_open_time_minutes - campaign_metrics.avg_open_time_minutes)
						/ (campaign_metrics.opened + EXCLUDED.opened)
				ELSE campaign_metrics.avg_open_time_minutes END,
			revenue = campaign_metrics.revenue + EXCLUDED.revenue,
			updated_at = GREATEST(campaign_metrics.updated_at, EXCLUDED.updated_at)
	`, campaignID, d.Sent, d.Delivered, d.Bounced, d.Opened, d.Clicked,
		d.Converted, d.Unsubscribed, delay, d.Revenue, d.ObservedAt, hasDelay)
	if err != nil {
		return fmt.Errorf("increment campaign metrics: %w", err)
	}
	return nil
}

func (r *MetricsRepo) All(ctx context.Context) ([]domain.CampaignMetrics, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+metricsColumns+` FROM campaign_metrics`)
	if err != nil {
		return nil, fmt.Errorf("list campaign metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignMetrics
	for rows.Next() {
		var m domain.CampaignMetrics
		if err := rows.Scan(
			&m.CampaignID, &m.Sent, &m.Delivered, &m.Bounced, &m.Opened, &m.Clicked,
			&m.Converted, &m.Unsubscribed, &m.AvgOpenTimeMinutes, &m.Revenue, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan campaign metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TemplateRepo implements campaign.TemplateSource against PostgreSQL.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template repository.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

func (r *TemplateRepo) Template(ctx context.Context, templateID string) (personalize.Template, error) {
	var tpl personalize.Template
	err := r.db.QueryRowContext(ctx, `
		SELECT id, subject, body, story_body, data_body, cta
		FROM templates
		WHERE id = $1
	`, templateID).Scan(&tpl.ID, &tpl.Subject, &tpl.Body, &tpl.StoryBody, &tpl.DataBody, &tpl.CTA)
	if err == sql.ErrNoRows {
		return personalize.Template{}, fmt.Errorf("template %s not found", templateID)
	}
	if err != nil {
		return personalize.Template{}, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// MarketRepo implements campaign.MarketSource against PostgreSQL.
type MarketRepo struct{ db *sql.DB }

// NewMarketRepo creates a Postgres-backed market data repository.
func NewMarketRepo(db *sql.DB) *MarketRepo { return &MarketRepo{db: db} }

// MarketFor returns nil, nil when no snapshot exists for the location.
func (r *MarketRepo) MarketFor(ctx context.Context, location string) (*personalize.MarketSnapshot, error) {
	snap := &personalize.MarketSnapshot{}
	err := r.db.QueryRowContext(ctx, `
		SELECT median_price, trend_pct, days_on_market
		FROM market_snapshots
		WHERE location = $1
	`, location).Scan(&snap.MedianPrice, &snap.TrendPct, &snap.DaysOnMarket)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market snapshot: %w", err)
	}
	return snap, nil
}

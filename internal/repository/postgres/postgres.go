// Package postgres implements the engine's repositories against
// PostgreSQL via database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, url string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the engine's schema. Statements are idempotent so the
// migration can run on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id          TEXT PRIMARY KEY,
			status      TEXT NOT NULL,
			config      JSONB NOT NULL,
			started_at   TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,
		`CREATE TABLE IF NOT EXISTS recipients (
			id                 TEXT PRIMARY KEY,
			email              TEXT NOT NULL,
			phone              TEXT NOT NULL DEFAULT '',
			first_name         TEXT NOT NULL DEFAULT '',
			last_name          TEXT NOT NULL DEFAULT '',
			location           TEXT NOT NULL DEFAULT '',
			channel_preference TEXT NOT NULL DEFAULT 'email',
			unsubscribed       BOOLEAN NOT NULL DEFAULT FALSE,
			prefers_data_driven BOOLEAN NOT NULL DEFAULT FALSE,
			preferred_cta      TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS behavior_profiles (
			recipient_id           TEXT PRIMARY KEY REFERENCES recipients(id),
			timezone               TEXT NOT NULL DEFAULT 'UTC',
			optimal_hour           INT NOT NULL DEFAULT 10,
			optimal_day_of_week    INT NOT NULL DEFAULT 2,
			avg_open_delay_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
			device_preference      TEXT NOT NULL DEFAULT 'both',
			engagement_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_calculated        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_records (
			tracking_id         TEXT PRIMARY KEY,
			campaign_id         TEXT NOT NULL,
			recipient_id        TEXT NOT NULL,
			channel             TEXT NOT NULL,
			status              TEXT NOT NULL,
			provider_message_id TEXT NOT NULL DEFAULT '',
			error               TEXT NOT NULL DEFAULT '',
			sent_at             TIMESTAMPTZ,
			delivered_at        TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (campaign_id, recipient_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_campaign ON delivery_records(campaign_id)`,
		`CREATE TABLE IF NOT EXISTS campaign_metrics (
			campaign_id           TEXT PRIMARY KEY,
			sent                  BIGINT NOT NULL DEFAULT 0,
			delivered             BIGINT NOT NULL DEFAULT 0,
			bounced               BIGINT NOT NULL DEFAULT 0,
			opened                BIGINT NOT NULL DEFAULT 0,
			clicked               BIGINT NOT NULL DEFAULT 0,
			converted             BIGINT NOT NULL DEFAULT 0,
			unsubscribed          BIGINT NOT NULL DEFAULT 0,
			avg_open_time_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
			revenue               DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS templates (
			id         TEXT PRIMARY KEY,
			subject    TEXT NOT NULL,
			body       TEXT NOT NULL,
			story_body TEXT NOT NULL DEFAULT '',
			data_body  TEXT NOT NULL DEFAULT '',
			cta        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS market_snapshots (
			location       TEXT PRIMARY KEY,
			median_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
			trend_pct      DOUBLE PRECISION NOT NULL DEFAULT 0,
			days_on_market INT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/propertypulse/campaign-engine/internal/domain"
)

// RecipientRepo implements campaign.RecipientSource against PostgreSQL.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

// Snapshot loads the requested recipients and returns them in input order.
// IDs without a row are skipped.
func (r *RecipientRepo) Snapshot(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, phone, first_name, last_name, location,
		       channel_preference, unsubscribed, prefers_data_driven,
		       preferred_cta, created_at
		FROM recipients
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("snapshot recipients: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Recipient, len(ids))
	for rows.Next() {
		var rec domain.Recipient
		if err := rows.Scan(
			&rec.ID, &rec.Email, &rec.Phone, &rec.FirstName, &rec.LastName, &rec.Location,
			&rec.ChannelPreference, &rec.Unsubscribed, &rec.PrefersDataDriven,
			&rec.PreferredCTA, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot recipients: %w", err)
	}

	out := make([]domain.Recipient, 0, len(byID))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Profile returns nil, nil when the recipient has no behavioral history.
func (r *RecipientRepo) Profile(ctx context.Context, recipientID string) (*domain.BehaviorProfile, error) {
	p := &domain.BehaviorProfile{}
	err := r.db.QueryRowContext(ctx, `
		SELECT recipient_id, timezone, optimal_hour, optimal_day_of_week,
		       avg_open_delay_minutes, device_preference, engagement_score,
		       last_calculated
		FROM behavior_profiles
		WHERE recipient_id = $1
	`, recipientID).Scan(
		&p.RecipientID, &p.Timezone, &p.OptimalHour, &p.OptimalDayOfWeek,
		&p.AvgOpenDelayMinutes, &p.DevicePreference, &p.EngagementScore,
		&p.LastCalculated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get behavior profile: %w", err)
	}
	return p, nil
}

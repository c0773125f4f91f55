package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/propertypulse/campaign-engine/internal/domain"
)

// DeliveryRepo implements campaign.DeliveryRepository against PostgreSQL.
type DeliveryRepo struct{ db *sql.DB }

// NewDeliveryRepo creates a Postgres-backed delivery repository.
func NewDeliveryRepo(db *sql.DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

func (r *DeliveryRepo) Append(ctx context.Context, rec *domain.DeliveryRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_records
			(tracking_id, campaign_id, recipient_id, channel, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.TrackingID, rec.CampaignID, rec.RecipientID, rec.Channel, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append delivery record: %w", err)
	}
	return nil
}

// UpdateStatus advances the record. The forward-only rule rides in the
// WHERE clause through a rank comparison, so stale webhook retries cannot
// move a record backwards.
func (r *DeliveryRepo) UpdateStatus(ctx context.Context, trackingID string, status domain.DeliveryStatus, providerID, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET status = $2,
		    provider_message_id = CASE WHEN $3 <> '' THEN $3 ELSE provider_message_id END,
		    error = CASE WHEN $4 <> '' THEN $4 ELSE error END,
		    sent_at = CASE WHEN $2 = 'sent' THEN NOW() ELSE sent_at END,
		    delivered_at = CASE WHEN $2 = 'delivered' THEN NOW() ELSE delivered_at END
		WHERE tracking_id = $1
		  AND array_position($5::text[], $2) > array_position($5::text[], status)
	`, trackingID, status, providerID, errMsg, pq.Array(statusOrder))
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if n == 0 {
		var current domain.DeliveryStatus
		err := r.db.QueryRowContext(ctx,
			`SELECT status FROM delivery_records WHERE tracking_id = $1`, trackingID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("unknown tracking id %s", trackingID)
		}
		if err != nil {
			return fmt.Errorf("check delivery status: %w", err)
		}
		return fmt.Errorf("delivery status may not move %s -> %s", current, status)
	}
	return nil
}

// statusOrder ranks delivery statuses for the forward-only guard. Bounced
// and failed are both terminal; neither is reachable from the other in
// practice because the record is already terminal when either lands.
var statusOrder = []string{"pending", "sent", "delivered", "bounced", "failed"}

func (r *DeliveryRepo) GetByTracking(ctx context.Context, trackingID string) (*domain.DeliveryRecord, error) {
	rec, err := r.scanOne(ctx, `WHERE tracking_id = $1`, trackingID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("unknown tracking id %s", trackingID)
	}
	return rec, nil
}

// Find returns nil, nil when no record exists for the pair.
func (r *DeliveryRepo) Find(ctx context.Context, campaignID, recipientID string) (*domain.DeliveryRecord, error) {
	return r.scanOne(ctx, `WHERE campaign_id = $1 AND recipient_id = $2`, campaignID, recipientID)
}

func (r *DeliveryRepo) scanOne(ctx context.Context, where string, args ...interface{}) (*domain.DeliveryRecord, error) {
	rec := &domain.DeliveryRecord{}
	err := r.db.QueryRowContext(ctx, `
		SELECT tracking_id, campaign_id, recipient_id, channel, status,
		       provider_message_id, error, sent_at, delivered_at, created_at
		FROM delivery_records `+where, args...,
	).Scan(
		&rec.TrackingID, &rec.CampaignID, &rec.RecipientID, &rec.Channel, &rec.Status,
		&rec.ProviderID, &rec.Error, &rec.SentAt, &rec.DeliveredAt, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	return rec, nil
}

func (r *DeliveryRepo) ListByCampaign(ctx context.Context, campaignID string) ([]domain.DeliveryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tracking_id, campaign_id, recipient_id, channel, status,
		       provider_message_id, error, sent_at, delivered_at, created_at
		FROM delivery_records
		WHERE campaign_id = $1
		ORDER BY created_at
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryRecord
	for rows.Next() {
		var rec domain.DeliveryRecord
		if err := rows.Scan(
			&rec.TrackingID, &rec.CampaignID, &rec.RecipientID, &rec.Channel, &rec.Status,
			&rec.ProviderID, &rec.Error, &rec.SentAt, &rec.DeliveredAt, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

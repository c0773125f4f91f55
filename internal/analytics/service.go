// Package analytics aggregates delivery and engagement events into
// per-campaign metrics.
//
// Events arrive at-least-once and possibly out of order; application is
// idempotent per (trackingID, eventType) and an engagement event for a
// not-yet-delivered record first promotes it to delivered. Counters only
// ever increase; rates are derived on read.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/pkg/logger"
)

// DeliveryReader resolves tracking IDs to delivery records and advances
// their status as confirmations arrive.
type DeliveryReader interface {
	GetByTracking(ctx context.Context, trackingID string) (*domain.DeliveryRecord, error)
	UpdateStatus(ctx context.Context, trackingID string, status domain.DeliveryStatus, providerID, errMsg string) error
}

// MetricsStore persists per-campaign aggregates. Increment must apply a
// delta atomically: concurrent events for the same campaign may never lose
// an increment to a read-modify-write race.
type MetricsStore interface {
	Get(ctx context.Context, campaignID string) (*domain.CampaignMetrics, error)
	Increment(ctx context.Context, campaignID string, d domain.MetricsDelta) error
	All(ctx context.Context) ([]domain.CampaignMetrics, error)
}

// Dedup remembers which (trackingID, eventType) pairs were already
// applied. MarkProcessed returns false for a duplicate.
type Dedup interface {
	MarkProcessed(ctx context.Context, trackingID string, t domain.EventType) (bool, error)
}

// ErrUnknownTracking is returned for events whose tracking ID has no
// delivery record. Callers usually log and drop these.
var ErrUnknownTracking = fmt.Errorf("no delivery record for tracking id")

// Service is the event-sourced metrics aggregator.
type Service struct {
	deliveries DeliveryReader
	metrics    MetricsStore
	dedup      Dedup
}

// NewService creates the analytics aggregator.
func NewService(deliveries DeliveryReader, metrics MetricsStore, dedup Dedup) *Service {
	return &Service{deliveries: deliveries, metrics: metrics, dedup: dedup}
}

// Apply ingests one normalized event. Duplicates are discarded silently;
// unknown tracking IDs return ErrUnknownTracking.
func (s *Service) Apply(ctx context.Context, ev domain.DeliveryEvent) error {
	rec, err := s.deliveries.GetByTracking(ctx, ev.TrackingID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownTracking, ev.TrackingID)
	}

	// Dedup is marked before the writes below: a redelivery after a failed
	// write is discarded, so a store error can drop an event but never
	// count it twice.
	fresh, err := s.dedup.MarkProcessed(ctx, ev.TrackingID, ev.Type)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !fresh {
		logger.Debug("duplicate event discarded",
			"tracking_id", ev.TrackingID, "type", string(ev.Type))
		return nil
	}

	// Engagement before delivery confirmation: promote the record first so
	// openRate's denominator can never miss an engaged recipient.
	if ev.Type.IsEngagement() && rec.Status.CanAdvanceTo(domain.DeliveryDelivered) {
		promote := domain.DeliveryEvent{
			TrackingID: ev.TrackingID,
			Type:       domain.EventDelivered,
			Timestamp:  ev.Timestamp,
		}
		if err := s.Apply(ctx, promote); err != nil {
			return fmt.Errorf("auto-promote to delivered: %w", err)
		}
		rec, err = s.deliveries.GetByTracking(ctx, ev.TrackingID)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownTracking, ev.TrackingID)
		}
	}

	if status, ok := recordStatusFor(ev.Type); ok && rec.Status.CanAdvanceTo(status) {
		if err := s.deliveries.UpdateStatus(ctx, ev.TrackingID, status, "", ""); err != nil {
			return fmt.Errorf("advance delivery record: %w", err)
		}
	}

	return s.bumpCounters(ctx, rec, ev)
}

// recordStatusFor maps lifecycle events onto delivery-record statuses.
// Engagement events never move the record (beyond the delivered promotion
// handled above).
func recordStatusFor(t domain.EventType) (domain.DeliveryStatus, bool) {
	switch t {
	case domain.EventSent:
		return domain.DeliverySent, true
	case domain.EventDelivered:
		return domain.DeliveryDelivered, true
	case domain.EventBounced:
		return domain.DeliveryBounced, true
	}
	return "", false
}

// bumpCounters translates one event into a counter delta. The store
// applies it atomically, so concurrent Apply calls cannot lose updates.
func (s *Service) bumpCounters(ctx context.Context, rec *domain.DeliveryRecord, ev domain.DeliveryEvent) error {
	var d domain.MetricsDelta
	switch ev.Type {
	case domain.EventSent:
		d.Sent = 1
	case domain.EventDelivered:
		d.Delivered = 1
	case domain.EventBounced:
		d.Bounced = 1
	case domain.EventOpened:
		d.Opened = 1
		if delay, ok := openDelayMinutes(rec, ev); ok {
			d.OpenDelayMinutes = &delay
		}
	case domain.EventClicked:
		d.Clicked = 1
	case domain.EventConverted:
		d.Converted = 1
		if v, ok := ev.Metadata["revenue"]; ok {
			var revenue float64
			if _, err := fmt.Sscanf(v, "%f", &revenue); err == nil {
				d.Revenue = revenue
			}
		}
	case domain.EventUnsubscribed:
		d.Unsubscribed = 1
	default:
		return nil
	}

	d.ObservedAt = ev.Timestamp
	return s.metrics.Increment(ctx, rec.CampaignID, d)
}

// openDelayMinutes measures how long after the send the open happened.
func openDelayMinutes(rec *domain.DeliveryRecord, ev domain.DeliveryEvent) (float64, bool) {
	if rec.SentAt == nil || ev.Timestamp.IsZero() || ev.Timestamp.Before(*rec.SentAt) {
		return 0, false
	}
	return ev.Timestamp.Sub(*rec.SentAt).Minutes(), true
}

// CampaignMetrics returns the aggregate for one campaign. A campaign with
// no events yet reports zeroed counters, not an error.
func (s *Service) CampaignMetrics(ctx context.Context, campaignID string) (*domain.CampaignMetrics, error) {
	m, err := s.metrics.Get(ctx, campaignID)
	if err != nil || m == nil {
		return &domain.CampaignMetrics{CampaignID: campaignID, UpdatedAt: time.Now()}, nil
	}
	return m, nil
}

// OverviewStats aggregates across all campaigns. Rates are weighted by
// delivered volume, not averaged per campaign, so a two-recipient campaign
// cannot skew the fleet-wide numbers.
func (s *Service) OverviewStats(ctx context.Context) (*domain.OverviewStats, error) {
	all, err := s.metrics.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}

	out := &domain.OverviewStats{Campaigns: len(all)}
	for _, m := range all {
		out.TotalSent += m.Sent
		out.TotalDelivered += m.Delivered
		out.TotalBounced += m.Bounced
		out.TotalOpened += m.Opened
		out.TotalClicked += m.Clicked
		out.TotalConverted += m.Converted
		out.TotalUnsubscribed += m.Unsubscribed
		out.TotalRevenue += m.Revenue
	}
	if out.TotalDelivered > 0 {
		out.WeightedOpenRate = float64(out.TotalOpened) / float64(out.TotalDelivered)
		out.WeightedClickRate = float64(out.TotalClicked) / float64(out.TotalDelivered)
	}
	return out, nil
}

package campaign

import (
	"context"

	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/personalize"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// UpdateStatus transitions a campaign's status. Returns
	// ErrInvalidTransition if the state machine forbids the move.
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error
}

// ListFilter controls filtering and pagination for campaign lists.
type ListFilter struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

// RecipientSource provides recipient snapshots and behavior profiles.
// Snapshot must preserve input order and is taken once per execution so
// concurrent profile edits cannot race a running send.
type RecipientSource interface {
	Snapshot(ctx context.Context, ids []string) ([]domain.Recipient, error)

	// Profile returns nil, nil when the recipient has no behavioral history.
	Profile(ctx context.Context, recipientID string) (*domain.BehaviorProfile, error)
}

// DeliveryRepository persists delivery records. Find supports idempotent
// dispatch: one record per (campaignID, recipientID) per execution.
type DeliveryRepository interface {
	Append(ctx context.Context, rec *domain.DeliveryRecord) error
	UpdateStatus(ctx context.Context, trackingID string, status domain.DeliveryStatus, providerID, errMsg string) error
	GetByTracking(ctx context.Context, trackingID string) (*domain.DeliveryRecord, error)

	// Find returns nil, nil when no record exists for the pair.
	Find(ctx context.Context, campaignID, recipientID string) (*domain.DeliveryRecord, error)

	ListByCampaign(ctx context.Context, campaignID string) ([]domain.DeliveryRecord, error)
}

// TemplateSource resolves template IDs to raw templates.
type TemplateSource interface {
	Template(ctx context.Context, templateID string) (personalize.Template, error)
}

// MarketSource provides local market data for ADVANCED personalization.
// Returns nil, nil when no data exists for the location.
type MarketSource interface {
	MarketFor(ctx context.Context, location string) (*personalize.MarketSnapshot, error)
}

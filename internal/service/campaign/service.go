package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/propertypulse/campaign-engine/internal/analytics"
	"github.com/propertypulse/campaign-engine/internal/dispatch"
	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/personalize"
	"github.com/propertypulse/campaign-engine/internal/pkg/logger"
)

// Service implements the campaign engine: lifecycle state machine plus the
// execution runner that drives personalization, send-time optimization, and
// dispatch. All public methods are safe for concurrent use if the
// underlying repositories are concurrency-safe.
type Service struct {
	campaigns  Repository
	recipients RecipientSource
	deliveries DeliveryRepository
	templates  TemplateSource
	market     MarketSource
	analytics  *analytics.Service
	dispatcher *dispatch.Dispatcher
	renderer   *personalize.Engine
	notifier   Notifier

	redisClient *redis.Client // nil selects in-process token buckets
	workers     int

	buckets *bucketCache
	now     func() time.Time
}

// Deps wires the service's collaborators. Notifier and MarketSource are
// optional; Workers <= 0 selects a default pool size.
type Deps struct {
	Campaigns  Repository
	Recipients RecipientSource
	Deliveries DeliveryRepository
	Templates  TemplateSource
	Market     MarketSource
	Analytics  *analytics.Service
	Dispatcher *dispatch.Dispatcher
	Renderer   *personalize.Engine
	Notifier   Notifier
	Redis      *redis.Client
	Workers    int
}

// NewService creates the campaign engine.
func NewService(d Deps) *Service {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Workers <= 0 {
		d.Workers = 8
	}
	return &Service{
		campaigns:   d.Campaigns,
		recipients:  d.Recipients,
		deliveries:  d.Deliveries,
		templates:   d.Templates,
		market:      d.Market,
		analytics:   d.Analytics,
		dispatcher:  d.Dispatcher,
		renderer:    d.Renderer,
		notifier:    d.Notifier,
		redisClient: d.Redis,
		workers:     d.Workers,
		buckets:     newBucketCache(),
		now:         time.Now,
	}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.campaigns.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, error) {
	return s.campaigns.List(ctx, f)
}

// Create validates and persists a new campaign. Campaigns with a future
// fixed schedule land in scheduled status; immediate and smart-timing
// campaigns go straight to running (dispatch still honors per-recipient
// send times).
func (s *Service) Create(ctx context.Context, cfg domain.CampaignConfig) (*domain.Campaign, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	now := s.now()
	status := domain.CampaignRunning
	if cfg.ScheduledFor != nil && cfg.ScheduledFor.After(now) && !cfg.UseSmartTiming {
		status = domain.CampaignScheduled
	}

	c := &domain.Campaign{
		ID:        uuid.New().String(),
		Status:    status,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := s.campaigns.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	c.ID = id

	s.notify(c.ID, NotifyCreated, map[string]interface{}{
		"name":       cfg.Name,
		"type":       string(cfg.Type),
		"recipients": len(cfg.RecipientIDs),
	})
	return c, nil
}

// Pause stops new batches after the current one finishes. In-flight sends
// are not recalled. Valid only from running.
func (s *Service) Pause(ctx context.Context, id string) error {
	c, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, c.Status)
	}
	if err := s.campaigns.UpdateStatus(ctx, id, domain.CampaignPaused); err != nil {
		return err
	}
	s.notify(id, NotifyPaused, nil)
	return nil
}

// Resume moves a paused campaign back to running. Execution picks up from
// the first unprocessed recipient; dispatch idempotency makes the overlap
// safe.
func (s *Service) Resume(ctx context.Context, id string) error {
	c, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignPaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, c.Status)
	}
	if err := s.campaigns.UpdateStatus(ctx, id, domain.CampaignRunning); err != nil {
		return err
	}
	s.notify(id, NotifyResumed, nil)
	return nil
}

// Cancel stops further dispatch from any non-terminal state. Provider
// calls already issued are allowed to complete.
func (s *Service) Cancel(ctx context.Context, id string) error {
	c, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.IsTerminal() {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, c.Status)
	}
	return s.campaigns.UpdateStatus(ctx, id, domain.CampaignCancelled)
}

// Metrics delegates to the analytics aggregator. Read-only.
func (s *Service) Metrics(ctx context.Context, id string) (*domain.CampaignMetrics, error) {
	if _, err := s.campaigns.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.analytics.CampaignMetrics(ctx, id)
}

// Overview delegates to the analytics aggregator. Read-only.
func (s *Service) Overview(ctx context.Context) (*domain.OverviewStats, error) {
	return s.analytics.OverviewStats(ctx)
}

func (s *Service) notify(id string, t NotificationType, payload map[string]interface{}) {
	s.notifier.Notify(Notification{
		CampaignID: id,
		Type:       t,
		Timestamp:  s.now(),
		Payload:    payload,
	})
}

func validateConfig(cfg domain.CampaignConfig) error {
	if cfg.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	switch cfg.Type {
	case domain.CampaignPropertyUpdates, domain.CampaignMarketInsights,
		domain.CampaignMilestoneCelebrations, domain.CampaignCustom:
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not a campaign type", cfg.Type)}
	}
	switch cfg.Channel {
	case domain.ChannelEmail, domain.ChannelSMS, domain.ChannelBoth:
	default:
		return &ValidationError{Field: "channel", Reason: fmt.Sprintf("%q is not a delivery channel", cfg.Channel)}
	}
	if len(cfg.RecipientIDs) == 0 {
		return &ValidationError{Field: "recipient_ids", Reason: "must not be empty"}
	}
	if cfg.BatchSize <= 0 {
		return &ValidationError{Field: "batch_size", Reason: "must be positive"}
	}
	if cfg.MaxSendsPerHour <= 0 {
		return &ValidationError{Field: "max_sends_per_hour", Reason: "must be positive"}
	}
	if cfg.EnablePersonalization {
		switch cfg.PersonalizationLevel {
		case domain.PersonalizationBasic, domain.PersonalizationAdvanced:
		case domain.PersonalizationAIPowered:
			// Subject-line optimization is email semantics.
			if cfg.Channel == domain.ChannelSMS {
				return &ValidationError{Field: "personalization_level", Reason: "ai_powered requires an email channel"}
			}
		default:
			return &ValidationError{Field: "personalization_level", Reason: fmt.Sprintf("%q is not a level", cfg.PersonalizationLevel)}
		}
	}
	if cfg.TemplateID == "" {
		return &ValidationError{Field: "template_id", Reason: "is required"}
	}
	return nil
}

// effectiveLevel collapses the personalization switches into one tier.
func effectiveLevel(cfg domain.CampaignConfig) domain.PersonalizationLevel {
	if !cfg.EnablePersonalization {
		return domain.PersonalizationBasic
	}
	return cfg.PersonalizationLevel
}

// bucketFor returns the campaign's shared token bucket, creating it on
// first use. The bucket is the sole hot-path shared resource; it lives for
// the life of the process so pause/resume cannot reset the refill clock.
func (s *Service) bucketFor(c *domain.Campaign) dispatch.TokenBucket {
	return s.buckets.get(c.ID, func() dispatch.TokenBucket {
		return dispatch.NewTokenBucket(s.redisClient, c.ID, c.Config.MaxSendsPerHour, c.Config.BatchSize)
	})
}

// marketFor loads market data for a recipient, tolerating absence.
func (s *Service) marketFor(ctx context.Context, r domain.Recipient) *personalize.MarketSnapshot {
	if s.market == nil || r.Location == "" {
		return nil
	}
	snap, err := s.market.MarketFor(ctx, r.Location)
	if err != nil {
		logger.Warn("market data lookup failed", "location", r.Location, "error", err.Error())
		return nil
	}
	return snap
}

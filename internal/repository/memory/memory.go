// Package memory provides in-memory repository implementations used by
// tests and by demo mode (no DATABASE_URL configured). All types are safe
// for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/personalize"
	"github.com/propertypulse/campaign-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository.
type CampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
}

// NewCampaignRepo creates an empty campaign repository.
func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{campaigns: make(map[string]*domain.Campaign)}
}

func (r *CampaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		if f.Type != "" && string(c.Config.Type) != f.Type {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		return "", fmt.Errorf("campaign id required")
	}
	cp := *c
	r.campaigns[cp.ID] = &cp
	return cp.ID, nil
}

func (r *CampaignRepo) UpdateStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if !c.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", campaign.ErrInvalidTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	switch status {
	case domain.CampaignRunning:
		if c.StartedAt == nil {
			now := time.Now()
			c.StartedAt = &now
		}
	case domain.CampaignCompleted, domain.CampaignCancelled:
		now := time.Now()
		c.CompletedAt = &now
	}
	return nil
}

// RecipientRepo implements campaign.RecipientSource.
type RecipientRepo struct {
	mu         sync.Mutex
	recipients map[string]domain.Recipient
	profiles   map[string]domain.BehaviorProfile
}

// NewRecipientRepo creates an empty recipient repository.
func NewRecipientRepo() *RecipientRepo {
	return &RecipientRepo{
		recipients: make(map[string]domain.Recipient),
		profiles:   make(map[string]domain.BehaviorProfile),
	}
}

// Put inserts or replaces a recipient.
func (r *RecipientRepo) Put(rec domain.Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipients[rec.ID] = rec
}

// PutProfile inserts or replaces a behavior profile.
func (r *RecipientRepo) PutProfile(p domain.BehaviorProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.RecipientID] = p
}

// Snapshot returns copies of the requested recipients in input order.
// Unknown IDs are skipped rather than failing the whole run.
func (r *RecipientRepo) Snapshot(_ context.Context, ids []string) ([]domain.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Recipient, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.recipients[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *RecipientRepo) Profile(_ context.Context, recipientID string) (*domain.BehaviorProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[recipientID]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

// DeliveryRepo implements campaign.DeliveryRepository (and with it the
// narrower dispatch.DeliveryStore and analytics.DeliveryReader).
type DeliveryRepo struct {
	mu       sync.Mutex
	byTrack  map[string]*domain.DeliveryRecord
	byPair   map[string]string // campaignID/recipientID -> trackingID
	ordered  []string
}

// NewDeliveryRepo creates an empty delivery repository.
func NewDeliveryRepo() *DeliveryRepo {
	return &DeliveryRepo{
		byTrack: make(map[string]*domain.DeliveryRecord),
		byPair:  make(map[string]string),
	}
}

func pairKey(campaignID, recipientID string) string {
	return campaignID + "/" + recipientID
}

func (r *DeliveryRepo) Append(_ context.Context, rec *domain.DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(rec.CampaignID, rec.RecipientID)
	if _, exists := r.byPair[key]; exists {
		return fmt.Errorf("delivery record already exists for %s", key)
	}
	cp := *rec
	r.byTrack[rec.TrackingID] = &cp
	r.byPair[key] = rec.TrackingID
	r.ordered = append(r.ordered, rec.TrackingID)
	return nil
}

func (r *DeliveryRepo) UpdateStatus(_ context.Context, trackingID string, status domain.DeliveryStatus, providerID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byTrack[trackingID]
	if !ok {
		return fmt.Errorf("unknown tracking id %s", trackingID)
	}
	if !rec.Status.CanAdvanceTo(status) {
		return fmt.Errorf("delivery status may not move %s -> %s", rec.Status, status)
	}
	rec.Status = status
	if providerID != "" {
		rec.ProviderID = providerID
	}
	if errMsg != "" {
		rec.Error = errMsg
	}
	now := time.Now()
	switch status {
	case domain.DeliverySent:
		rec.SentAt = &now
	case domain.DeliveryDelivered:
		rec.DeliveredAt = &now
	}
	return nil
}

func (r *DeliveryRepo) GetByTracking(_ context.Context, trackingID string) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byTrack[trackingID]
	if !ok {
		return nil, fmt.Errorf("unknown tracking id %s", trackingID)
	}
	cp := *rec
	return &cp, nil
}

func (r *DeliveryRepo) Find(_ context.Context, campaignID, recipientID string) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trackingID, ok := r.byPair[pairKey(campaignID, recipientID)]
	if !ok {
		return nil, nil
	}
	cp := *r.byTrack[trackingID]
	return &cp, nil
}

// ListByCampaign returns the campaign's records in creation order.
func (r *DeliveryRepo) ListByCampaign(_ context.Context, campaignID string) ([]domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, trackingID := range r.ordered {
		rec := r.byTrack[trackingID]
		if rec.CampaignID == campaignID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// MetricsRepo implements analytics.MetricsStore.
type MetricsRepo struct {
	mu      sync.Mutex
	metrics map[string]domain.CampaignMetrics
}

// NewMetricsRepo creates an empty metrics repository.
func NewMetricsRepo() *MetricsRepo {
	return &MetricsRepo{metrics: make(map[string]domain.CampaignMetrics)}
}

func (r *MetricsRepo) Get(_ context.Context, campaignID string) (*domain.CampaignMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[campaignID]
	if !ok {
		return nil, nil
	}
	cp := m
	return &cp, nil
}

// Increment applies one event's delta under the repository mutex, so
// concurrent events never lose an update.
func (r *MetricsRepo) Increment(_ context.Context, campaignID string, d domain.MetricsDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.metrics[campaignID]
	m.CampaignID = campaignID
	m.Sent += d.Sent
	m.Delivered += d.Delivered
	m.Bounced += d.Bounced
	m.Opened += d.Opened
	m.Clicked += d.Clicked
	m.Converted += d.Converted
	m.Unsubscribed += d.Unsubscribed
	if d.OpenDelayMinutes != nil && m.Opened > 0 {
		// Incremental running average; no stored sums to drift.
		m.AvgOpenTimeMinutes += (*d.OpenDelayMinutes - m.AvgOpenTimeMinutes) / float64(m.Opened)
	}
	m.Revenue += d.Revenue
	if d.ObservedAt.After(m.UpdatedAt) {
		m.UpdatedAt = d.ObservedAt
	}
	r.metrics[campaignID] = m
	return nil
}

func (r *MetricsRepo) All(_ context.Context) ([]domain.CampaignMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CampaignMetrics, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	return out, nil
}

// DedupSet implements analytics.Dedup.
type DedupSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewDedupSet creates an empty dedup set.
func NewDedupSet() *DedupSet {
	return &DedupSet{seen: make(map[string]bool)}
}

func (d *DedupSet) MarkProcessed(_ context.Context, trackingID string, t domain.EventType) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := trackingID + ":" + string(t)
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

// TemplateRepo implements campaign.TemplateSource.
type TemplateRepo struct {
	mu        sync.Mutex
	templates map[string]personalize.Template
}

// NewTemplateRepo creates an empty template repository.
func NewTemplateRepo() *TemplateRepo {
	return &TemplateRepo{templates: make(map[string]personalize.Template)}
}

// Put inserts or replaces a template.
func (r *TemplateRepo) Put(tpl personalize.Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tpl.ID] = tpl
}

func (r *TemplateRepo) Template(_ context.Context, templateID string) (personalize.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[templateID]
	if !ok {
		return personalize.Template{}, fmt.Errorf("template %s not found", templateID)
	}
	return tpl, nil
}

// MarketRepo implements campaign.MarketSource over a static table.
type MarketRepo struct {
	mu   sync.Mutex
	data map[string]personalize.MarketSnapshot
}

// NewMarketRepo creates an empty market data repository.
func NewMarketRepo() *MarketRepo {
	return &MarketRepo{data: make(map[string]personalize.MarketSnapshot)}
}

// Put inserts or replaces a location's market snapshot.
func (r *MarketRepo) Put(location string, snap personalize.MarketSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[location] = snap
}

func (r *MarketRepo) MarketFor(_ context.Context, location string) (*personalize.MarketSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.data[location]
	if !ok {
		return nil, nil
	}
	cp := snap
	return &cp, nil
}

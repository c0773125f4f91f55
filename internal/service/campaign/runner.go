package campaign

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/propertypulse/campaign-engine/internal/dispatch"
	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/personalize"
	"github.com/propertypulse/campaign-engine/internal/sendtime"
)

// bucketCache holds one token bucket per campaign for the process
// lifetime.
type bucketCache struct {
	mu      sync.Mutex
	buckets map[string]dispatch.TokenBucket
}

func newBucketCache() *bucketCache {
	return &bucketCache{buckets: make(map[string]dispatch.TokenBucket)}
}

func (c *bucketCache) get(key string, build func() dispatch.TokenBucket) dispatch.TokenBucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buckets[key]; ok {
		return b
	}
	b := build()
	c.buckets[key] = b
	return b
}

// Execute runs one pass over a running campaign's recipients: resolve
// channel, compute dispatch time, render content, and hand batches to the
// dispatcher. Scheduled campaigns whose time has arrived are started here.
//
// Execution is idempotent per (campaign, recipient): recipients that
// already have a delivery record are skipped, so re-invoking Execute or
// resuming after a pause never double-sends. Pause and cancel take effect
// between batches only; an in-progress batch always completes.
func (s *Service) Execute(ctx context.Context, id string) error {
	c, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return err
	}

	switch c.Status {
	case domain.CampaignScheduled:
		if c.Config.ScheduledFor != nil && c.Config.ScheduledFor.After(s.now()) {
			return fmt.Errorf("%w: campaign is scheduled for %s", ErrInvalidTransition, c.Config.ScheduledFor)
		}
		if err := s.campaigns.UpdateStatus(ctx, id, domain.CampaignRunning); err != nil {
			return err
		}
		c.Status = domain.CampaignRunning
	case domain.CampaignRunning:
	default:
		return fmt.Errorf("%w: execute from %s", ErrInvalidTransition, c.Status)
	}

	// Snapshot once; concurrent recipient edits cannot race this run.
	recipients, err := s.recipients.Snapshot(ctx, c.Config.RecipientIDs)
	if err != nil {
		return fmt.Errorf("snapshot recipients: %w", err)
	}
	tpl, err := s.templates.Template(ctx, c.Config.TemplateID)
	if err != nil {
		return s.failCampaign(ctx, id, fmt.Errorf("load template %s: %w", c.Config.TemplateID, err))
	}

	s.notify(id, NotifyStarted, map[string]interface{}{"recipients": len(recipients)})
	log.Printf("[CampaignRunner] Campaign %s: starting run over %d recipients", id, len(recipients))

	bucket := s.bucketFor(c)
	var attempted, failed int

	for start := 0; start < len(recipients); start += c.Config.BatchSize {
		// Pause/cancel are honored here, never mid-batch.
		fresh, err := s.campaigns.Get(ctx, id)
		if err != nil {
			return err
		}
		switch fresh.Status {
		case domain.CampaignRunning:
		case domain.CampaignPaused:
			log.Printf("[CampaignRunner] Campaign %s: paused after %d recipients", id, start)
			return nil
		default:
			log.Printf("[CampaignRunner] Campaign %s: stopping, status is %s", id, fresh.Status)
			return nil
		}

		end := start + c.Config.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		items, err := s.buildBatch(ctx, c, tpl, recipients[start:end])
		if err != nil {
			return s.failCampaign(ctx, id, err)
		}
		if len(items) == 0 {
			continue
		}

		res, err := s.dispatcher.DispatchBatch(ctx, bucket, items)
		if err != nil {
			return s.failCampaign(ctx, id, fmt.Errorf("dispatch batch: %w", err))
		}
		attempted += len(items)
		failed += res.Failed

		for _, out := range res.Outcomes {
			if out.Status == domain.DeliverySent {
				s.notify(id, NotifySent, map[string]interface{}{
					"recipient_id": out.RecipientID,
					"tracking_id":  out.TrackingID,
				})
			}
		}
	}

	// Every dispatch in the run failing is systemic, not per-recipient.
	if attempted > 0 && failed == attempted {
		return s.failCampaign(ctx, id, fmt.Errorf("all %d dispatches failed", attempted))
	}

	if err := s.campaigns.UpdateStatus(ctx, id, domain.CampaignCompleted); err != nil {
		return err
	}
	s.notify(id, NotifyCompleted, map[string]interface{}{
		"attempted": attempted,
		"failed":    failed,
	})
	log.Printf("[CampaignRunner] Campaign %s: completed (%d attempted, %d failed)", id, attempted, failed)
	return nil
}

// buildBatch prepares dispatch items for one batch of recipients.
// Channel resolution, send-time computation, and rendering are pure, so
// they run across a bounded worker pool; input order is preserved by
// writing results into indexed slots.
func (s *Service) buildBatch(ctx context.Context, c *domain.Campaign, tpl personalize.Template, batch []domain.Recipient) ([]dispatch.Item, error) {
	type slot struct {
		item dispatch.Item
		ok   bool
		err  error
	}
	slots := make([]slot, len(batch))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers)
	for i, r := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, r domain.Recipient) {
			defer wg.Done()
			defer func() { <-sem }()
			item, ok, err := s.buildItem(ctx, c, tpl, r)
			slots[i] = slot{item: item, ok: ok, err: err}
		}(i, r)
	}
	wg.Wait()

	items := make([]dispatch.Item, 0, len(batch))
	for _, sl := range slots {
		if sl.err != nil {
			return nil, sl.err
		}
		if sl.ok {
			items = append(items, sl.item)
		}
	}
	return items, nil
}

// buildItem prepares one recipient's dispatch item. ok=false means the
// recipient is skipped (ineligible channel or already dispatched).
func (s *Service) buildItem(ctx context.Context, c *domain.Campaign, tpl personalize.Template, r domain.Recipient) (dispatch.Item, bool, error) {
	resolved := domain.ResolveChannel(r, c.Config.Channel)
	if resolved == domain.ChannelSkip {
		return dispatch.Item{}, false, nil
	}
	// One delivery record per (campaign, recipient): a recipient eligible
	// on both channels gets email, their richer channel.
	if resolved == domain.ChannelBoth {
		resolved = domain.ChannelEmail
	}

	existing, err := s.deliveries.Find(ctx, c.ID, r.ID)
	if err != nil {
		return dispatch.Item{}, false, fmt.Errorf("idempotency check for %s: %w", r.ID, err)
	}
	if existing != nil {
		return dispatch.Item{}, false, nil
	}

	profile, err := s.recipients.Profile(ctx, r.ID)
	if err != nil {
		return dispatch.Item{}, false, fmt.Errorf("load profile for %s: %w", r.ID, err)
	}

	rec := sendtime.Compute(r, profile, c.Config.Type, c.Config.UseSmartTiming, c.Config.ScheduledFor, s.now())

	rendered := s.renderer.Render(tpl, personalize.Input{
		CampaignType: c.Config.Type,
		Recipient:    r,
		Profile:      profile,
		Market:       s.marketFor(ctx, r),
	}, effectiveLevel(c.Config))

	address := r.Email
	subject := rendered.Subject
	if resolved == domain.ChannelSMS {
		address = r.Phone
		subject = ""
	}

	return dispatch.Item{
		Message: dispatch.Message{
			TrackingID:  uuid.New().String(),
			CampaignID:  c.ID,
			RecipientID: r.ID,
			Channel:     resolved,
			Address:     address,
			Subject:     subject,
			Body:        rendered.Body,
		},
		DispatchAt: rec.At,
	}, true, nil
}

// failCampaign handles systemic failure: emit the failed notification and
// move the campaign to cancelled.
func (s *Service) failCampaign(ctx context.Context, id string, cause error) error {
	log.Printf("[CampaignRunner] Campaign %s: systemic failure: %v", id, cause)
	s.notify(id, NotifyFailed, map[string]interface{}{"reason": cause.Error()})
	if err := s.campaigns.UpdateStatus(ctx, id, domain.CampaignCancelled); err != nil {
		log.Printf("[CampaignRunner] Campaign %s: cancel after failure also failed: %v", id, err)
	}
	return fmt.Errorf("%w: %v", ErrCampaignFailed, cause)
}

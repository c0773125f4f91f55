// Package dispatch converts rendered messages into rate-limited,
// time-aware provider calls and owns the delivery-record lifecycle.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/pkg/logger"
)

// DeliveryStore is the slice of persistence the dispatcher needs. The full
// repository contract lives with the campaign service; implementations
// satisfy both.
type DeliveryStore interface {
	Append(ctx context.Context, rec *domain.DeliveryRecord) error
	UpdateStatus(ctx context.Context, trackingID string, status domain.DeliveryStatus, providerID, errMsg string) error
}

// Item is one unit of work: a rendered message plus its dispatch time.
// TrackingID is assigned by the caller before enqueueing so that delivery
// records and engagement events share a key.
type Item struct {
	Message    Message
	DispatchAt time.Time
}

// Config tunes the dispatcher. Zero values select production defaults.
type Config struct {
	MaxAttempts  int           // provider attempts per item (default 4: 1 + 3 retries)
	BaseBackoff  time.Duration // first retry delay, doubled each attempt (default 1s)
	CallTimeout  time.Duration // per provider call (default 30s)
	PollInterval time.Duration // sleep granularity while waiting (default 2s)
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
}

// Dispatcher sends batches of items through channel providers, enforcing
// the campaign's token bucket and each item's dispatch time.
type Dispatcher struct {
	store     DeliveryStore
	providers map[domain.Channel]Provider
	cfg       Config
	now       func() time.Time
}

// New creates a dispatcher. providers maps single channels (email, sms) to
// their adapters; BOTH items are fanned out by the campaign runner before
// they reach the dispatcher.
func New(store DeliveryStore, providers map[domain.Channel]Provider, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		store:     store,
		providers: providers,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Outcome is the terminal status of one item in a batch.
type Outcome struct {
	TrackingID  string
	RecipientID string
	Status      domain.DeliveryStatus
	Err         string
}

// Result summarizes one batch.
type Result struct {
	Sent     int
	Failed   int
	Outcomes []Outcome
}

// DispatchBatch processes items in order: waits for each item's dispatch
// time, takes a rate-limit token, writes a PENDING delivery record, calls
// the provider with retries, and records the terminal status. A single
// item's failure never aborts the batch. The returned error is non-nil
// only for systemic conditions (context cancelled, store unavailable).
func (d *Dispatcher) DispatchBatch(ctx context.Context, bucket TokenBucket, items []Item) (Result, error) {
	var res Result
	for _, item := range items {
		if err := d.waitUntilDue(ctx, item.DispatchAt); err != nil {
			return res, err
		}
		if err := d.waitForToken(ctx, bucket, item.Message.CampaignID); err != nil {
			return res, err
		}

		rec := &domain.DeliveryRecord{
			TrackingID:  item.Message.TrackingID,
			CampaignID:  item.Message.CampaignID,
			RecipientID: item.Message.RecipientID,
			Channel:     item.Message.Channel,
			Status:      domain.DeliveryPending,
			CreatedAt:   d.now(),
		}
		if err := d.store.Append(ctx, rec); err != nil {
			return res, fmt.Errorf("append delivery record: %w", err)
		}

		receipt, err := d.sendWithRetry(ctx, item.Message)
		if err != nil {
			log.Printf("[Dispatcher] Campaign %s recipient %s failed permanently: %v",
				item.Message.CampaignID, item.Message.RecipientID, err)
			if uerr := d.store.UpdateStatus(ctx, rec.TrackingID, domain.DeliveryFailed, "", err.Error()); uerr != nil {
				return res, fmt.Errorf("mark delivery failed: %w", uerr)
			}
			res.Failed++
			res.Outcomes = append(res.Outcomes, Outcome{
				TrackingID:  rec.TrackingID,
				RecipientID: rec.RecipientID,
				Status:      domain.DeliveryFailed,
				Err:         err.Error(),
			})
			continue
		}

		if uerr := d.store.UpdateStatus(ctx, rec.TrackingID, domain.DeliverySent, receipt.ProviderMessageID, ""); uerr != nil {
			return res, fmt.Errorf("mark delivery sent: %w", uerr)
		}
		res.Sent++
		res.Outcomes = append(res.Outcomes, Outcome{
			TrackingID:  rec.TrackingID,
			RecipientID: rec.RecipientID,
			Status:      domain.DeliverySent,
		})
	}
	return res, nil
}

// waitUntilDue sleeps in poll-interval steps until the dispatch time
// arrives. Time-aware, not just rate-aware: future items are held, never
// dropped.
func (d *Dispatcher) waitUntilDue(ctx context.Context, at time.Time) error {
	for {
		remaining := at.Sub(d.now())
		if remaining <= 0 {
			return nil
		}
		step := remaining
		if step > d.cfg.PollInterval {
			step = d.cfg.PollInterval
		}
		if err := sleepCtx(ctx, step); err != nil {
			return err
		}
	}
}

// waitForToken blocks until the bucket grants a token. A denial is a
// scheduling deferral, observable only at debug level.
func (d *Dispatcher) waitForToken(ctx context.Context, bucket TokenBucket, campaignID string) error {
	for {
		allowed, wait, err := bucket.Take(ctx, 1)
		if err != nil {
			return fmt.Errorf("rate limit check: %w", err)
		}
		if allowed {
			return nil
		}
		logger.Debug("rate limit deferral", "campaign_id", campaignID, "wait", wait.String())
		if wait <= 0 || wait > d.cfg.PollInterval {
			wait = d.cfg.PollInterval
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// sendWithRetry calls the provider with exponential backoff (1s, 2s, 4s by
// default). Timeouts count as transient failures. Permanent errors and
// attempt exhaustion both surface as a final error.
func (d *Dispatcher) sendWithRetry(ctx context.Context, msg Message) (Receipt, error) {
	provider, ok := d.providers[msg.Channel]
	if !ok {
		return Receipt{}, Permanent(fmt.Errorf("no provider for channel %s", msg.Channel))
	}

	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := d.cfg.BaseBackoff << (attempt - 1)
			log.Printf("[Dispatcher] retry %d/%d for %s (waiting %s)",
				attempt, d.cfg.MaxAttempts-1, msg.TrackingID, delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return Receipt{}, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		receipt, err := provider.Send(callCtx, msg)
		cancel()

		if err == nil {
			return receipt, nil
		}
		if IsPermanent(err) {
			return Receipt{}, err
		}
		if ctx.Err() != nil {
			return Receipt{}, ctx.Err()
		}
		lastErr = err
	}
	return Receipt{}, fmt.Errorf("provider dispatch failed after %d attempts: %w", d.cfg.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

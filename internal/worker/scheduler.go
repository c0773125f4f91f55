// Package worker runs the engine's background loops.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/service/campaign"
)

// DefaultSchedulerPollInterval is how often to check for due campaigns.
const DefaultSchedulerPollInterval = 30 * time.Second

// Scheduler polls for scheduled campaigns whose time has arrived and
// executes them. One execution per campaign runs at a time; a campaign
// still running when the next poll fires is skipped.
type Scheduler struct {
	svc          *campaign.Service
	pollInterval time.Duration
	now          func() time.Time

	// Stats
	campaignsStarted int64
	errors           int64

	// In-flight executions, keyed by campaign ID.
	inflight sync.Map

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewScheduler creates a campaign scheduler.
func NewScheduler(svc *campaign.Service, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultSchedulerPollInterval
	}
	return &Scheduler{
		svc:          svc,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// Start begins the scheduler polling loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[Scheduler] Starting with poll interval: %v", s.pollInterval)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop gracefully stops the scheduler. In-flight campaign executions are
// cancelled through the shared context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Printf("[Scheduler] Stopping...")
	s.cancel()
	s.wg.Wait()
	log.Printf("[Scheduler] Stopped. Started: %d campaigns, Errors: %d",
		atomic.LoadInt64(&s.campaignsStarted), atomic.LoadInt64(&s.errors))
}

// Stats returns started and error counters.
func (s *Scheduler) Stats() (started, errors int64) {
	return atomic.LoadInt64(&s.campaignsStarted), atomic.LoadInt64(&s.errors)
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDueCampaigns()
		}
	}
}

// runDueCampaigns finds scheduled campaigns whose time has arrived and
// launches an execution for each.
func (s *Scheduler) runDueCampaigns() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	due, err := s.svc.List(ctx, campaign.ListFilter{Status: string(domain.CampaignScheduled)})
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		log.Printf("[Scheduler] Failed to list scheduled campaigns: %v", err)
		return
	}

	now := s.now()
	for _, c := range due {
		if c.Config.ScheduledFor != nil && c.Config.ScheduledFor.After(now) {
			continue
		}
		s.execute(c.ID)
	}
}

func (s *Scheduler) execute(id string) {
	if _, loaded := s.inflight.LoadOrStore(id, struct{}{}); loaded {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Delete(id)

		atomic.AddInt64(&s.campaignsStarted, 1)
		log.Printf("[Scheduler] Executing campaign %s", id)
		if err := s.svc.Execute(s.ctx, id); err != nil {
			atomic.AddInt64(&s.errors, 1)
			log.Printf("[Scheduler] Campaign %s execution failed: %v", id, err)
		}
	}()
}

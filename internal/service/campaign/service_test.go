package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/propertypulse/campaign-engine/internal/analytics"
	"github.com/propertypulse/campaign-engine/internal/dispatch"
	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/personalize"
	"github.com/propertypulse/campaign-engine/internal/repository/memory"
	"github.com/propertypulse/campaign-engine/internal/service/campaign"
)

// fakeProvider records sends and optionally fails them.
type fakeProvider struct {
	mu    sync.Mutex
	calls []dispatch.Message
	fail  func(msg dispatch.Message) error
}

func (p *fakeProvider) Send(_ context.Context, msg dispatch.Message) (dispatch.Receipt, error) {
	p.mu.Lock()
	p.calls = append(p.calls, msg)
	p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(msg); err != nil {
			return dispatch.Receipt{}, err
		}
	}
	return dispatch.Receipt{ProviderMessageID: "prov-" + msg.RecipientID, Status: "queued"}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProvider) messages() []dispatch.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]dispatch.Message, len(p.calls))
	copy(out, p.calls)
	return out
}

// recorder collects notifications and can run a hook on each one.
type recorder struct {
	mu     sync.Mutex
	notes  []campaign.Notification
	onNote func(n campaign.Notification)
}

func (r *recorder) Notify(n campaign.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	hook := r.onNote
	r.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (r *recorder) count(t campaign.NotificationType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Type == t {
			n++
		}
	}
	return n
}

type testEnv struct {
	svc        *campaign.Service
	campaigns  *memory.CampaignRepo
	recipients *memory.RecipientRepo
	deliveries *memory.DeliveryRepo
	email      *fakeProvider
	sms        *fakeProvider
	notes      *recorder
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	campaigns := memory.NewCampaignRepo()
	recipients := memory.NewRecipientRepo()
	deliveries := memory.NewDeliveryRepo()
	templates := memory.NewTemplateRepo()
	templates.Put(personalize.Template{
		ID:      "tpl-1",
		Subject: "News for you, {{ first_name }}",
		Body:    "Hi {{ first_name }}, here is your update.",
	})

	email := &fakeProvider{}
	sms := &fakeProvider{}
	disp := dispatch.New(deliveries, map[domain.Channel]dispatch.Provider{
		domain.ChannelEmail: email,
		domain.ChannelSMS:   sms,
	}, dispatch.Config{
		MaxAttempts:  2,
		BaseBackoff:  time.Millisecond,
		CallTimeout:  time.Second,
		PollInterval: time.Millisecond,
	})

	notes := &recorder{}
	svc := campaign.NewService(campaign.Deps{
		Campaigns:  campaigns,
		Recipients: recipients,
		Deliveries: deliveries,
		Templates:  templates,
		Analytics:  analytics.NewService(deliveries, memory.NewMetricsRepo(), memory.NewDedupSet()),
		Dispatcher: disp,
		Renderer:   personalize.NewEngine(nil),
		Notifier:   notes,
		Workers:    4,
	})

	return &testEnv{
		svc:        svc,
		campaigns:  campaigns,
		recipients: recipients,
		deliveries: deliveries,
		email:      email,
		sms:        sms,
		notes:      notes,
	}
}

func (e *testEnv) addRecipients(recs ...domain.Recipient) []string {
	ids := make([]string, 0, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			r.ID = fmt.Sprintf("rec-%d", i+1)
		}
		if r.Email == "" {
			r.Email = r.ID + "@example.com"
		}
		if r.Phone == "" {
			r.Phone = fmt.Sprintf("+1555000%04d", i+1)
		}
		if r.FirstName == "" {
			r.FirstName = "Taylor"
		}
		e.recipients.Put(r)
		ids = append(ids, r.ID)
	}
	return ids
}

func baseConfig(recipientIDs []string) domain.CampaignConfig {
	return domain.CampaignConfig{
		Name:            "Spring Listings",
		Type:            domain.CampaignPropertyUpdates,
		Channel:         domain.ChannelEmail,
		TemplateID:      "tpl-1",
		MaxSendsPerHour: 360000,
		BatchSize:       10,
		RecipientIDs:    recipientIDs,
	}
}

func TestCreateValidation(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ids := env.addRecipients(domain.Recipient{ChannelPreference: domain.ChannelEmail})

	cases := []struct {
		name   string
		mutate func(*domain.CampaignConfig)
		field  string
	}{
		{"missing name", func(c *domain.CampaignConfig) { c.Name = "" }, "name"},
		{"unknown type", func(c *domain.CampaignConfig) { c.Type = "carrier_pigeon" }, "type"},
		{"unknown channel", func(c *domain.CampaignConfig) { c.Channel = "fax" }, "channel"},
		{"no recipients", func(c *domain.CampaignConfig) { c.RecipientIDs = nil }, "recipient_ids"},
		{"zero batch", func(c *domain.CampaignConfig) { c.BatchSize = 0 }, "batch_size"},
		{"zero rate", func(c *domain.CampaignConfig) { c.MaxSendsPerHour = 0 }, "max_sends_per_hour"},
		{"missing template", func(c *domain.CampaignConfig) { c.TemplateID = "" }, "template_id"},
		{"ai on sms", func(c *domain.CampaignConfig) {
			c.Channel = domain.ChannelSMS
			c.EnablePersonalization = true
			c.PersonalizationLevel = domain.PersonalizationAIPowered
		}, "personalization_level"},
		{"bogus level", func(c *domain.CampaignConfig) {
			c.EnablePersonalization = true
			c.PersonalizationLevel = "telepathic"
		}, "personalization_level"},
	}
	for _, tc := range cases {
		cfg := baseConfig(ids)
		tc.mutate(&cfg)
		_, err := env.svc.Create(ctx, cfg)
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		var verr *campaign.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if verr.Field != tc.field {
			t.Fatalf("%s: expected field %q, got %q", tc.name, tc.field, verr.Field)
		}
	}
}

func TestCreateStatus(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ids := env.addRecipients(domain.Recipient{ChannelPreference: domain.ChannelEmail})

	c, err := env.svc.Create(ctx, baseConfig(ids))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != domain.CampaignRunning {
		t.Fatalf("immediate campaign should be running, got %s", c.Status)
	}

	future := time.Now().Add(24 * time.Hour)
	cfg := baseConfig(ids)
	cfg.ScheduledFor = &future
	c, err = env.svc.Create(ctx, cfg)
	if err != nil {
		t.Fatalf("create scheduled: %v", err)
	}
	if c.Status != domain.CampaignScheduled {
		t.Fatalf("future-scheduled campaign should be scheduled, got %s", c.Status)
	}

	// Smart timing owns per-recipient times; a fixed schedule does not gate it.
	cfg = baseConfig(ids)
	cfg.ScheduledFor = &future
	cfg.UseSmartTiming = true
	c, err = env.svc.Create(ctx, cfg)
	if err != nil {
		t.Fatalf("create smart: %v", err)
	}
	if c.Status != domain.CampaignRunning {
		t.Fatalf("smart-timing campaign should be running, got %s", c.Status)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ids := env.addRecipients(domain.Recipient{ChannelPreference: domain.ChannelEmail})

	future := time.Now().Add(time.Hour)
	cfg := baseConfig(ids)
	cfg.ScheduledFor = &future
	c, err := env.svc.Create(ctx, cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := env.svc.Pause(ctx, c.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("pause from scheduled should fail, got %v", err)
	}
	if err := env.svc.Resume(ctx, c.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("resume from scheduled should fail, got %v", err)
	}
	if err := env.svc.Cancel(ctx, c.ID); err != nil {
		t.Fatalf("cancel from scheduled: %v", err)
	}
	if err := env.svc.Cancel(ctx, c.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("cancel from cancelled should fail, got %v", err)
	}
	if err := env.svc.Resume(ctx, c.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("resume from cancelled should fail, got %v", err)
	}

	if err := env.svc.Pause(ctx, "no-such-id"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("pause unknown campaign should be not found, got %v", err)
	}
}

func TestExecuteSendsAllRecipients(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ids := env.addRecipients(
		domain.Recipient{ID: "r1", ChannelPreference: domain.ChannelEmail},
		domain.Recipient{ID: "r2", ChannelPreference: domain.ChannelEmail},
		domain.Recipient{ID: "r3", ChannelPreference: domain.ChannelBoth},
	)

	c, err := env.svc.Create(ctx, baseConfig(ids))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.svc.Execute(ctx, c.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := env.svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.CampaignCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	recs, err := env.deliveries.ListByCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 delivery records, got %d", len(recs))
	}
	for _, rec := range recs {
		if rec.Status != domain.DeliverySent {
			t.Fatalf("recipient %s: expected sent, got %s", rec.RecipientID, rec.Status)
		}
		if rec.SentAt == nil {
			t.Fatalf("recipient %s: sent_at not stamped", rec.RecipientID)
		}
	}
	if n := env.email.callCount(); n != 3 {
		t.Fatalf("expected 3 provider calls, got %d", n)
	}
	if n := env.notes.count(campaign.NotifySent); n != 3 {
		t.Fatalf("expected 3 sent notifications, got %d", n)
	}
	if n := env.notes.count(campaign.NotifyCompleted); n != 1 {
		t.Fatalf("expected 1 completed notification, got %d", n)
	}

	msgs := env.email.messages()
	if !strings.Contains(msgs[0].Body, "Taylor") {
		t.Fatalf("body not personalized: %q", msgs[0].Body)
	}
}

func TestPauseResumeNoDuplicates(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ids := env.addRecipients(
		domain.Recipient{ID: "r1", ChannelPreference: domain.ChannelEmail},
		domain.Recipient{ID: "r2", ChannelPreference: domain.ChannelEmail},
		domain.Recipient{ID: "r3", ChannelPreference: domain.ChannelEmail},
	)

	cfg := baseConfig(ids)
	cfg.BatchSize = 1
	c, err := env.svc.Create(ctx, cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Pause as soon as the first send lands. The runner honors it at the
	// next batch boundary.
	var once sync.Once
	env.notes.onNote = func(n campaign.Notification) {
		if n.Type == campaign.NotifySent {
			once.Do(func() {
				if err := env.svc.Pause(ctx, c.ID); err != nil {
					t.Errorf("pause: %v", err)
				}
			})
		}
	}

	if err := env.svc.Execute(ctx, c.ID); err != nil {
		t.Fatalf("execute (to pause): %v", err)
	}

	got, _ := env.svc.Get(ctx, c.ID)
	if got.Status != domain.CampaignPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}
	recs, _ := env.deliveries.ListByCampaign(ctx, c.ID)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record before resume, got %d", len(recs))
	}

	env.notes.onNote = nil
	if err := env.svc.Resume(ctx, c.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := env.svc.Execute(ctx, c.ID); err != nil {
		t.Fatalf("execute (resumed): %v", err)
	}

	got, _ = env.svc.Get(ctx, c.ID)
	if got.Status != domain.CampaignCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	recs, _ = env.deliveries.ListByCampaign(ctx, c.ID)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records after resume, got %d", len(recs))
	}
	if n := env.email.callCount(); n != 3 {
		t.Fatalf("recipient resent: %d provider calls for 3 recipients", n)
	}
	seen := make(map[string]bool)
	for _, rec := range recs {
		if seen[rec.RecipientID] {
			t.Fatalf("duplicate record for recipient %s", rec.RecipientID)
		}
		seen[rec.RecipientID] = true
	}
}

func TestBothChannelResolution(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ids := env.addRecipients(
		domain.Recipient{ID: "r1", ChannelPreference: domain.ChannelEmail},
		domain.Recipient{ID: "r2", ChannelPreference: domain.ChannelSMS},
		domain.Recipient{ID: "r3", ChannelPreference: domain.ChannelBoth},
		domain.Recipient{ID: "r4", ChannelPreference: domain.ChannelBoth},
		domain.Recipient{ID: "r5", ChannelPreference: domain.ChannelNone},
	)

	cfg := baseConfig(ids)
	cfg.Channel = domain.ChannelBoth
	c, err := env.svc.Create(ctx, cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.svc.Execute(ctx, c.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	recs, _ := env.deliveries.ListByCampaign(ctx, c.ID)
	if len(recs) != 4 {
		t.Fatalf("expected 4 records (none-preference skipped), got %d", len(recs))
	}
	byRecipient := make(map[string]domain.Channel)
	for _, rec := range recs {
		byRecipient[rec.RecipientID] = rec.Channel
	}
	if byRecipient["r1"] != domain.ChannelEmail {
		t.Fatalf("r1 should go by email, got %s", byRecipient["r1"])
	}
	if byRecipient["r2"] != domain.ChannelSMS {
		t.Fatalf("r2 should go by sms, got %s", byRecipient["r2"])
	}
	// Dual-eligible recipients collapse to email, the richer channel.
	if byRecipient["r3"] != domain.ChannelEmail || byRecipient["r4"] != domain.ChannelEmail {
		t.Fatalf("dual-eligible recipients should collapse to email: r3=%s r4=%s",
			byRecipient["r3"], byRecipient["r4"])
	}
	if _, ok := byRecipient["r5"]; ok {
		t.Fatal("r5 has preference none and must not get a record")
	}

	if n := env.sms.callCount(); n != 1 {
		t.Fatalf("expected 1 sms call, got %d", n)
	}
	if n := env.email.callCount(); n != 3 {
		t.Fatalf("expected 3 email calls, got %d", n)
	}
	if n := env.notes.count(campaign.NotifySent); n != 4 {
		t.Fatalf("expected 4 sent notifications, got %d", n)
	}
}

func TestUnsubscribedExcluded(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ids := env.addRecipients(
		domain.Recipient{ID: "r1", ChannelPreference: domain.ChannelEmail},
		domain.Recipient{ID: "r2", ChannelPreference: domain.ChannelEmail, Unsubscribed: true},
	)

	c, err := env.svc.Create(ctx, baseConfig(ids))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.svc.Execute(ctx, c.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	recs, _ := env.deliveries.ListByCampaign(ctx, c.ID)
	if len(recs) != 1 || recs[0].RecipientID != "r1" {
		t.Fatalf("expected only r1 to receive, got %+v", recs)
	}
}

func TestExecuteSMSUsesPhone(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ids := env.addRecipients(
		domain.Recipient{ID: "r1", Phone: "+15550001111", ChannelPreference: domain.ChannelSMS},
	)

	cfg := baseConfig(ids)
	cfg.Channel = domain.ChannelSMS
	c, err := env.svc.Create(ctx, cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.svc.Execute(ctx, c.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	msgs := env.sms.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 sms, got %d", len(msgs))
	}
	if msgs[0].Address != "+15550001111" {
		t.Fatalf("sms should target the phone number, got %q", msgs[0].Address)
	}
	if msgs[0].Subject != "" {
		t.Fatalf("sms must carry no subject, got %q", msgs[0].Subject)
	}
}

func TestExecuteGuards(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ids := env.addRecipients(domain.Recipient{ID: "r1", ChannelPreference: domain.ChannelEmail})

	// A scheduled campaign whose time has not arrived does not start.
	future := time.Now().Add(time.Hour)
	cfg := baseConfig(ids)
	cfg.ScheduledFor = &future
	c, err := env.svc.Create(ctx, cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.svc.Execute(ctx, c.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("expected schedule guard, got %v", err)
	}

	// Completed campaigns cannot run again.
	c2, err := env.svc.Create(ctx, baseConfig(ids))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.svc.Execute(ctx, c2.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := env.svc.Execute(ctx, c2.ID); !errors.Is(err, campaign.ErrInvalidTransition) {
		t.Fatalf("expected terminal guard, got %v", err)
	}

	if err := env.svc.Execute(ctx, "no-such-id"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAllSendsFailingCancelsCampaign(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	ids := env.addRecipients(
		domain.Recipient{ID: "r1", ChannelPreference: domain.ChannelEmail},
		domain.Recipient{ID: "r2", ChannelPreference: domain.ChannelEmail},
	)
	env.email.fail = func(dispatch.Message) error {
		return dispatch.Permanent(errors.New("hard bounce: address rejected"))
	}

	c, err := env.svc.Create(ctx, baseConfig(ids))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = env.svc.Execute(ctx, c.ID)
	if !errors.Is(err, campaign.ErrCampaignFailed) {
		t.Fatalf("expected campaign failure, got %v", err)
	}

	got, _ := env.svc.Get(ctx, c.ID)
	if got.Status != domain.CampaignCancelled {
		t.Fatalf("failed campaign should be cancelled, got %s", got.Status)
	}
	recs, _ := env.deliveries.ListByCampaign(ctx, c.ID)
	for _, rec := range recs {
		if rec.Status != domain.DeliveryFailed {
			t.Fatalf("recipient %s: expected failed, got %s", rec.RecipientID, rec.Status)
		}
		if rec.Error == "" {
			t.Fatalf("recipient %s: failure reason not recorded", rec.RecipientID)
		}
	}
	if n := env.notes.count(campaign.NotifyFailed); n != 1 {
		t.Fatalf("expected 1 failed notification, got %d", n)
	}
}

func TestMetricsForUnknownCampaign(t *testing.T) {
	env := newEnv(t)
	if _, err := env.svc.Metrics(context.Background(), "no-such-id"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

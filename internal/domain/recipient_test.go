package domain

import "testing"

func TestResolveChannel(t *testing.T) {
	tests := []struct {
		name     string
		pref     Channel
		unsub    bool
		campaign Channel
		want     Channel
	}{
		{"unsubscribed always skips", ChannelBoth, true, ChannelEmail, ChannelSkip},
		{"none preference skips", ChannelNone, false, ChannelBoth, ChannelSkip},
		{"empty preference skips", "", false, ChannelEmail, ChannelSkip},
		{"both campaign, both pref", ChannelBoth, false, ChannelBoth, ChannelBoth},
		{"both campaign, email pref", ChannelEmail, false, ChannelBoth, ChannelEmail},
		{"both campaign, sms pref", ChannelSMS, false, ChannelBoth, ChannelSMS},
		{"email campaign, email pref", ChannelEmail, false, ChannelEmail, ChannelEmail},
		{"email campaign, both pref", ChannelBoth, false, ChannelEmail, ChannelEmail},
		{"email campaign, sms pref", ChannelSMS, false, ChannelEmail, ChannelSkip},
		{"sms campaign, both pref", ChannelBoth, false, ChannelSMS, ChannelSMS},
		{"sms campaign, email pref", ChannelEmail, false, ChannelSMS, ChannelSkip},
	}

	for _, tt := range tests {
		r := Recipient{ID: "r1", ChannelPreference: tt.pref, Unsubscribed: tt.unsub}
		if got := ResolveChannel(r, tt.campaign); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestCampaignStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to CampaignStatus }{
		{CampaignDraft, CampaignScheduled},
		{CampaignDraft, CampaignRunning},
		{CampaignScheduled, CampaignRunning},
		{CampaignRunning, CampaignPaused},
		{CampaignRunning, CampaignCompleted},
		{CampaignPaused, CampaignRunning},
		{CampaignDraft, CampaignCancelled},
		{CampaignScheduled, CampaignCancelled},
		{CampaignRunning, CampaignCancelled},
		{CampaignPaused, CampaignCancelled},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to CampaignStatus }{
		{CampaignCompleted, CampaignRunning},
		{CampaignCompleted, CampaignCancelled},
		{CampaignCancelled, CampaignRunning},
		{CampaignPaused, CampaignCompleted},
		{CampaignScheduled, CampaignPaused},
		{CampaignDraft, CampaignCompleted},
	}
	for _, tr := range denied {
		if tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be rejected", tr.from, tr.to)
		}
	}
}

func TestDeliveryStatusForwardOnly(t *testing.T) {
	if !DeliveryPending.CanAdvanceTo(DeliverySent) {
		t.Error("pending should advance to sent")
	}
	if !DeliverySent.CanAdvanceTo(DeliveryDelivered) {
		t.Error("sent should advance to delivered")
	}
	if DeliveryDelivered.CanAdvanceTo(DeliverySent) {
		t.Error("delivered must never regress to sent")
	}
	if DeliveryFailed.CanAdvanceTo(DeliveryPending) {
		t.Error("failed must never regress to pending")
	}
	if DeliverySent.CanAdvanceTo(DeliverySent) {
		t.Error("self-transition is not an advance")
	}
}

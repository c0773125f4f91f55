package personalize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propertypulse/campaign-engine/internal/domain"
)

var testRecipient = domain.Recipient{
	ID:        "r1",
	FirstName: "Dana",
	LastName:  "Reyes",
	Location:  "Portland",
}

func testTemplate() Template {
	return Template{
		ID:      "tpl-1",
		Subject: "{{ campaign_label }} for {{ first_name }}",
		Body:    "Hi {{ first_name }},\n\nYour {{ campaign_label }} digest is here.\n\nTalk soon.",
		CTA:     "See your home value",
	}
}

func TestBasicTokenSubstitution(t *testing.T) {
	e := NewEngine(nil)
	out := e.Render(testTemplate(), Input{
		CampaignType: domain.CampaignPropertyUpdates,
		Recipient:    testRecipient,
	}, domain.PersonalizationBasic)

	assert.Equal(t, "Property Updates for Dana", out.Subject)
	assert.Contains(t, out.Body, "Hi Dana,")
	assert.Contains(t, out.Body, "Property Updates digest")
	// BASIC keeps the CTA at the bottom regardless of click history.
	assert.True(t, strings.HasSuffix(out.Body, "See your home value"))
}

func TestAdvancedResolvesBasicTokensIdentically(t *testing.T) {
	e := NewEngine(nil)
	tpl := testTemplate()
	tpl.CTA = ""
	in := Input{
		CampaignType: domain.CampaignMarketInsights,
		Recipient:    testRecipient,
		Market:       &MarketSnapshot{MedianPrice: 512000, TrendPct: 4.2, DaysOnMarket: 18},
	}

	basic := e.Render(tpl, in, domain.PersonalizationBasic)
	advanced := e.Render(tpl, in, domain.PersonalizationAdvanced)

	// The template only uses BASIC tokens, so both tiers must agree exactly.
	assert.Equal(t, basic.Subject, advanced.Subject)
	assert.Equal(t, basic.Body, advanced.Body)
}

func TestAdvancedMarketTokens(t *testing.T) {
	e := NewEngine(nil)
	tpl := Template{
		ID:      "tpl-2",
		Subject: "{{ location }} market update",
		Body:    "Median price: {{ median_price | currency }} ({{ trend_pct | signed_pct }})",
	}
	out := e.Render(tpl, Input{
		CampaignType: domain.CampaignMarketInsights,
		Recipient:    testRecipient,
		Market:       &MarketSnapshot{MedianPrice: 512000, TrendPct: 4.2},
	}, domain.PersonalizationAdvanced)

	assert.Equal(t, "Portland market update", out.Subject)
	assert.Contains(t, out.Body, "$512000")
	assert.Contains(t, out.Body, "+4.2%")
}

func TestMissingMarketDataRendersEmpty(t *testing.T) {
	e := NewEngine(nil)
	tpl := Template{
		ID:      "tpl-3",
		Subject: "Update for {{ first_name }}",
		Body:    "Median: {{ median_price }} end",
	}
	out := e.Render(tpl, Input{
		CampaignType: domain.CampaignMarketInsights,
		Recipient:    testRecipient,
	}, domain.PersonalizationAdvanced)

	// No market snapshot: the token renders as empty, never as a literal.
	assert.NotContains(t, out.Body, "{{")
	assert.Equal(t, "Median:  end", out.Body)
}

func TestStoryVsDataBodySelection(t *testing.T) {
	e := NewEngine(nil)
	tpl := Template{
		ID:        "tpl-4",
		Subject:   "Hello {{ first_name }}",
		Body:      "default body",
		StoryBody: "story body",
		DataBody:  "data body",
	}

	story := e.Render(tpl, Input{Recipient: testRecipient, CampaignType: domain.CampaignCustom}, domain.PersonalizationAdvanced)
	assert.Equal(t, "story body", story.Body)

	dataRecipient := testRecipient
	dataRecipient.PrefersDataDriven = true
	data := e.Render(tpl, Input{Recipient: dataRecipient, CampaignType: domain.CampaignCustom}, domain.PersonalizationAdvanced)
	assert.Equal(t, "data body", data.Body)

	basic := e.Render(tpl, Input{Recipient: dataRecipient, CampaignType: domain.CampaignCustom}, domain.PersonalizationBasic)
	assert.Equal(t, "default body", basic.Body)
}

func TestCTAPlacement(t *testing.T) {
	e := NewEngine(nil)
	tpl := Template{
		ID:      "tpl-5",
		Subject: "s",
		Body:    "one\n\ntwo\n\nthree\n\nfour",
		CTA:     "Book a call",
	}

	top := testRecipient
	top.PreferredCTA = domain.CTATop
	out := e.Render(tpl, Input{Recipient: top, CampaignType: domain.CampaignCustom}, domain.PersonalizationAdvanced)
	assert.True(t, strings.HasPrefix(out.Body, "Book a call"))

	mid := testRecipient
	mid.PreferredCTA = domain.CTAMiddle
	out = e.Render(tpl, Input{Recipient: mid, CampaignType: domain.CampaignCustom}, domain.PersonalizationAdvanced)
	paras := strings.Split(out.Body, "\n\n")
	require.Len(t, paras, 5)
	assert.Equal(t, "Book a call", paras[2])

	bottom := testRecipient
	bottom.PreferredCTA = domain.CTABottom
	out = e.Render(tpl, Input{Recipient: bottom, CampaignType: domain.CampaignCustom}, domain.PersonalizationAdvanced)
	assert.True(t, strings.HasSuffix(out.Body, "Book a call"))
}

func TestAIPoweredSubjectLengthBounds(t *testing.T) {
	e := NewEngine(nil)

	longSubject := Template{
		ID:      "tpl-6",
		Subject: strings.Repeat("Fresh listings near you this week ", 4),
		Body:    "body text here",
	}
	out := e.Render(longSubject, Input{
		CampaignType: domain.CampaignPropertyUpdates,
		Recipient:    testRecipient,
	}, domain.PersonalizationAIPowered)
	n := utf8.RuneCountInString(out.Subject)
	assert.GreaterOrEqual(t, n, 10, "subject %q too short", out.Subject)
	assert.LessOrEqual(t, n, 60, "subject %q too long", out.Subject)

	shortSubject := Template{ID: "tpl-7", Subject: "Hi", Body: "body text here"}
	out = e.Render(shortSubject, Input{
		CampaignType: domain.CampaignCustom,
		Recipient:    testRecipient,
	}, domain.PersonalizationAIPowered)
	n = utf8.RuneCountInString(out.Subject)
	assert.GreaterOrEqual(t, n, 10, "subject %q too short", out.Subject)
	assert.LessOrEqual(t, n, 60, "subject %q too long", out.Subject)
}

func TestMobileContentShortening(t *testing.T) {
	e := NewEngine(nil)
	tpl := Template{
		ID:      "tpl-8",
		Subject: "A market update for {{ first_name }}",
		Body:    "p1\n\np2\n\np3\n\np4\n\np5",
	}
	mobile := &domain.BehaviorProfile{DevicePreference: domain.DeviceMobile}

	out := e.Render(tpl, Input{
		CampaignType: domain.CampaignCustom,
		Recipient:    testRecipient,
		Profile:      mobile,
	}, domain.PersonalizationAIPowered)

	paras := strings.Split(out.Body, "\n\n")
	assert.Equal(t, []string{"p1", "p2", "p5"}, paras)

	desktop := &domain.BehaviorProfile{DevicePreference: domain.DeviceDesktop}
	out = e.Render(tpl, Input{
		CampaignType: domain.CampaignCustom,
		Recipient:    testRecipient,
		Profile:      desktop,
	}, domain.PersonalizationAIPowered)
	assert.Len(t, strings.Split(out.Body, "\n\n"), 5)
}

func TestHeuristicScorerPrefersTargetLength(t *testing.T) {
	s := HeuristicScorer{}
	sweet := s.Score("Fresh Portland listings picked for you", testRecipient)
	stubby := s.Score("Hello there", testRecipient)
	assert.Greater(t, sweet, stubby)
}

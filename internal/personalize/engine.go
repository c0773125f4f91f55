// Package personalize renders per-recipient campaign content using the
// Liquid template language, layered in three tiers.
//
// BASIC substitutes name and campaign-type tokens only. ADVANCED adds
// location/market tokens, story-vs-data body selection, and call-to-action
// placement from the recipient's historical click position. AI_POWERED adds
// subject-line optimization through an injected scorer and content-length
// adaptation for mobile readers.
//
// Rendering is a pure function of (template, recipient snapshot, level):
// the engine holds no per-campaign state and is safe for concurrent use.
package personalize

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/pkg/logger"
)

// Template is the raw campaign template. StoryBody and DataBody are
// optional variants selected at ADVANCED tier and above; Body is the
// default used when a variant is absent or at BASIC tier.
type Template struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	StoryBody string `json:"story_body,omitempty"`
	DataBody  string `json:"data_body,omitempty"`
	CTA       string `json:"cta,omitempty"`
}

// MarketSnapshot carries local market data for a recipient's location.
// Produced by an external data pipeline; nil when unavailable.
type MarketSnapshot struct {
	MedianPrice  float64 `json:"median_price"`
	TrendPct     float64 `json:"trend_pct"`
	DaysOnMarket int     `json:"days_on_market"`
}

// Input is everything rendering may draw on for one recipient.
type Input struct {
	CampaignType domain.CampaignType
	Recipient    domain.Recipient
	Profile      *domain.BehaviorProfile
	Market       *MarketSnapshot
}

// Rendered is the personalized output for one recipient.
type Rendered struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

var campaignLabels = map[domain.CampaignType]string{
	domain.CampaignPropertyUpdates:       "Property Updates",
	domain.CampaignMarketInsights:        "Market Insights",
	domain.CampaignMilestoneCelebrations: "Milestone Celebrations",
	domain.CampaignCustom:                "Updates",
}

// Engine renders Liquid templates with parsed-template caching.
type Engine struct {
	engine *liquid.Engine
	scorer SubjectScorer
	cache  sync.Map // template text -> *liquid.Template
}

// NewEngine creates a rendering engine. A nil scorer falls back to the
// deterministic heuristic scorer for AI_POWERED rendering.
func NewEngine(scorer SubjectScorer) *Engine {
	if scorer == nil {
		scorer = HeuristicScorer{}
	}
	e := &Engine{
		engine: liquid.NewEngine(),
		scorer: scorer,
	}
	e.registerFilters()
	return e
}

// registerFilters adds the domain-specific Liquid filters templates rely on.
func (e *Engine) registerFilters() {
	// {{ first_name | default: "Neighbor" }}
	e.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ name | capitalize }}
	e.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	// {{ median_price | currency }}
	e.engine.RegisterFilter("currency", func(value interface{}) string {
		var f float64
		switch v := value.(type) {
		case float64:
			f = v
		case int:
			f = float64(v)
		default:
			return fmt.Sprintf("%v", value)
		}
		return fmt.Sprintf("$%.0f", f)
	})

	// {{ trend_pct | signed_pct }}
	e.engine.RegisterFilter("signed_pct", func(value interface{}) string {
		f, ok := value.(float64)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		return fmt.Sprintf("%+.1f%%", f)
	})
}

// Render produces the personalized message content for one recipient at the
// requested tier. Missing behavioral or market data degrades to the BASIC
// token set; unresolved tokens render as empty strings and are logged as
// warnings, never surfaced as errors.
func (e *Engine) Render(tpl Template, in Input, level domain.PersonalizationLevel) Rendered {
	bindings := e.basicBindings(in)
	if level != domain.PersonalizationBasic {
		e.advancedBindings(bindings, in)
	}

	body := e.selectBody(tpl, in, level)
	body = e.placeCTA(tpl, body, in, level)

	e.warnUnresolved(tpl.ID, tpl.Subject+" "+body, bindings)

	subject := e.renderString(tpl.ID, tpl.Subject, bindings)
	rendered := e.renderString(tpl.ID, body, bindings)

	if level == domain.PersonalizationAIPowered {
		subject = e.optimizeSubject(subject, in)
		rendered = adaptLength(rendered, in.Profile)
	}

	return Rendered{Subject: subject, Body: rendered}
}

// basicBindings builds the tier-one token set: recipient name plus static
// campaign-type tokens. These resolve identically at every tier.
func (e *Engine) basicBindings(in Input) map[string]interface{} {
	label := campaignLabels[in.CampaignType]
	if label == "" {
		label = campaignLabels[domain.CampaignCustom]
	}
	return map[string]interface{}{
		"first_name":     in.Recipient.FirstName,
		"last_name":      in.Recipient.LastName,
		"full_name":      strings.TrimSpace(in.Recipient.FirstName + " " + in.Recipient.LastName),
		"campaign_label": label,
	}
}

// advancedBindings layers location and market tokens on top of the basic
// set. Absent market data simply leaves the tokens unbound, which renders
// them empty under lax mode.
func (e *Engine) advancedBindings(bindings map[string]interface{}, in Input) {
	if in.Recipient.Location != "" {
		bindings["location"] = in.Recipient.Location
	}
	if in.Market != nil {
		bindings["median_price"] = in.Market.MedianPrice
		bindings["trend_pct"] = in.Market.TrendPct
		bindings["days_on_market"] = in.Market.DaysOnMarket
	}
}

// selectBody picks the story-driven or data-driven variant at ADVANCED and
// above, based on the recipient's content preference flag.
func (e *Engine) selectBody(tpl Template, in Input, level domain.PersonalizationLevel) string {
	if level == domain.PersonalizationBasic {
		return tpl.Body
	}
	if in.Recipient.PrefersDataDriven && tpl.DataBody != "" {
		return tpl.DataBody
	}
	if !in.Recipient.PrefersDataDriven && tpl.StoryBody != "" {
		return tpl.StoryBody
	}
	return tpl.Body
}

// placeCTA positions the call-to-action according to the recipient's
// historical click position. BASIC always appends at the bottom.
func (e *Engine) placeCTA(tpl Template, body string, in Input, level domain.PersonalizationLevel) string {
	if tpl.CTA == "" {
		return body
	}
	pos := domain.CTABottom
	if level != domain.PersonalizationBasic && in.Recipient.PreferredCTA != "" {
		pos = in.Recipient.PreferredCTA
	}
	switch pos {
	case domain.CTATop:
		return tpl.CTA + "\n\n" + body
	case domain.CTAMiddle:
		paras := strings.Split(body, "\n\n")
		if len(paras) > 1 {
			mid := len(paras) / 2
			out := append([]string{}, paras[:mid]...)
			out = append(out, tpl.CTA)
			out = append(out, paras[mid:]...)
			return strings.Join(out, "\n\n")
		}
		return body + "\n\n" + tpl.CTA
	default:
		return body + "\n\n" + tpl.CTA
	}
}

func (e *Engine) renderString(templateID, text string, bindings map[string]interface{}) string {
	if text == "" {
		return ""
	}
	tpl, err := e.parse(text)
	if err != nil {
		logger.Warn("template parse failed, sending raw content",
			"template_id", templateID, "error", err.Error())
		return text
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		logger.Warn("template render failed, sending raw content",
			"template_id", templateID, "error", err.Error())
		return text
	}
	return out
}

func (e *Engine) parse(text string) (*liquid.Template, error) {
	if cached, ok := e.cache.Load(text); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := e.engine.ParseString(text)
	if err != nil {
		return nil, err
	}
	e.cache.Store(text, tpl)
	return tpl, nil
}

var tokenRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)`)

// warnUnresolved logs a warning for every template variable with no
// binding. The variable still renders as an empty string.
func (e *Engine) warnUnresolved(templateID, text string, bindings map[string]interface{}) {
	seen := map[string]bool{}
	for _, m := range tokenRegex.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := bindings[name]; !ok {
			logger.Warn("unresolved personalization token",
				"template_id", templateID, "token", name)
		}
	}
}

// adaptLength shortens content for mobile-preferring recipients: the first
// two paragraphs plus the final one (which carries the CTA for bottom
// placement) survive.
func adaptLength(body string, profile *domain.BehaviorProfile) string {
	if profile == nil || profile.DevicePreference != domain.DeviceMobile {
		return body
	}
	paras := strings.Split(body, "\n\n")
	if len(paras) <= 3 {
		return body
	}
	kept := append([]string{}, paras[:2]...)
	kept = append(kept, paras[len(paras)-1])
	return strings.Join(kept, "\n\n")
}

package domain

import "time"

// CampaignType enumerates the kinds of automated campaigns the platform runs.
type CampaignType string

const (
	CampaignPropertyUpdates       CampaignType = "property_updates"
	CampaignMarketInsights        CampaignType = "market_insights"
	CampaignMilestoneCelebrations CampaignType = "milestone_celebrations"
	CampaignCustom                CampaignType = "custom"
)

// Channel enumerates message delivery channels. ChannelSkip is only ever
// produced by ResolveChannel; it is not a valid campaign or recipient setting.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelBoth  Channel = "both"
	ChannelNone  Channel = "none"
	ChannelSkip  Channel = "skip"
)

// PersonalizationLevel enumerates the content-rendering tiers.
type PersonalizationLevel string

const (
	PersonalizationBasic     PersonalizationLevel = "basic"
	PersonalizationAdvanced  PersonalizationLevel = "advanced"
	PersonalizationAIPowered PersonalizationLevel = "ai_powered"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// validTransitions is the campaign state machine. Cancellation from any
// non-terminal state is handled in CanTransitionTo, not listed here.
var validTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignRunning},
	CampaignScheduled: {CampaignRunning},
	CampaignRunning:   {CampaignPaused, CampaignCompleted},
	CampaignPaused:    {CampaignRunning},
}

// IsTerminal returns true for states a campaign can never leave.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next. Any non-terminal state may move to cancelled.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == CampaignCancelled {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CampaignConfig holds the recognized configuration options for creating
// a campaign. Target rates are business aspirations used for reporting;
// the engine never enforces them.
type CampaignConfig struct {
	Name                  string               `json:"name"`
	Type                  CampaignType         `json:"type"`
	Channel               Channel              `json:"channel"`
	UseSmartTiming        bool                 `json:"use_smart_timing"`
	EnablePersonalization bool                 `json:"enable_personalization"`
	PersonalizationLevel  PersonalizationLevel `json:"personalization_level"`
	TemplateID            string               `json:"template_id"`
	ScheduledFor          *time.Time           `json:"scheduled_for,omitempty"`
	TargetOpenRate        *float64             `json:"target_open_rate,omitempty"`
	TargetClickRate       *float64             `json:"target_click_rate,omitempty"`
	TrackOpens            bool                 `json:"track_opens"`
	TrackClicks           bool                 `json:"track_clicks"`
	TrackConversions      bool                 `json:"track_conversions"`
	MaxSendsPerHour       int                  `json:"max_sends_per_hour"`
	BatchSize             int                  `json:"batch_size"`
	RecipientIDs          []string             `json:"recipient_ids"`
}

// Campaign represents a configured, schedulable unit of multi-recipient
// messaging. It is owned and mutated exclusively by the campaign service
// through defined state transitions.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	Status      CampaignStatus `json:"status" db:"status"`
	Config      CampaignConfig `json:"config" db:"config"`
	StartedAt   *time.Time     `json:"started_at" db:"started_at"`
	CompletedAt *time.Time     `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool { return c.Status.IsTerminal() }

// Package sendtime computes per-recipient dispatch times for campaigns.
//
// The optimizer is a pure function of its inputs: behavioral history when
// available, campaign-type defaults otherwise. It never blocks dispatch;
// confidence is informational only.
package sendtime

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/propertypulse/campaign-engine/internal/domain"
)

// Source identifies which data the recommendation was derived from.
type Source string

const (
	SourceScheduled Source = "scheduled"
	SourceImmediate Source = "immediate"
	SourceProfile   Source = "profile"
	SourceDefault   Source = "campaign_default"
)

// Recommendation is a computed dispatch time with a confidence score.
type Recommendation struct {
	At         time.Time `json:"at"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	Reasoning  string    `json:"reasoning"`
}

// typeDefault is a campaign-type fallback send slot, local time.
type typeDefault struct {
	day  time.Weekday
	hour int
}

// Industry defaults per campaign type, used when no behavior profile exists.
var typeDefaults = map[domain.CampaignType]typeDefault{
	domain.CampaignPropertyUpdates:       {time.Tuesday, 9},
	domain.CampaignMarketInsights:        {time.Thursday, 14},
	domain.CampaignMilestoneCelebrations: {time.Friday, 10},
	domain.CampaignCustom:                {time.Tuesday, 10},
}

var dayNames = map[time.Weekday]string{
	time.Sunday:    "Sunday",
	time.Monday:    "Monday",
	time.Tuesday:   "Tuesday",
	time.Wednesday: "Wednesday",
	time.Thursday:  "Thursday",
	time.Friday:    "Friday",
	time.Saturday:  "Saturday",
}

// maxJitter bounds the deterministic offset applied for mobile-preferring
// recipients, spreading sends so they don't all land on the exact hour.
const maxJitter = 30 * time.Minute

// Compute returns the dispatch time for one recipient.
//
// Smart timing off: the campaign's fixed schedule wins (or now, if none).
// Smart timing on with a profile: the next occurrence of the recipient's
// (optimalDayOfWeek, optimalHour) in their timezone, jittered ±30 minutes
// for mobile-preferring recipients. Smart timing on without a profile:
// the campaign-type default slot.
//
// Safe for concurrent use: no shared mutable state.
func Compute(r domain.Recipient, profile *domain.BehaviorProfile, campaignType domain.CampaignType, useSmartTiming bool, scheduledFor *time.Time, now time.Time) Recommendation {
	if !useSmartTiming {
		if scheduledFor != nil && scheduledFor.After(now) {
			return Recommendation{
				At:         *scheduledFor,
				Confidence: 1.0,
				Source:     SourceScheduled,
				Reasoning:  "campaign has a fixed schedule",
			}
		}
		return Recommendation{
			At:         now,
			Confidence: 1.0,
			Source:     SourceImmediate,
			Reasoning:  "immediate send requested",
		}
	}

	if profile != nil {
		at := nextOccurrence(now, profile)
		if profile.DevicePreference == domain.DeviceMobile {
			at = at.Add(jitterFor(r.ID))
		}
		conf := profile.EngagementScore / 100
		if conf > 0.95 {
			conf = 0.95
		}
		return Recommendation{
			At:         at,
			Confidence: conf,
			Source:     SourceProfile,
			Reasoning: fmt.Sprintf("recipient engages best %s at %02d:00 (%s)",
				dayNames[time.Weekday(profile.OptimalDayOfWeek)], profile.OptimalHour, tzName(profile)),
		}
	}

	def, ok := typeDefaults[campaignType]
	if !ok {
		def = typeDefaults[domain.CampaignCustom]
	}
	at := nextSlot(now, def.day, def.hour)
	return Recommendation{
		At:         at,
		Confidence: 0.4,
		Source:     SourceDefault,
		Reasoning:  fmt.Sprintf("no behavior profile; %s default of %s %02d:00", campaignType, dayNames[def.day], def.hour),
	}
}

// nextOccurrence finds the next (optimalDayOfWeek, optimalHour) in the
// profile's timezone, falling back to UTC on an unknown zone name.
func nextOccurrence(now time.Time, p *domain.BehaviorProfile) time.Time {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil || p.Timezone == "" {
		loc = time.UTC
	}
	return nextSlot(now.In(loc), time.Weekday(p.OptimalDayOfWeek), p.OptimalHour)
}

// nextSlot returns the next time at (day, hour):00 strictly after now.
func nextSlot(now time.Time, day time.Weekday, hour int) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	daysAhead := (int(day) - int(now.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, daysAhead)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// jitterFor derives a stable offset in [-maxJitter, +maxJitter] from the
// recipient ID, so repeated computations agree.
func jitterFor(recipientID string) time.Duration {
	h := fnv.New64a()
	h.Write([]byte(recipientID))
	span := uint64(2 * maxJitter)
	return time.Duration(h.Sum64()%span) - maxJitter
}

func tzName(p *domain.BehaviorProfile) string {
	if p.Timezone == "" {
		return "UTC"
	}
	return p.Timezone
}

package domain

import "time"

// DevicePreference enumerates the device a recipient primarily reads on.
type DevicePreference string

const (
	DeviceMobile  DevicePreference = "mobile"
	DeviceDesktop DevicePreference = "desktop"
	DeviceBoth    DevicePreference = "both"
)

// CTAPosition enumerates where a recipient has historically clicked
// calls-to-action within a message body.
type CTAPosition string

const (
	CTATop    CTAPosition = "top"
	CTAMiddle CTAPosition = "middle"
	CTABottom CTAPosition = "bottom"
)

// Recipient is an addressable target with a channel preference and an
// optional behavioral history.
type Recipient struct {
	ID                string    `json:"id" db:"id"`
	Email             string    `json:"email" db:"email"`
	Phone             string    `json:"phone" db:"phone"`
	FirstName         string    `json:"first_name" db:"first_name"`
	LastName          string    `json:"last_name" db:"last_name"`
	Location          string    `json:"location" db:"location"`
	ChannelPreference Channel   `json:"channel_preference" db:"channel_preference"`
	Unsubscribed      bool      `json:"unsubscribed" db:"unsubscribed"`
	PrefersDataDriven bool      `json:"prefers_data_driven" db:"prefers_data_driven"`
	PreferredCTA      CTAPosition `json:"preferred_cta" db:"preferred_cta"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// BehaviorProfile is read-only engagement history for a recipient, produced
// by an external analytics pipeline. It feeds the send-time optimizer.
type BehaviorProfile struct {
	RecipientID        string           `json:"recipient_id" db:"recipient_id"`
	Timezone           string           `json:"timezone" db:"timezone"`
	OptimalHour        int              `json:"optimal_hour" db:"optimal_hour"`                 // 0-23, local
	OptimalDayOfWeek   int              `json:"optimal_day_of_week" db:"optimal_day_of_week"`  // 0-6, Sun-Sat
	AvgOpenDelayMinutes float64         `json:"avg_open_delay_minutes" db:"avg_open_delay_minutes"`
	DevicePreference   DevicePreference `json:"device_preference" db:"device_preference"`
	EngagementScore    float64          `json:"engagement_score" db:"engagement_score"` // 0-100
	LastCalculated     time.Time        `json:"last_calculated" db:"last_calculated"`
}

// ResolveChannel decides which channel (if any) a recipient is eligible for
// under the given campaign channel. Rules, in priority order:
//
//  1. Unsubscribed recipients are always skipped.
//  2. A BOTH campaign intersects with the recipient's preference; if the
//     recipient allows neither channel the result is skip.
//  3. A single-channel campaign delivers on that channel only if the
//     recipient's preference allows it.
//
// Pure and stateless; invoked once per recipient per execution.
func ResolveChannel(r Recipient, campaignChannel Channel) Channel {
	if r.Unsubscribed {
		return ChannelSkip
	}
	pref := r.ChannelPreference
	if pref == ChannelNone || pref == "" {
		return ChannelSkip
	}
	switch campaignChannel {
	case ChannelBoth:
		// Intersection of "both" with the recipient's preference.
		switch pref {
		case ChannelBoth:
			return ChannelBoth
		case ChannelEmail, ChannelSMS:
			return pref
		}
		return ChannelSkip
	case ChannelEmail, ChannelSMS:
		if pref == campaignChannel || pref == ChannelBoth {
			return campaignChannel
		}
		return ChannelSkip
	}
	return ChannelSkip
}

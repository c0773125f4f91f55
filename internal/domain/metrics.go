package domain

import "time"

// CampaignMetrics holds the aggregated counters for one campaign. Counters
// are monotonically non-decreasing; rates are derived on read and never
// stored, so they cannot drift from the counters.
type CampaignMetrics struct {
	CampaignID         string    `json:"campaign_id" db:"campaign_id"`
	Sent               int64     `json:"sent" db:"sent"`
	Delivered          int64     `json:"delivered" db:"delivered"`
	Bounced            int64     `json:"bounced" db:"bounced"`
	Opened             int64     `json:"opened" db:"opened"`
	Clicked            int64     `json:"clicked" db:"clicked"`
	Converted          int64     `json:"converted" db:"converted"`
	Unsubscribed       int64     `json:"unsubscribed" db:"unsubscribed"`
	AvgOpenTimeMinutes float64   `json:"avg_open_time_minutes" db:"avg_open_time_minutes"`
	Revenue            float64   `json:"revenue" db:"revenue"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// MetricsDelta is one event's contribution to a campaign's counters.
// Stores apply it in a single atomic operation.
type MetricsDelta struct {
	Sent         int64
	Delivered    int64
	Bounced      int64
	Opened       int64
	Clicked      int64
	Converted    int64
	Unsubscribed int64

	// OpenDelayMinutes feeds the running open-delay average. Only set
	// together with Opened.
	OpenDelayMinutes *float64

	Revenue    float64
	ObservedAt time.Time
}

// OpenRate returns opened/delivered, or 0 when nothing was delivered.
func (m *CampaignMetrics) OpenRate() float64 {
	if m.Delivered == 0 {
		return 0
	}
	return float64(m.Opened) / float64(m.Delivered)
}

// ClickRate returns clicked/delivered, or 0 when nothing was delivered.
func (m *CampaignMetrics) ClickRate() float64 {
	if m.Delivered == 0 {
		return 0
	}
	return float64(m.Clicked) / float64(m.Delivered)
}

// ConversionRate returns converted/delivered, or 0 when nothing was delivered.
func (m *CampaignMetrics) ConversionRate() float64 {
	if m.Delivered == 0 {
		return 0
	}
	return float64(m.Converted) / float64(m.Delivered)
}

// OverviewStats aggregates metrics across campaigns. Average rates are
// weighted by delivered volume so small campaigns don't skew them.
type OverviewStats struct {
	Campaigns          int     `json:"campaigns"`
	TotalSent          int64   `json:"total_sent"`
	TotalDelivered     int64   `json:"total_delivered"`
	TotalBounced       int64   `json:"total_bounced"`
	TotalOpened        int64   `json:"total_opened"`
	TotalClicked       int64   `json:"total_clicked"`
	TotalConverted     int64   `json:"total_converted"`
	TotalUnsubscribed  int64   `json:"total_unsubscribed"`
	TotalRevenue       float64 `json:"total_revenue"`
	WeightedOpenRate   float64 `json:"weighted_open_rate"`
	WeightedClickRate  float64 `json:"weighted_click_rate"`
}

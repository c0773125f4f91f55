package domain

import "time"

// PersonalizedMessage is the rendered content for one recipient in one
// campaign execution. Created once per (campaign, recipient) and immutable
// thereafter.
type PersonalizedMessage struct {
	CampaignID   string    `json:"campaign_id" db:"campaign_id"`
	RecipientID  string    `json:"recipient_id" db:"recipient_id"`
	Channel      Channel   `json:"channel" db:"channel"`
	Subject      string    `json:"subject,omitempty" db:"subject"`
	Body         string    `json:"body" db:"body"`
	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`
	GeneratedAt  time.Time `json:"generated_at" db:"generated_at"`
}

// DeliveryStatus enumerates the lifecycle of a single dispatched message.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryBounced   DeliveryStatus = "bounced"
	DeliveryFailed    DeliveryStatus = "failed"
)

// deliveryRank orders statuses so transitions are forward-only. Bounced and
// failed share the terminal rank with delivered's successors.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:   0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryBounced:   3,
	DeliveryFailed:    3,
}

// CanAdvanceTo reports whether moving from s to next is a forward
// transition. A status never regresses.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	return deliveryRank[next] > deliveryRank[s]
}

// DeliveryRecord is the system-of-record entity tracking one message's
// lifecycle, one-to-one with a PersonalizedMessage.
type DeliveryRecord struct {
	TrackingID  string         `json:"tracking_id" db:"tracking_id"`
	CampaignID  string         `json:"campaign_id" db:"campaign_id"`
	RecipientID string         `json:"recipient_id" db:"recipient_id"`
	Channel     Channel        `json:"channel" db:"channel"`
	Status      DeliveryStatus `json:"status" db:"status"`
	ProviderID  string         `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Error       string         `json:"error,omitempty" db:"error"`
	SentAt      *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// EventType enumerates normalized delivery and engagement events.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventBounced      EventType = "bounced"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventConverted    EventType = "converted"
	EventUnsubscribed EventType = "unsubscribed"
)

// IsEngagement reports whether the event is a post-delivery engagement
// signal (as opposed to a delivery lifecycle transition).
func (t EventType) IsEngagement() bool {
	switch t {
	case EventOpened, EventClicked, EventConverted, EventUnsubscribed:
		return true
	}
	return false
}

// DeliveryEvent is a provider webhook normalized upstream into the engine's
// event shape. Events may arrive out of order and at-least-once.
type DeliveryEvent struct {
	TrackingID string            `json:"tracking_id"`
	Type       EventType         `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

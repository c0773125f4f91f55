package provider

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/propertypulse/campaign-engine/internal/domain"
)

// sesEvent is the subset of an SES configuration-set event notification we
// consume. Tags echo back the message tags attached at send time.
type sesEvent struct {
	EventType string `json:"eventType"`
	Mail      struct {
		Timestamp time.Time           `json:"timestamp"`
		Tags      map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce *struct {
		BounceType string    `json:"bounceType"`
		Timestamp  time.Time `json:"timestamp"`
	} `json:"bounce,omitempty"`
}

var sesEventTypes = map[string]domain.EventType{
	"Send":     domain.EventSent,
	"Delivery": domain.EventDelivered,
	"Bounce":   domain.EventBounced,
	"Open":     domain.EventOpened,
	"Click":    domain.EventClicked,
	// A complaint is treated as an unsubscribe; the recipient asked out.
	"Complaint": domain.EventUnsubscribed,
}

// ParseSESEvent normalizes one SES event notification into the engine's
// event shape. Unknown event types and events without our tracking tag
// return an error; callers log and drop those.
func ParseSESEvent(payload []byte) (domain.DeliveryEvent, error) {
	var raw sesEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.DeliveryEvent{}, fmt.Errorf("decode ses event: %w", err)
	}

	typ, ok := sesEventTypes[raw.EventType]
	if !ok {
		return domain.DeliveryEvent{}, fmt.Errorf("unhandled ses event type %q", raw.EventType)
	}

	tags := raw.Mail.Tags[trackingTagName]
	if len(tags) == 0 || tags[0] == "" {
		return domain.DeliveryEvent{}, fmt.Errorf("ses event missing %s tag", trackingTagName)
	}

	ev := domain.DeliveryEvent{
		TrackingID: tags[0],
		Type:       typ,
		Timestamp:  raw.Mail.Timestamp,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if raw.Bounce != nil {
		ev.Metadata = map[string]string{"bounce_type": raw.Bounce.BounceType}
	}
	return ev, nil
}

var twilioStatuses = map[string]domain.EventType{
	"sent":        domain.EventSent,
	"delivered":   domain.EventDelivered,
	"failed":      domain.EventBounced,
	"undelivered": domain.EventBounced,
}

// ParseTwilioCallback normalizes one Twilio status callback. The tracking
// ID arrives as a query parameter set at send time; the status rides in
// the form body.
func ParseTwilioCallback(query url.Values, form url.Values) (domain.DeliveryEvent, error) {
	trackingID := query.Get(trackingTagName)
	if trackingID == "" {
		return domain.DeliveryEvent{}, fmt.Errorf("twilio callback missing %s", trackingTagName)
	}

	status := form.Get("MessageStatus")
	typ, ok := twilioStatuses[status]
	if !ok {
		return domain.DeliveryEvent{}, fmt.Errorf("unhandled twilio status %q", status)
	}

	ev := domain.DeliveryEvent{
		TrackingID: trackingID,
		Type:       typ,
		Timestamp:  time.Now(),
	}
	if sid := form.Get("MessageSid"); sid != "" {
		ev.Metadata = map[string]string{"message_sid": sid}
	}
	return ev, nil
}

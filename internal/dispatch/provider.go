package dispatch

import (
	"context"
	"errors"

	"github.com/propertypulse/campaign-engine/internal/domain"
)

// Message is one rendered message ready for a channel provider.
type Message struct {
	TrackingID  string
	CampaignID  string
	RecipientID string
	Channel     domain.Channel
	Address     string // email address or E.164 phone number
	Subject     string // empty for SMS
	Body        string
}

// Receipt is a provider's acknowledgement of an accepted message.
type Receipt struct {
	ProviderMessageID string
	Status            string
}

// Provider submits a message to an external email or SMS service.
// Implementations live in internal/provider. Errors are treated as
// transient and retried unless wrapped with Permanent.
type Provider interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// permanentError marks a provider failure that retrying cannot fix
// (rejected address, invalid content).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the dispatcher fails the delivery immediately
// instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

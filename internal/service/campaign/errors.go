package campaign

import (
	"errors"
	"fmt"
)

// Sentinel errors for the campaign service layer. The API layer maps these
// to machine-readable codes; internal detail never crosses that boundary.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCampaignFailed    = errors.New("campaign failed")
)

// ValidationError reports a bad campaign configuration. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid campaign config: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a configuration validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

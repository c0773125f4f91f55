package provider

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/propertypulse/campaign-engine/internal/dispatch"
	"github.com/propertypulse/campaign-engine/internal/pkg/logger"
)

// LogProvider accepts every message and logs it instead of sending. Used
// in demo mode and for channels whose real provider is not configured.
type LogProvider struct {
	Channel string
}

// Send implements dispatch.Provider.
func (p LogProvider) Send(_ context.Context, msg dispatch.Message) (dispatch.Receipt, error) {
	log.Printf("[LogProvider] %s -> %s: %q", p.Channel, logger.RedactEmail(msg.Address), msg.Subject)
	return dispatch.Receipt{
		ProviderMessageID: "log-" + uuid.New().String(),
		Status:            "accepted",
	}, nil
}

package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/propertypulse/campaign-engine/internal/dispatch"
)

// TwilioProvider sends SMS through the Twilio messaging API.
type TwilioProvider struct {
	client     *twilio.RestClient
	fromNumber string
	callback   string
}

// TwilioSettings configures the Twilio SMS provider.
type TwilioSettings struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	CallbackURL string // status callbacks land on our webhook handler
}

// NewTwilioProvider creates an SMS provider backed by Twilio.
func NewTwilioProvider(s TwilioSettings) *TwilioProvider {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: s.AccountSID,
		Password: s.AuthToken,
	})
	return &TwilioProvider{
		client:     rest,
		fromNumber: s.FromNumber,
		callback:   s.CallbackURL,
	}
}

// Send implements dispatch.Provider. The tracking ID rides along on the
// status callback URL so webhook events can be correlated.
func (p *TwilioProvider) Send(_ context.Context, msg dispatch.Message) (dispatch.Receipt, error) {
	params := &api.CreateMessageParams{}
	params.SetTo(msg.Address)
	params.SetFrom(p.fromNumber)
	params.SetBody(msg.Body)
	if p.callback != "" {
		params.SetStatusCallback(fmt.Sprintf("%s?%s=%s", p.callback, trackingTagName, msg.TrackingID))
	}

	resp, err := p.client.Api.CreateMessage(params)
	if err != nil {
		return dispatch.Receipt{}, classifyTwilioError(err)
	}

	receipt := dispatch.Receipt{Status: "accepted"}
	if resp.Sid != nil {
		receipt.ProviderMessageID = *resp.Sid
	}
	if resp.Status != nil {
		receipt.Status = *resp.Status
	}
	return receipt, nil
}

// classifyTwilioError marks 4xx API responses as permanent. Invalid or
// unreachable numbers will not become valid on retry.
func classifyTwilioError(err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) && restErr.Status >= 400 && restErr.Status < 500 {
		return dispatch.Permanent(fmt.Errorf("twilio send: %w", err))
	}
	return fmt.Errorf("twilio send: %w", err)
}

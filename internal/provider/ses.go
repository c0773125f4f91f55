// Package provider adapts external messaging services (AWS SES, Twilio) to
// the dispatcher's Provider contract and normalizes their event callbacks.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/propertypulse/campaign-engine/internal/dispatch"
)

// trackingTagName is the SES message tag carrying our tracking ID, echoed
// back in every event notification.
const trackingTagName = "tracking_id"

// SESProvider sends email through AWS SES v2.
type SESProvider struct {
	client    *sesv2.Client
	fromEmail string
	configSet string
}

// SESSettings configures the SES email provider.
type SESSettings struct {
	Region    string
	AccessKey string
	SecretKey string
	FromEmail string
	ConfigSet string // SES configuration set routing events to our webhook
}

// NewSESProvider creates an email provider backed by AWS SES v2.
func NewSESProvider(ctx context.Context, s SESSettings) (*SESProvider, error) {
	creds := credentials.NewStaticCredentialsProvider(s.AccessKey, s.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESProvider{
		client:    sesv2.NewFromConfig(awsCfg),
		fromEmail: s.FromEmail,
		configSet: s.ConfigSet,
	}, nil
}

// Send implements dispatch.Provider.
func (p *SESProvider) Send(ctx context.Context, msg dispatch.Message) (dispatch.Receipt, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Address},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.Body)},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String(trackingTagName), Value: aws.String(msg.TrackingID)},
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
		},
	}
	if p.configSet != "" {
		input.ConfigurationSetName = aws.String(p.configSet)
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return dispatch.Receipt{}, classifySESError(err)
	}

	return dispatch.Receipt{
		ProviderMessageID: aws.ToString(out.MessageId),
		Status:            "accepted",
	}, nil
}

// classifySESError marks rejections that retrying cannot fix as permanent.
// Throttling and server-side errors stay transient.
func classifySESError(err error) error {
	var (
		rejected  *types.MessageRejected
		suspended *types.AccountSuspendedException
		paused    *types.SendingPausedException
		domainErr *types.MailFromDomainNotVerifiedException
		badReq    *types.BadRequestException
	)
	switch {
	case errors.As(err, &rejected),
		errors.As(err, &suspended),
		errors.As(err, &paused),
		errors.As(err, &domainErr),
		errors.As(err, &badReq):
		return dispatch.Permanent(fmt.Errorf("ses send: %w", err))
	}
	return fmt.Errorf("ses send: %w", err)
}

package providers

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridProvider implements email sending via SendGrid
type SendGridProvider struct {
	from     string
	fromName string
	client   *sendgrid.Client
}

// NewSendGridProvider creates a new SendGrid email provider
func NewSendGridProvider(apiKey, from, fromName string) *SendGridProvider {
	return &SendGridProvider{
		from:     from,
		fromName: fromName,
		client:   sendgrid.NewSendClient(apiKey),
	}
}

// Send sends an email via SendGrid
func (p *SendGridProvider) Send(ctx context.Context, message *Message) (*SendResult, error) {
	from := mail.NewEmail(p.fromName, p.from)
	if message.From != "" {
		from = mail.NewEmail(message.FromName, message.From)
	}
	to := mail.NewEmail("", message.To)

	m := mail.NewSingleEmail(from, message.Subject, to, message.Body, message.BodyHTML)
	if message.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", message.ReplyTo))
	}
	if len(message.Headers) > 0 {
		m.Headers = message.Headers
	}

	// Transactional mail: no link rewriting or open pixels
	trackingSettings := mail.NewTrackingSettings()
	clickTracking := mail.NewClickTrackingSetting()
	clickTracking.SetEnable(false)
	clickTracking.SetEnableText(false)
	trackingSettings.SetClickTracking(clickTracking)
	openTracking := mail.NewOpenTrackingSetting()
	openTracking.SetEnable(false)
	trackingSettings.SetOpenTracking(openTracking)
	m.SetTrackingSettings(trackingSettings)

	response, err := p.client.SendWithContext(ctx, m)
	if err != nil {
		return failed(p.GetName(), err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		var messageID string
		if ids, ok := response.Headers["X-Message-Id"]; ok && len(ids) > 0 {
			messageID = ids[0]
		}
		return &SendResult{
			ProviderID:   messageID,
			ProviderName: p.GetName(),
			Success:      true,
			ProviderData: map[string]interface{}{
				"status_code": response.StatusCode,
				"to":          message.To,
			},
		}, nil
	}

	return failed(p.GetName(), fmt.Errorf("SendGrid API error: %d - %s", response.StatusCode, response.Body))
}

// GetName returns the provider name
func (p *SendGridProvider) GetName() string {
	return "SendGrid"
}

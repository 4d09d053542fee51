package providers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESProvider implements email sending via AWS SES
type SESProvider struct {
	client   *ses.Client
	from     string
	fromName string
}

// NewSESProvider creates a new AWS SES email provider
func NewSESProvider(awsCfg aws.Config, from, fromName string) *SESProvider {
	return &SESProvider{
		client:   ses.NewFromConfig(awsCfg),
		from:     from,
		fromName: fromName,
	}
}

// Send sends an email via AWS SES
func (p *SESProvider) Send(ctx context.Context, message *Message) (*SendResult, error) {
	source := formatAddress(p.fromName, p.from)
	if message.From != "" {
		source = formatAddress(message.FromName, message.From)
	}

	body := &types.Body{}
	if message.BodyHTML != "" {
		body.Html = &types.Content{Charset: aws.String("UTF-8"), Data: aws.String(message.BodyHTML)}
	}
	if message.Body != "" {
		body.Text = &types.Content{Charset: aws.String("UTF-8"), Data: aws.String(message.Body)}
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(source),
		Destination: &types.Destination{ToAddresses: []string{message.To}},
		Message: &types.Message{
			Subject: &types.Content{Charset: aws.String("UTF-8"), Data: aws.String(message.Subject)},
			Body:    body,
		},
	}
	if message.ReplyTo != "" {
		input.ReplyToAddresses = []string{message.ReplyTo}
	}

	result, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return failed(p.GetName(), fmt.Errorf("SES send failed: %w", err))
	}

	return &SendResult{
		ProviderID:   aws.ToString(result.MessageId),
		ProviderName: p.GetName(),
		Success:      true,
		ProviderData: map[string]interface{}{
			"message_id": aws.ToString(result.MessageId),
			"to":         message.To,
		},
	}, nil
}

// GetName returns the provider name
func (p *SESProvider) GetName() string {
	return "AWS SES"
}

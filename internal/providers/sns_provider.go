package providers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSProvider implements SMS sending via AWS SNS
type SNSProvider struct {
	client   *sns.Client
	senderID string
}

// NewSNSProvider creates a new AWS SNS SMS provider
func NewSNSProvider(awsCfg aws.Config, senderID string) *SNSProvider {
	return &SNSProvider{
		client:   sns.NewFromConfig(awsCfg),
		senderID: senderID,
	}
}

// SendSMS publishes a transactional SMS
func (p *SNSProvider) SendSMS(ctx context.Context, phone, body string) error {
	input := &sns.PublishInput{
		Message:     aws.String(body),
		PhoneNumber: aws.String(phone),
		MessageAttributes: map[string]types.MessageAttributeValue{
			// Transactional gets higher delivery priority than Promotional
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}

	// Sender ID is not supported in every country
	if p.senderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(p.senderID),
		}
	}

	if _, err := p.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("SNS send failed: %w", err)
	}
	return nil
}

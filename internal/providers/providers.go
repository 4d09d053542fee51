package providers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"quote-funnel-service/internal/config"
)

// EmailProvider sends one email message
type EmailProvider interface {
	Send(ctx context.Context, message *Message) (*SendResult, error)
	GetName() string
}

// Message represents an email to be sent
type Message struct {
	To       string
	Subject  string
	Body     string
	BodyHTML string
	From     string
	FromName string
	ReplyTo  string
	Headers  map[string]string
}

// SendResult represents the result of a send operation
type SendResult struct {
	ProviderID   string
	ProviderName string
	Success      bool
	Error        error
	ProviderData map[string]interface{}
}

func failed(provider string, err error) (*SendResult, error) {
	return &SendResult{ProviderName: provider, Success: false, Error: err}, err
}

// LoadAWSConfig builds the shared AWS config for SES, SNS and S3. Explicit
// keys win; otherwise the default chain (env, shared config, pod identity)
// applies.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

func formatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

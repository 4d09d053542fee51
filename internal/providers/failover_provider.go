package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNoEmailProviders is returned when nothing can deliver mail
var ErrNoEmailProviders = errors.New("no email providers configured")

// FailoverConfig configures the failover behavior
type FailoverConfig struct {
	EnableFailover bool
	MaxRetries     int
	RetryDelay     time.Duration
}

// FailoverEmailProvider tries providers in order until one succeeds
type FailoverEmailProvider struct {
	providers []EmailProvider
	config    FailoverConfig
	logger    *logrus.Entry
}

// NewFailoverEmailProvider creates a failover provider. Nil providers are
// skipped; the first remaining one is primary.
func NewFailoverEmailProvider(providers []EmailProvider, cfg FailoverConfig, logger *logrus.Logger) *FailoverEmailProvider {
	valid := make([]EmailProvider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			valid = append(valid, p)
		}
	}
	return &FailoverEmailProvider{
		providers: valid,
		config:    cfg,
		logger:    logger.WithField("component", "email_failover"),
	}
}

// Len returns the number of configured providers
func (f *FailoverEmailProvider) Len() int {
	return len(f.providers)
}

// Send sends an email with automatic failover
func (f *FailoverEmailProvider) Send(ctx context.Context, message *Message) (*SendResult, error) {
	if len(f.providers) == 0 {
		return failed(f.GetName(), ErrNoEmailProviders)
	}

	startTime := time.Now()
	var allErrors []string

	for i, provider := range f.providers {
		name := provider.GetName()

		for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
			if ctx.Err() != nil {
				return failed(f.GetName(), ctx.Err())
			}
			if attempt > 0 {
				select {
				case <-time.After(f.config.RetryDelay):
				case <-ctx.Done():
					return failed(f.GetName(), ctx.Err())
				}
			}

			result, err := provider.Send(ctx, message)
			if err == nil && result != nil && result.Success {
				if result.ProviderData == nil {
					result.ProviderData = make(map[string]interface{})
				}
				result.ProviderData["failover_attempts"] = i + 1
				f.logger.WithFields(logrus.Fields{
					"provider": name,
					"duration": time.Since(startTime).String(),
				}).Debug("Email sent")
				return result, nil
			}

			if err == nil && result != nil {
				err = result.Error
			}
			if err == nil {
				err = errors.New("send failed without error")
			}
			allErrors = append(allErrors, fmt.Sprintf("%s: %v", name, err))
			f.logger.WithError(err).WithFields(logrus.Fields{
				"provider": name,
				"attempt":  attempt + 1,
			}).Warn("Email provider failed")
		}

		if !f.config.EnableFailover {
			break
		}
	}

	return failed(f.GetName(), fmt.Errorf("all email providers failed: %s", strings.Join(allErrors, "; ")))
}

// GetName returns the provider name
func (f *FailoverEmailProvider) GetName() string {
	return "Failover"
}

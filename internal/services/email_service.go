package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"quote-funnel-service/internal/funnel"
	"quote-funnel-service/internal/metrics"
	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/providers"
	"quote-funnel-service/internal/templates"
	"quote-funnel-service/pkg/crypto"
)

// SMTPSender is a partner SMTP transport that can verify its settings
type SMTPSender interface {
	providers.EmailProvider
	TestConnection(ctx context.Context) error
}

// SMTPFactory builds a partner SMTP transport from decrypted settings
type SMTPFactory func(settings providers.SMTPSettings) SMTPSender

// LeadEmail carries what the lead templates render
type LeadEmail struct {
	Lead     *models.Lead
	Category string
	Address  string
	Answers  []templates.AnswerLine
}

// EmailService renders and delivers funnel emails. Partner SMTP is used when
// configured; the platform providers are the fallback.
type EmailService struct {
	renderer  *templates.Renderer
	fallback  *providers.FailoverEmailProvider
	encryptor *crypto.Encryptor
	newSMTP   SMTPFactory
	logger    *logrus.Entry
}

// NewEmailService creates an email service
func NewEmailService(renderer *templates.Renderer, fallback *providers.FailoverEmailProvider, encryptor *crypto.Encryptor, logger *logrus.Logger) *EmailService {
	return &EmailService{
		renderer:  renderer,
		fallback:  fallback,
		encryptor: encryptor,
		newSMTP: func(settings providers.SMTPSettings) SMTPSender {
			return providers.NewSMTPProvider(settings)
		},
		logger: logger.WithField("component", "email"),
	}
}

// WithSMTPFactory replaces how partner SMTP transports are built
func (s *EmailService) WithSMTPFactory(factory SMTPFactory) *EmailService {
	s.newSMTP = factory
	return s
}

// partnerSMTP decrypts the partner's SMTP password and builds the transport
func (s *EmailService) partnerSMTP(partner *models.Partner) (SMTPSender, error) {
	if !partner.HasSMTP() {
		return nil, ErrSMTPNotConfigured
	}
	password := ""
	if partner.SMTPPasswordEncrypted != "" {
		var err error
		password, err = s.encryptor.Decrypt(partner.SMTPPasswordEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt SMTP password: %w", err)
		}
	}
	return s.newSMTP(providers.SMTPSettings{
		Host:     partner.SMTPHost,
		Port:     partner.SMTPPort,
		Username: partner.SMTPUsername,
		Password: password,
		From:     partner.SMTPFromEmail,
		FromName: partner.SMTPFromName,
	}), nil
}

// deliver sends through partner SMTP after a connection test, falling back
// to the platform providers when SMTP is missing or fails
func (s *EmailService) deliver(ctx context.Context, partner *models.Partner, template string, msg *providers.Message) error {
	var smtpErr error
	if partner.HasSMTP() {
		sender, err := s.partnerSMTP(partner)
		if err == nil {
			err = sender.TestConnection(ctx)
		}
		if err == nil {
			_, err = sender.Send(ctx, msg)
		}
		if err == nil {
			metrics.EmailsSent.WithLabelValues(template, "smtp", "success").Inc()
			return nil
		}
		smtpErr = err
		metrics.EmailsSent.WithLabelValues(template, "smtp", "failure").Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"partner_id": partner.ID,
			"template":   template,
		}).Warn("Partner SMTP failed, trying platform providers")
	}

	if s.fallback == nil || s.fallback.Len() == 0 {
		if smtpErr != nil {
			return smtpErr
		}
		return ErrSMTPNotConfigured
	}

	if msg.FromName == "" {
		msg.FromName = partner.Name
	}
	result, err := s.fallback.Send(ctx, msg)
	if err != nil {
		metrics.EmailsSent.WithLabelValues(template, "platform", "failure").Inc()
		return errors.Join(smtpErr, err)
	}
	metrics.EmailsSent.WithLabelValues(template, result.ProviderName, "success").Inc()
	return nil
}

func (s *EmailService) brand(partner *models.Partner, data *templates.EmailData) *templates.EmailData {
	data.PartnerName = partner.Name
	data.LogoURL = partner.LogoURL
	data.AccentColor = partner.AccentColor
	return data
}

func (s *EmailService) leadData(partner *models.Partner, e *LeadEmail) *templates.EmailData {
	return s.brand(partner, &templates.EmailData{
		CustomerName: e.Lead.FullName(),
		FirstName:    e.Lead.FirstName,
		Email:        e.Lead.Email,
		Phone:        e.Lead.Phone,
		Address:      e.Address,
		Category:     e.Category,
		SubmissionID: e.Lead.SubmissionID.String(),
		Answers:      e.Answers,
	})
}

// SendLeadNotification emails the partner about a new lead and sends the
// customer a confirmation. Both are attempted; errors are joined.
func (s *EmailService) SendLeadNotification(ctx context.Context, partner *models.Partner, e *LeadEmail) error {
	var errs []error

	if partner.NotificationEmail == "" {
		errs = append(errs, ErrNoNotificationMail)
	} else {
		rendered, err := s.renderer.RenderLeadNotification(s.leadData(partner, e))
		if err == nil {
			err = s.deliver(ctx, partner, templates.LeadNotification, &providers.Message{
				To:       partner.NotificationEmail,
				Subject:  rendered.Subject,
				Body:     rendered.Text,
				BodyHTML: rendered.HTML,
				ReplyTo:  e.Lead.Email,
			})
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("lead notification: %w", err))
		}
	}

	rendered, err := s.renderer.RenderQuoteConfirmation(s.leadData(partner, e))
	if err == nil {
		err = s.deliver(ctx, partner, templates.QuoteConfirmation, &providers.Message{
			To:       e.Lead.Email,
			Subject:  rendered.Subject,
			Body:     rendered.Text,
			BodyHTML: rendered.HTML,
			ReplyTo:  partner.NotificationEmail,
		})
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("quote confirmation to %s: %w", funnel.MaskEmail(e.Lead.Email), err))
	}

	return errors.Join(errs...)
}

// SendVerifiedNotification tells the partner a lead verified their phone
func (s *EmailService) SendVerifiedNotification(ctx context.Context, partner *models.Partner, e *LeadEmail) error {
	if partner.NotificationEmail == "" {
		return ErrNoNotificationMail
	}
	rendered, err := s.renderer.RenderOTPVerified(s.leadData(partner, e))
	if err != nil {
		return err
	}
	return s.deliver(ctx, partner, templates.OTPVerified, &providers.Message{
		To:       partner.NotificationEmail,
		Subject:  rendered.Subject,
		Body:     rendered.Text,
		BodyHTML: rendered.HTML,
		ReplyTo:  e.Lead.Email,
	})
}

// SendTestEmail checks the partner's SMTP settings end to end. It never
// falls back, so configuration problems surface to the caller.
func (s *EmailService) SendTestEmail(ctx context.Context, partner *models.Partner, to string) error {
	sender, err := s.partnerSMTP(partner)
	if err != nil {
		return err
	}
	if err := sender.TestConnection(ctx); err != nil {
		return fmt.Errorf("SMTP connection test failed: %w", err)
	}

	rendered, err := s.renderer.RenderTestEmail(s.brand(partner, &templates.EmailData{}))
	if err != nil {
		return err
	}
	if _, err := sender.Send(ctx, &providers.Message{
		To:       strings.TrimSpace(to),
		Subject:  rendered.Subject,
		Body:     rendered.Text,
		BodyHTML: rendered.HTML,
	}); err != nil {
		metrics.EmailsSent.WithLabelValues(templates.TestEmail, "smtp", "failure").Inc()
		return err
	}
	metrics.EmailsSent.WithLabelValues(templates.TestEmail, "smtp", "success").Inc()
	return nil
}

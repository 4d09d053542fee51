package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/providers"
	"quote-funnel-service/internal/templates"
)

type fakeSMTP struct {
	mu       sync.Mutex
	settings providers.SMTPSettings
	connErr  error
	sent     []*providers.Message
}

func (f *fakeSMTP) Send(ctx context.Context, m *providers.Message) (*providers.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return &providers.SendResult{ProviderName: "smtp", Success: true}, nil
}

func (f *fakeSMTP) GetName() string { return "smtp" }

func (f *fakeSMTP) TestConnection(ctx context.Context) error { return f.connErr }

func smtpPartner(t *testing.T, env *testEnv) *models.Partner {
	t.Helper()
	sealed, err := env.encryptor.Encrypt("s3cret")
	require.NoError(t, err)
	return &models.Partner{
		ID:                    uuid.New(),
		Name:                  "Acme Heating",
		NotificationEmail:     "leads@acme.test",
		SMTPHost:              "smtp.acme.test",
		SMTPPort:              587,
		SMTPUsername:          "mailer",
		SMTPPasswordEncrypted: sealed,
		SMTPFromEmail:         "hello@acme.test",
		SMTPFromName:          "Acme",
	}
}

func testLeadEmail() *LeadEmail {
	return &LeadEmail{
		Lead: &models.Lead{
			SubmissionID: uuid.New(),
			FirstName:    "Jane",
			LastName:     "Doe",
			Email:        "jane@example.com",
			Phone:        "+447700900123",
		},
		Category: "Boilers",
		Address:  "1 High Street, Leeds, LS1 1AA",
		Answers:  []templates.AnswerLine{{Question: "Fuel type", Answer: "Gas"}},
	}
}

func TestEmailService_UsesPartnerSMTP(t *testing.T) {
	env := newTestEnv(t)
	smtp := &fakeSMTP{}
	env.email.WithSMTPFactory(func(settings providers.SMTPSettings) SMTPSender {
		smtp.settings = settings
		return smtp
	})

	partner := smtpPartner(t, env)
	require.NoError(t, env.email.SendLeadNotification(context.Background(), partner, testLeadEmail()))

	assert.Equal(t, "s3cret", smtp.settings.Password)
	assert.Equal(t, "hello@acme.test", smtp.settings.From)
	require.Len(t, smtp.sent, 2)
	assert.Equal(t, "leads@acme.test", smtp.sent[0].To)
	assert.Equal(t, "jane@example.com", smtp.sent[0].ReplyTo)
	assert.Contains(t, smtp.sent[0].Subject, "Boilers")
	assert.Contains(t, smtp.sent[0].BodyHTML, "Fuel type")
	assert.Equal(t, "jane@example.com", smtp.sent[1].To)
	assert.Empty(t, env.mailbox.messages())
}

func TestEmailService_FallsBackWhenSMTPFails(t *testing.T) {
	env := newTestEnv(t)
	smtp := &fakeSMTP{connErr: errors.New("connection refused")}
	env.email.WithSMTPFactory(func(providers.SMTPSettings) SMTPSender { return smtp })

	partner := smtpPartner(t, env)
	require.NoError(t, env.email.SendVerifiedNotification(context.Background(), partner, testLeadEmail()))

	assert.Empty(t, smtp.sent)
	mails := env.mailbox.messages()
	require.Len(t, mails, 1)
	assert.Equal(t, "leads@acme.test", mails[0].To)
	assert.Contains(t, mails[0].Subject, "Lead verified")
}

func TestEmailService_MissingNotificationAddress(t *testing.T) {
	env := newTestEnv(t)
	partner := &models.Partner{ID: uuid.New(), Name: "Acme"}

	err := env.email.SendLeadNotification(context.Background(), partner, testLeadEmail())
	assert.ErrorIs(t, err, ErrNoNotificationMail)

	// the customer confirmation still goes out
	mails := env.mailbox.messages()
	require.Len(t, mails, 1)
	assert.Equal(t, "jane@example.com", mails[0].To)
}

func TestEmailService_SendTestEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	err := env.email.SendTestEmail(ctx, &models.Partner{ID: uuid.New(), Name: "Acme"}, "owner@acme.test")
	assert.ErrorIs(t, err, ErrSMTPNotConfigured)

	smtp := &fakeSMTP{connErr: errors.New("auth failed")}
	env.email.WithSMTPFactory(func(providers.SMTPSettings) SMTPSender { return smtp })
	partner := smtpPartner(t, env)

	err = env.email.SendTestEmail(ctx, partner, "owner@acme.test")
	require.Error(t, err)
	assert.Empty(t, env.mailbox.messages())

	smtp.connErr = nil
	require.NoError(t, env.email.SendTestEmail(ctx, partner, " owner@acme.test "))
	require.Len(t, smtp.sent, 1)
	assert.Equal(t, "owner@acme.test", smtp.sent[0].To)
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-funnel-service/internal/models"
)

// contactSubmitted returns a session of an OTP partner that passed the
// contact step
func contactSubmitted(t *testing.T, env *testEnv) (*fixture, string) {
	t.Helper()
	ctx := context.Background()
	fx := env.seed(t, true)

	resp, err := env.funnel.StartSession(ctx, fx.partner, fx.category.ID, nil)
	require.NoError(t, err)
	contact, err := env.funnel.SubmitContact(ctx, fx.partner, resp.SessionID, validContact())
	require.NoError(t, err)
	require.Equal(t, "otp", contact.Next)
	return fx, resp.SessionID
}

func TestOTP_ResendCooldown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fx, id := contactSubmitted(t, env)

	status, err := env.otp.Send(ctx, fx.partner, id)
	require.NoError(t, err)
	assert.Equal(t, models.OTPStatusSent, status.Status)
	assert.False(t, status.CanResend)
	assert.Equal(t, 30, status.RetryInSeconds)
	assert.Equal(t, 1, env.verifier.sendCount())
	firstSent := *status.LastSentAt

	env.advance(10 * time.Second)
	status, err = env.otp.Resend(ctx, fx.partner, id)
	require.NoError(t, err)
	assert.Equal(t, 1, env.verifier.sendCount())
	assert.False(t, status.CanResend)
	assert.Equal(t, 20, status.RetryInSeconds)

	env.advance(21 * time.Second)
	status, err = env.otp.Status(ctx, fx.partner, id)
	require.NoError(t, err)
	assert.True(t, status.CanResend)

	status, err = env.otp.Resend(ctx, fx.partner, id)
	require.NoError(t, err)
	assert.Equal(t, 2, env.verifier.sendCount())
	assert.True(t, status.LastSentAt.After(firstSent))
	assert.Equal(t, 30, status.RetryInSeconds)

	env.flush(t)
	session, err := env.funnel.sessions.Get(ctx, fx.partner.ID, id)
	require.NoError(t, err)
	assert.Equal(t, "VE2", session.OTP.Handle)
	assert.Equal(t, 2, session.OTP.SendCount)

	row, err := env.rows.GetBySubmissionID(ctx, session.SubmissionID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.StageOTPSent, row.VerificationStage)
	assert.Equal(t, 2, countEvents(decodeEvents(t, row.ConversionEvents), EventOTPSent))
}

func TestOTP_VerifyFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fx, id := contactSubmitted(t, env)

	_, err := env.otp.Verify(ctx, fx.partner, id, "123456")
	assert.ErrorIs(t, err, ErrOTPNotSent)

	_, err = env.otp.Send(ctx, fx.partner, id)
	require.NoError(t, err)
	env.flush(t)

	_, err = env.otp.Verify(ctx, fx.partner, id, "12ab")
	assert.ErrorIs(t, err, ErrInvalidOTPCode)

	status, err := env.otp.Verify(ctx, fx.partner, id, "000000")
	require.NoError(t, err)
	assert.Equal(t, models.OTPStatusFailed, status.Status)
	assert.NotEmpty(t, status.Error)
	assert.False(t, status.Verified)

	status, err = env.otp.Verify(ctx, fx.partner, id, "123 456")
	require.NoError(t, err)
	assert.True(t, status.Verified)
	assert.Equal(t, models.OTPStatusApproved, status.Status)
	assert.Contains(t, status.RedirectURL, "submission_id=")

	// A second approval is answered from the session without the provider
	status, err = env.otp.Verify(ctx, fx.partner, id, "123456")
	require.NoError(t, err)
	assert.True(t, status.Verified)
	assert.Equal(t, 2, env.verifier.checks)

	env.flush(t)

	session, err := env.funnel.sessions.Get(ctx, fx.partner.ID, id)
	require.NoError(t, err)
	assert.True(t, session.Completed)

	lead, err := env.leads.GetBySubmissionID(ctx, fx.partner.ID, session.SubmissionID)
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, models.StageOTPVerified, lead.VerificationStage)

	row, err := env.rows.GetBySubmissionID(ctx, session.SubmissionID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, row.IsComplete)
	assert.Equal(t, models.StageOTPVerified, row.VerificationStage)
	assert.Equal(t, 1, countEvents(decodeEvents(t, row.ConversionEvents), EventOTPVerified))

	// lead notification, customer confirmation, verified notification
	mails := env.mailbox.messages()
	require.Len(t, mails, 3)
	assert.Contains(t, mails[2].Subject, "Lead verified")
}

func TestOTP_Preconditions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	plain := env.seed(t, false)
	resp, err := env.funnel.StartSession(ctx, plain.partner, plain.category.ID, nil)
	require.NoError(t, err)
	_, err = env.otp.Send(ctx, plain.partner, resp.SessionID)
	assert.ErrorIs(t, err, ErrOTPDisabled)

	gated := env.seed(t, true)
	resp, err = env.funnel.StartSession(ctx, gated.partner, gated.category.ID, nil)
	require.NoError(t, err)
	_, err = env.otp.Send(ctx, gated.partner, resp.SessionID)
	assert.ErrorIs(t, err, ErrLeadRequired)
	assert.Equal(t, 0, env.verifier.sendCount())
}

func TestOTP_SecondConcurrentSendIsRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fx, id := contactSubmitted(t, env)

	ok, err := env.store.SetNX(ctx, otpInflightPrefix+id, []byte("1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.otp.Send(ctx, fx.partner, id)
	assert.ErrorIs(t, err, ErrOTPSendInFlight)
	assert.Equal(t, 0, env.verifier.sendCount())

	require.NoError(t, env.store.Del(ctx, otpInflightPrefix+id))
	status, err := env.otp.Send(ctx, fx.partner, id)
	require.NoError(t, err)
	assert.Equal(t, models.OTPStatusSent, status.Status)

	// the lock is released after the send
	_, found, err := env.store.Get(ctx, otpInflightPrefix+id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOTP_SendAfterWaitingOnTheLockUsesFreshState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fx, id := contactSubmitted(t, env)

	// loaded while the session was still unsent
	stale, err := env.otp.load(ctx, fx.partner, id)
	require.NoError(t, err)
	require.Equal(t, models.OTPStatusUnsent, stale.session.OTP.Status)

	_, err = env.otp.Send(ctx, fx.partner, id)
	require.NoError(t, err)

	status, err := env.otp.send(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, models.OTPStatusSent, status.Status)
	assert.False(t, status.CanResend)
	assert.Equal(t, 1, env.verifier.sendCount())

	session, err := env.funnel.sessions.Get(ctx, fx.partner.ID, id)
	require.NoError(t, err)
	assert.Equal(t, 1, session.OTP.SendCount)
	assert.Equal(t, "VE1", session.OTP.Handle)

	// once the cooldown passes the same path sends again
	env.advance(31 * time.Second)
	_, err = env.otp.send(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, 2, env.verifier.sendCount())
}

func TestOTP_SendFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fx, id := contactSubmitted(t, env)

	env.verifier.sendErr = errors.New("provider unavailable")
	status, err := env.otp.Send(ctx, fx.partner, id)
	require.NoError(t, err)
	assert.Equal(t, models.OTPStatusUnsent, status.Status)
	assert.NotEmpty(t, status.Error)
	assert.True(t, status.CanResend)

	env.verifier.sendErr = nil
	status, err = env.otp.Send(ctx, fx.partner, id)
	require.NoError(t, err)
	assert.Equal(t, models.OTPStatusSent, status.Status)
	assert.Empty(t, status.Error)
}

func TestTelemetry_MarkVerifiedTwice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fx, id := contactSubmitted(t, env)
	env.flush(t)

	session, err := env.funnel.sessions.Get(ctx, fx.partner.ID, id)
	require.NoError(t, err)
	meta := MetaFromSession(session)

	require.NoError(t, env.telemetry.MarkVerified(ctx, meta))
	first, err := env.rows.GetBySubmissionID(ctx, session.SubmissionID)
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)

	env.advance(time.Minute)
	require.NoError(t, env.telemetry.MarkVerified(ctx, meta))
	second, err := env.rows.GetBySubmissionID(ctx, session.SubmissionID)
	require.NoError(t, err)

	assert.True(t, second.IsComplete)
	require.NotNil(t, second.CompletedAt)
	assert.True(t, first.CompletedAt.Equal(*second.CompletedAt))
	assert.Equal(t, 1, countEvents(decodeEvents(t, second.ConversionEvents), EventOTPVerified))
	assert.Equal(t, models.StageOTPVerified, second.VerificationStage)
}

func TestTelemetry_StageNeverRegresses(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fx, id := contactSubmitted(t, env)
	env.flush(t)

	session, err := env.funnel.sessions.Get(ctx, fx.partner.ID, id)
	require.NoError(t, err)
	meta := MetaFromSession(session)

	require.NoError(t, env.telemetry.MarkVerified(ctx, meta))
	require.NoError(t, env.telemetry.Upsert(ctx, meta, TelemetryPatch{Stage: models.StageOTPSent}))

	row, err := env.rows.GetBySubmissionID(ctx, session.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, models.StageOTPVerified, row.VerificationStage)

	require.NoError(t, env.telemetry.MarkAbandoned(ctx, session.SubmissionID))
	row, err = env.rows.GetBySubmissionID(ctx, session.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, models.StageOTPVerified, row.VerificationStage)
}

func TestTelemetry_CompletionKeepsCurrentPage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fx, id := contactSubmitted(t, env)
	env.flush(t)

	session, err := env.funnel.sessions.Get(ctx, fx.partner.ID, id)
	require.NoError(t, err)
	meta := MetaFromSession(session)

	require.NoError(t, env.telemetry.Upsert(ctx, meta, TelemetryPatch{CurrentPage: "products"}))
	require.NoError(t, env.telemetry.MarkCompleted(ctx, meta))
	require.NoError(t, env.telemetry.MarkVerified(ctx, meta))

	row, err := env.rows.GetBySubmissionID(ctx, session.SubmissionID)
	require.NoError(t, err)
	assert.True(t, row.IsComplete)
	assert.Equal(t, "products", row.CurrentPage)
}

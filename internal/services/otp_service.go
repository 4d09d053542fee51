package services

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"quote-funnel-service/internal/dispatch"
	"quote-funnel-service/internal/funnel"
	"quote-funnel-service/internal/metrics"
	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/providers"
	"quote-funnel-service/internal/redis"
	"quote-funnel-service/pkg/otp"
)

const (
	otpInflightPrefix     = "otp:inflight:"
	otpInflightTTL        = 30 * time.Second
	defaultResendCooldown = 30 * time.Second
)

// OTPService runs phone verification for partners that enable it. The
// state machine lives on the funnel session; only the verification stage
// is written durably.
type OTPService struct {
	funnel    *FunnelService
	provider  providers.VerificationProvider
	generator *otp.Generator
	store     redis.Store
	cooldown  time.Duration
	logger    *logrus.Entry
	now       func() time.Time
}

// NewOTPService creates the OTP service
func NewOTPService(funnelService *FunnelService, provider providers.VerificationProvider, generator *otp.Generator, store redis.Store, cooldown time.Duration, logger *logrus.Logger) *OTPService {
	if cooldown <= 0 {
		cooldown = defaultResendCooldown
	}
	return &OTPService{
		funnel:    funnelService,
		provider:  provider,
		generator: generator,
		store:     store,
		cooldown:  cooldown,
		logger:    logger.WithField("component", "otp"),
		now:       time.Now,
	}
}

// load returns the session state and enforces the preconditions every OTP
// operation shares
func (s *OTPService) load(ctx context.Context, partner *models.Partner, sessionID string) (*funnelState, error) {
	if !partner.OTPEnabled {
		return nil, ErrOTPDisabled
	}
	st, err := s.funnel.loadState(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}
	if !st.session.HasLead() || st.session.OTP.Phone == "" {
		return nil, ErrLeadRequired
	}
	return st, nil
}

// retryIn is how long until a resend is allowed; zero means now
func (s *OTPService) retryIn(state models.OTPState) time.Duration {
	if state.LastSentAt == nil {
		return 0
	}
	wait := s.cooldown - s.now().Sub(*state.LastSentAt)
	if wait < 0 {
		return 0
	}
	return wait
}

func (s *OTPService) status(st *funnelState, errMsg string) *models.OTPStatusResponse {
	state := st.session.OTP
	wait := s.retryIn(state)
	resp := &models.OTPStatusResponse{
		Status:      state.Status,
		PhoneMasked: funnel.MaskPhone(state.Phone),
		LastSentAt:  state.LastSentAt,
		Error:       errMsg,
		Verified:    state.Status == models.OTPStatusApproved,
	}
	switch state.Status {
	case models.OTPStatusSent, models.OTPStatusFailed:
		resp.CanResend = wait == 0
		if wait > 0 {
			resp.RetryInSeconds = int(math.Ceil(wait.Seconds()))
		}
	case models.OTPStatusUnsent:
		resp.CanResend = true
	}
	if resp.Verified {
		resp.RedirectURL = s.funnel.RedirectURL(st.session)
	}
	return resp
}

// Status reports the verification state of a session
func (s *OTPService) Status(ctx context.Context, partner *models.Partner, sessionID string) (*models.OTPStatusResponse, error) {
	st, err := s.load(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}
	return s.status(st, st.session.OTP.LastError), nil
}

// Send requests the first code. Calling it again after a successful send
// behaves like Resend.
func (s *OTPService) Send(ctx context.Context, partner *models.Partner, sessionID string) (*models.OTPStatusResponse, error) {
	st, err := s.load(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}
	switch st.session.OTP.Status {
	case models.OTPStatusApproved:
		return s.status(st, ""), nil
	case models.OTPStatusUnsent:
		return s.send(ctx, st)
	}
	return s.resend(ctx, st)
}

// Resend requests a new code once the cooldown has elapsed. Before that it
// is a no-op that reports how long to wait.
func (s *OTPService) Resend(ctx context.Context, partner *models.Partner, sessionID string) (*models.OTPStatusResponse, error) {
	return s.Send(ctx, partner, sessionID)
}

func (s *OTPService) resend(ctx context.Context, st *funnelState) (*models.OTPStatusResponse, error) {
	if s.retryIn(st.session.OTP) > 0 {
		return s.status(st, ""), nil
	}
	return s.send(ctx, st)
}

// send is guarded by a short-lived lock so a double click cannot issue two
// provider requests for the same session. The session is read again under
// the lock: a send that finished while this request waited counts.
func (s *OTPService) send(ctx context.Context, st *funnelState) (*models.OTPStatusResponse, error) {
	lockKey := otpInflightPrefix + st.session.ID
	acquired, err := s.store.SetNX(ctx, lockKey, []byte("1"), otpInflightTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrOTPSendInFlight
	}
	defer func() {
		if err := s.store.Del(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.WithError(err).Warn("Failed to release OTP send lock")
		}
	}()

	session, err := s.funnel.sessions.Get(ctx, st.partner.ID, st.session.ID)
	if err != nil {
		return nil, err
	}
	st.session = session
	switch session.OTP.Status {
	case models.OTPStatusApproved:
		return s.status(st, ""), nil
	case models.OTPStatusSent, models.OTPStatusFailed:
		if s.retryIn(session.OTP) > 0 {
			return s.status(st, ""), nil
		}
	}

	previous := session.OTP.Status
	handle, err := s.provider.Send(ctx, session.OTP.Phone)
	if err != nil {
		metrics.OTPSends.WithLabelValues(s.provider.GetName(), "failure").Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": session.ID,
			"phone":      funnel.MaskPhone(session.OTP.Phone),
		}).Warn("Failed to send verification code")

		// A failed first send stays retryable without a cooldown
		session.OTP.Status = previous
		session.OTP.LastError = "We could not send a code. Please try again."
		if err := s.funnel.sessions.Save(ctx, session); err != nil {
			return nil, err
		}
		return s.status(st, session.OTP.LastError), nil
	}
	metrics.OTPSends.WithLabelValues(s.provider.GetName(), "success").Inc()

	now := s.now().UTC()
	session.OTP.Status = models.OTPStatusSent
	session.OTP.Handle = handle
	session.OTP.LastSentAt = &now
	session.OTP.SendCount++
	session.OTP.LastError = ""
	if err := s.funnel.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	meta := MetaFromSession(session)
	s.funnel.dispatcher.Dispatch(ctx,
		s.funnel.telemetry.Task(meta, TelemetryPatch{
			CurrentPage: "otp",
			Stage:       models.StageOTPSent,
			Events: []models.ConversionEvent{{
				Type: EventOTPSent,
				Data: map[string]interface{}{"attempt": session.OTP.SendCount},
			}},
		}),
		s.funnel.leadStageTask(st.partner, session, models.StageOTPSent),
	)

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"phone":      funnel.MaskPhone(session.OTP.Phone),
		"attempt":    session.OTP.SendCount,
	}).Info("Verification code sent")
	return s.status(st, ""), nil
}

// Verify checks a code. Denials and provider errors are reported inline and
// leave the session retryable; approval completes the funnel.
func (s *OTPService) Verify(ctx context.Context, partner *models.Partner, sessionID, code string) (*models.OTPStatusResponse, error) {
	code = otp.NormalizeCode(code)
	if !s.generator.Validate(code) {
		return nil, ErrInvalidOTPCode
	}

	st, err := s.load(ctx, partner, sessionID)
	if err != nil {
		return nil, err
	}
	session := st.session
	switch session.OTP.Status {
	case models.OTPStatusApproved:
		return s.status(st, ""), nil
	case models.OTPStatusUnsent, models.OTPStatusSending:
		return nil, ErrOTPNotSent
	}

	approved, err := s.provider.Check(ctx, session.OTP.Handle, session.OTP.Phone, code)
	if err != nil || !approved {
		msg := "That code is not correct. Please try again."
		result := "denied"
		switch {
		case errors.Is(err, providers.ErrVerificationExpired):
			msg = "This code has expired. Please request a new one."
			result = "expired"
		case errors.Is(err, providers.ErrTooManyAttempts):
			msg = "Too many attempts. Please request a new code."
			result = "locked"
		case err != nil:
			msg = "We could not check your code. Please try again."
			result = "error"
			s.logger.WithError(err).WithField("session_id", session.ID).Warn("Verification check failed")
		}
		metrics.OTPChecks.WithLabelValues(result).Inc()

		session.OTP.Status = models.OTPStatusFailed
		session.OTP.LastError = msg
		if err := s.funnel.sessions.Save(ctx, session); err != nil {
			return nil, err
		}
		return s.status(st, msg), nil
	}
	metrics.OTPChecks.WithLabelValues("approved").Inc()

	now := s.now().UTC()
	session.OTP.Status = models.OTPStatusApproved
	session.OTP.ApprovedAt = &now
	session.OTP.LastError = ""
	session.Completed = true
	if err := s.funnel.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	meta := MetaFromSession(session)
	lead := s.funnel.sessionLead(st)
	leadEmail := s.funnel.leadEmail(st, lead)
	tasks := []dispatch.Task{
		{
			Name: "telemetry_verified",
			Run: func(ctx context.Context) error {
				return s.funnel.telemetry.MarkVerified(ctx, meta)
			},
		},
		s.funnel.leadStageTask(partner, session, models.StageOTPVerified),
		{
			Name:                  "verified_email",
			MustSurviveNavigation: true,
			Run: func(ctx context.Context) error {
				return s.funnel.email.SendVerifiedNotification(ctx, partner, leadEmail)
			},
		},
	}
	if s.funnel.events.Enabled() {
		event := s.funnel.leadEvent(session, models.StageOTPVerified)
		tasks = append(tasks, dispatch.Task{
			Name: "lead_verified_event",
			Run: func(ctx context.Context) error {
				return s.funnel.events.PublishLeadVerified(ctx, event)
			},
		})
	}
	s.funnel.dispatcher.Dispatch(ctx, tasks...)

	s.logger.WithFields(logrus.Fields{
		"session_id":    session.ID,
		"submission_id": session.SubmissionID,
	}).Info("Phone verified")
	return s.status(st, ""), nil
}

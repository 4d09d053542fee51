package services

import "errors"

// Service errors. Handlers map them to HTTP statuses with errors.Is.
var (
	ErrPartnerNotFound    = errors.New("partner not found")
	ErrCategoryNotFound   = errors.New("service category not found")
	ErrSessionNotFound    = errors.New("funnel session not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrLeadNotFound       = errors.New("lead not found")
	ErrLeadRequired       = errors.New("contact details must be submitted first")
	ErrLeadSaveFailed     = errors.New("failed to save lead")
	ErrInvalidSelections  = errors.New("product selections are not valid JSON")
	ErrSessionClosed      = errors.New("funnel session already completed")
	ErrRoofMappingOff     = errors.New("roof mapping is not part of this funnel")
	ErrOTPDisabled        = errors.New("phone verification is not enabled")
	ErrOTPSendInFlight    = errors.New("a verification code is already being sent")
	ErrOTPNotSent         = errors.New("no verification code has been sent")
	ErrInvalidOTPCode     = errors.New("verification code has the wrong format")
	ErrSMTPNotConfigured  = errors.New("SMTP settings are not configured")
	ErrNoNotificationMail = errors.New("partner has no notification email")
)

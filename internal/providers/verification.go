package providers

import (
	"context"
	"errors"
)

var (
	// ErrVerificationExpired means the provider no longer knows the handle
	ErrVerificationExpired = errors.New("verification expired or not found")
	// ErrTooManyAttempts means the code can no longer be checked
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

// VerificationProvider sends and checks SMS one-time codes. Send returns an
// opaque handle that identifies the verification session at the provider.
type VerificationProvider interface {
	Send(ctx context.Context, phone string) (handle string, err error)
	Check(ctx context.Context, handle, phone, code string) (approved bool, err error)
	GetName() string
}

// SMSSender delivers a plain text SMS
type SMSSender interface {
	SendSMS(ctx context.Context, phone, body string) error
}

package providers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quote-funnel-service/internal/redis"
	"quote-funnel-service/pkg/crypto"
	"quote-funnel-service/pkg/otp"
)

const localCodePrefix = "otp:local:"

type localCode struct {
	Phone    string `json:"phone"`
	CodeHash string `json:"code_hash"`
}

// LocalVerificationProvider generates codes itself, keeps only their hash in
// the key/value store and delivers them over SMS
type LocalVerificationProvider struct {
	store       redis.Store
	sms         SMSSender
	generator   *otp.Generator
	expiry      time.Duration
	maxAttempts int
	message     string
}

// NewLocalVerificationProvider creates a local provider. maxAttempts <= 0
// defaults to 5.
func NewLocalVerificationProvider(store redis.Store, sms SMSSender, length int, expiry time.Duration, maxAttempts int) *LocalVerificationProvider {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	return &LocalVerificationProvider{
		store:       store,
		sms:         sms,
		generator:   otp.NewGenerator(length),
		expiry:      expiry,
		maxAttempts: maxAttempts,
		message:     "Your verification code is %s",
	}
}

// Send generates a code, stores its hash and texts it to phone
func (p *LocalVerificationProvider) Send(ctx context.Context, phone string) (string, error) {
	code, err := p.generator.Generate()
	if err != nil {
		return "", err
	}

	handle := uuid.New().String()
	entry := localCode{Phone: phone, CodeHash: crypto.Hash(code)}
	if err := redis.SetJSON(ctx, p.store, localCodePrefix+handle, entry, p.expiry); err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}

	if err := p.sms.SendSMS(ctx, phone, fmt.Sprintf(p.message, code)); err != nil {
		_ = p.store.Del(ctx, localCodePrefix+handle)
		return "", err
	}
	return handle, nil
}

// Check compares code with the stored hash. Every call counts as an attempt.
func (p *LocalVerificationProvider) Check(ctx context.Context, handle, phone, code string) (bool, error) {
	key := localCodePrefix + handle

	var entry localCode
	found, err := redis.GetJSON(ctx, p.store, key, &entry)
	if err != nil {
		return false, err
	}
	if !found {
		return false, ErrVerificationExpired
	}

	attempts, err := p.store.Incr(ctx, key+":attempts", p.expiry)
	if err != nil {
		return false, err
	}
	if attempts > int64(p.maxAttempts) {
		_ = p.store.Del(ctx, key, key+":attempts")
		return false, ErrTooManyAttempts
	}

	if entry.Phone != phone || !p.generator.Validate(code) {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(crypto.Hash(code)), []byte(entry.CodeHash)) != 1 {
		return false, nil
	}

	_ = p.store.Del(ctx, key, key+":attempts")
	return true, nil
}

// GetName returns the provider name
func (p *LocalVerificationProvider) GetName() string {
	return "local"
}

package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-funnel-service/internal/config"
	"quote-funnel-service/internal/redis"
)

type fakeEmailProvider struct {
	name  string
	err   error
	calls int
}

func (f *fakeEmailProvider) Send(ctx context.Context, message *Message) (*SendResult, error) {
	f.calls++
	if f.err != nil {
		return failed(f.name, f.err)
	}
	return &SendResult{ProviderName: f.name, Success: true}, nil
}

func (f *fakeEmailProvider) GetName() string { return f.name }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestFailoverEmailProvider(t *testing.T) {
	t.Run("falls through to the next provider", func(t *testing.T) {
		primary := &fakeEmailProvider{name: "primary", err: errors.New("down")}
		secondary := &fakeEmailProvider{name: "secondary"}
		f := NewFailoverEmailProvider([]EmailProvider{primary, nil, secondary},
			FailoverConfig{EnableFailover: true, MaxRetries: 1}, quietLogger())

		assert.Equal(t, 2, f.Len())
		result, err := f.Send(context.Background(), &Message{To: "a@b.com"})
		require.NoError(t, err)
		assert.Equal(t, "secondary", result.ProviderName)
		assert.Equal(t, 2, primary.calls)
		assert.Equal(t, 1, secondary.calls)
		assert.Equal(t, 2, result.ProviderData["failover_attempts"])
	})

	t.Run("stops after primary when failover disabled", func(t *testing.T) {
		primary := &fakeEmailProvider{name: "primary", err: errors.New("down")}
		secondary := &fakeEmailProvider{name: "secondary"}
		f := NewFailoverEmailProvider([]EmailProvider{primary, secondary},
			FailoverConfig{}, quietLogger())

		_, err := f.Send(context.Background(), &Message{To: "a@b.com"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary: down")
		assert.Equal(t, 0, secondary.calls)
	})

	t.Run("no providers", func(t *testing.T) {
		f := NewFailoverEmailProvider(nil, FailoverConfig{}, quietLogger())
		_, err := f.Send(context.Background(), &Message{})
		assert.ErrorIs(t, err, ErrNoEmailProviders)
	})
}

func TestBuildMIME(t *testing.T) {
	raw := string(buildMIME("Acme <noreply@acme.test>", &Message{
		To:       "lead@example.com",
		Subject:  "New quote",
		Body:     "plain",
		BodyHTML: "<p>html</p>",
		ReplyTo:  "owner@acme.test",
	}))

	assert.Contains(t, raw, "From: Acme <noreply@acme.test>\r\n")
	assert.Contains(t, raw, "Reply-To: owner@acme.test\r\n")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "text/plain; charset=utf-8\r\n\r\nplain")
	assert.Contains(t, raw, "text/html; charset=utf-8\r\n\r\n<p>html</p>")
	assert.True(t, strings.HasSuffix(raw, "--"+mimeBoundary+"--\r\n"))
}

func newTwilioServer(t *testing.T, handler http.HandlerFunc) *TwilioVerifyProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewTwilioVerifyProvider(config.OTPConfig{
		TwilioAPIKeySID:        "SKkey",
		TwilioAPIKeySecret:     "secret",
		TwilioVerifyServiceSID: "VAservice",
		TwilioBaseURL:          srv.URL + "/",
	})
	require.NoError(t, err)
	return p
}

func TestTwilioVerifyProvider(t *testing.T) {
	t.Run("send posts to verifications", func(t *testing.T) {
		p := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/Services/VAservice/Verifications", r.URL.Path)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "SKkey", user)
			assert.Equal(t, "secret", pass)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "+447700900123", r.PostForm.Get("To"))
			assert.Equal(t, "sms", r.PostForm.Get("Channel"))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"sid":"VE123","status":"pending"}`))
		})

		handle, err := p.Send(context.Background(), "+447700900123")
		require.NoError(t, err)
		assert.Equal(t, "VE123", handle)
	})

	t.Run("check approved", func(t *testing.T) {
		p := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/Services/VAservice/VerificationCheck", r.URL.Path)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "VE123", r.PostForm.Get("VerificationSid"))
			assert.Equal(t, "123456", r.PostForm.Get("Code"))
			_, _ = w.Write([]byte(`{"sid":"VE123","status":"approved","valid":true}`))
		})

		ok, err := p.Check(context.Background(), "VE123", "+447700900123", "123456")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("check pending is not approved", func(t *testing.T) {
		p := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"sid":"VE123","status":"pending","valid":false}`))
		})

		ok, err := p.Check(context.Background(), "", "+447700900123", "000000")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("not found maps to expired", func(t *testing.T) {
		p := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":20404,"message":"not found","status":404}`))
		})

		_, err := p.Check(context.Background(), "VE123", "", "123456")
		assert.ErrorIs(t, err, ErrVerificationExpired)
	})

	t.Run("twilio error body", func(t *testing.T) {
		p := newTwilioServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":60200,"message":"Invalid parameter","status":400}`))
		})

		_, err := p.Send(context.Background(), "bad")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "60200")
	})

	t.Run("requires service sid", func(t *testing.T) {
		_, err := NewTwilioVerifyProvider(config.OTPConfig{TwilioAPIKeySID: "a", TwilioAPIKeySecret: "b"})
		assert.Error(t, err)
	})
}

type fakeSMS struct {
	mu   sync.Mutex
	sent map[string]string
	err  error
}

func (f *fakeSMS) SendSMS(ctx context.Context, phone, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	f.sent[phone] = body
	return nil
}

var codePattern = regexp.MustCompile(`\d{6}`)

func (f *fakeSMS) code(phone string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return codePattern.FindString(f.sent[phone])
}

func TestLocalVerificationProvider(t *testing.T) {
	ctx := context.Background()
	phone := "+447700900123"

	t.Run("send then check", func(t *testing.T) {
		sms := &fakeSMS{}
		p := NewLocalVerificationProvider(redis.NewMemoryStore(), sms, 6, time.Minute, 3)

		handle, err := p.Send(ctx, phone)
		require.NoError(t, err)
		code := sms.code(phone)
		require.Len(t, code, 6)

		ok, err := p.Check(ctx, handle, "+447700900999", code)
		require.NoError(t, err)
		assert.False(t, ok, "code is bound to the phone it was sent to")

		ok, err = p.Check(ctx, handle, phone, code)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = p.Check(ctx, handle, phone, code)
		assert.ErrorIs(t, err, ErrVerificationExpired, "codes are single use")
	})

	t.Run("attempt limit", func(t *testing.T) {
		sms := &fakeSMS{}
		p := NewLocalVerificationProvider(redis.NewMemoryStore(), sms, 6, time.Minute, 2)

		handle, err := p.Send(ctx, phone)
		require.NoError(t, err)
		wrong := "000000"
		if sms.code(phone) == wrong {
			wrong = "111111"
		}

		for i := 0; i < 2; i++ {
			ok, err := p.Check(ctx, handle, phone, wrong)
			require.NoError(t, err)
			assert.False(t, ok)
		}
		_, err = p.Check(ctx, handle, phone, sms.code(phone))
		assert.ErrorIs(t, err, ErrTooManyAttempts)
	})

	t.Run("sms failure leaves nothing behind", func(t *testing.T) {
		store := redis.NewMemoryStore()
		p := NewLocalVerificationProvider(store, &fakeSMS{err: errors.New("sns down")}, 6, time.Minute, 3)

		handle, err := p.Send(ctx, phone)
		require.Error(t, err)
		assert.Empty(t, handle)
	})
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "a@b.com", formatAddress("", "a@b.com"))
	assert.Equal(t, "Acme <a@b.com>", formatAddress("Acme", "a@b.com"))
}

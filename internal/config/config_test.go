package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_KEY", "test-api-key")
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
}

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8094", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "quotefunnel.app", cfg.Funnel.BaseDomain)
	assert.Equal(t, "/products", cfg.Funnel.ProductListingPath)
	assert.Equal(t, 6, cfg.OTP.Length)
	assert.Equal(t, 30*time.Second, cfg.OTP.ResendCooldown)
	assert.Equal(t, "twilio", cfg.OTP.Provider)
	assert.Equal(t, "", cfg.RedisAddr())
	assert.Equal(t, 64, cfg.Dispatch.MaxConcurrent)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "quote-funnel-service", cfg.Tracing.ServiceName)
}

func TestLoad_Overrides(t *testing.T) {
	os.Clearenv()
	setRequiredEnv(t)
	t.Setenv("BASE_DOMAIN", "Quotes.Example.COM")
	t.Setenv("OTP_RESEND_COOLDOWN", "45s")
	t.Setenv("OTP_PROVIDER", "local")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLE_RATIO", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "quotes.example.com", cfg.Funnel.BaseDomain)
	assert.Equal(t, 45*time.Second, cfg.OTP.ResendCooldown)
	assert.Equal(t, "local", cfg.OTP.Provider)
	assert.Equal(t, "redis:6379", cfg.RedisAddr())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.InDelta(t, 2.5, cfg.RateLimit.RequestsPerSecond, 0.0001)
	assert.True(t, cfg.Tracing.Enabled)
	assert.InDelta(t, 0.25, cfg.Tracing.SampleRatio, 0.0001)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	os.Clearenv()
	setRequiredEnv(t)
	t.Setenv("OTP_RESEND_COOLDOWN", "soon")
	t.Setenv("REDIS_DB", "abc")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.OTP.ResendCooldown)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing api key", func(c *Config) { c.Security.APIKey = "" }, "API_KEY"},
		{"short encryption key", func(c *Config) { c.Security.EncryptionKey = "short" }, "ENCRYPTION_KEY"},
		{"missing base domain", func(c *Config) { c.Funnel.BaseDomain = "" }, "BASE_DOMAIN"},
		{"otp too short", func(c *Config) { c.OTP.Length = 3 }, "OTP_LENGTH"},
		{"unknown provider", func(c *Config) { c.OTP.Provider = "pigeon" }, "OTP_PROVIDER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Funnel:   FunnelConfig{BaseDomain: "quotefunnel.app"},
				OTP:      OTPConfig{Provider: "twilio", Length: 6},
				Security: SecurityConfig{APIKey: "k", EncryptionKey: testEncryptionKey},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "disable",
	}}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", cfg.GetDSN())
}

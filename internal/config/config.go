package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the quote funnel service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Funnel    FunnelConfig
	OTP       OTPConfig
	Email     EmailConfig
	AWS       AWSConfig
	Storage   StorageConfig
	CRM       CRMConfig
	Dispatch  DispatchConfig
	Scheduler SchedulerConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	Mode           string // debug, release
	LogLevel       string
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration. An empty host disables Redis and
// the service falls back to in-memory stores.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds NATS settings
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// FunnelConfig holds quote funnel behaviour settings
type FunnelConfig struct {
	BaseDomain         string        // platform domain partners get subdomains on
	ProductListingPath string        // redirect target once a funnel completes
	SessionTTL         time.Duration // funnel session lifetime in the session store
	PartnerCacheTTL    time.Duration
}

// OTPConfig holds phone verification settings
type OTPConfig struct {
	Provider       string // twilio, local
	Length         int
	ResendCooldown time.Duration
	CodeExpiry     time.Duration // local provider only
	MaxAttempts    int           // local provider only

	TwilioAccountSID       string
	TwilioAPIKeySID        string
	TwilioAPIKeySecret     string
	TwilioVerifyServiceSID string
	TwilioBaseURL          string

	SNSSenderID string
}

// EmailConfig holds platform fallback email settings. Partners normally send
// through their own SMTP credentials.
type EmailConfig struct {
	SendGridAPIKey string
	SendGridFrom   string
	SESFrom        string
	SESFromName    string
	FromName       string
	EnableFailover bool
}

// AWSConfig holds AWS credentials shared by SES, SNS and S3
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// StorageConfig holds object storage settings for roof images
type StorageConfig struct {
	RoofImageBucket string
	Endpoint        string // optional S3-compatible endpoint
}

// CRMConfig holds GoHighLevel API settings
type CRMConfig struct {
	GHLBaseURL    string
	GHLAPIVersion string
	Timeout       time.Duration
}

// DispatchConfig holds background side-effect settings
type DispatchConfig struct {
	TaskTimeout   time.Duration
	MaxConcurrent int
}

// SchedulerConfig holds periodic job settings
type SchedulerConfig struct {
	Enabled         bool
	CleanupSchedule string
	AbandonAfter    time.Duration
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	APIKey        string
	EncryptionKey string // 32 bytes for AES-256
}

// RateLimitConfig holds per-client request limits for public funnel routes
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// TracingConfig holds OpenTelemetry export settings
type TracingConfig struct {
	Enabled     bool
	Endpoint    string // OTLP gRPC collector, e.g. otel-collector:4317
	Insecure    bool
	ServiceName string
	SampleRatio float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8094"),
			Mode:           getEnv("GIN_MODE", "debug"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "quote_funnel"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			MaxReconnects: getEnvAsInt("NATS_MAX_RECONNECTS", -1),
			ReconnectWait: getEnvAsDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
		Funnel: FunnelConfig{
			BaseDomain:         strings.ToLower(getEnv("BASE_DOMAIN", "quotefunnel.app")),
			ProductListingPath: getEnv("PRODUCT_LISTING_PATH", "/products"),
			SessionTTL:         getEnvAsDuration("FUNNEL_SESSION_TTL", 48*time.Hour),
			PartnerCacheTTL:    getEnvAsDuration("PARTNER_CACHE_TTL", 5*time.Minute),
		},
		OTP: OTPConfig{
			Provider:               getEnv("OTP_PROVIDER", "twilio"),
			Length:                 getEnvAsInt("OTP_LENGTH", 6),
			ResendCooldown:         getEnvAsDuration("OTP_RESEND_COOLDOWN", 30*time.Second),
			CodeExpiry:             getEnvAsDuration("OTP_CODE_EXPIRY", 10*time.Minute),
			MaxAttempts:            getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			TwilioAccountSID:       getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAPIKeySID:        getEnv("TWILIO_API_KEY_SID", ""),
			TwilioAPIKeySecret:     getEnv("TWILIO_API_KEY_SECRET", ""),
			TwilioVerifyServiceSID: getEnv("TWILIO_VERIFY_SERVICE_SID", ""),
			TwilioBaseURL:          getEnv("TWILIO_VERIFY_BASE_URL", "https://verify.twilio.com/v2"),
			SNSSenderID:            getEnv("SNS_SENDER_ID", ""),
		},
		Email: EmailConfig{
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			SendGridFrom:   getEnv("SENDGRID_FROM", ""),
			SESFrom:        getEnv("SES_FROM", ""),
			SESFromName:    getEnv("SES_FROM_NAME", "Quote Funnel"),
			FromName:       getEnv("EMAIL_FROM_NAME", "Quote Funnel"),
			EnableFailover: getEnvAsBool("EMAIL_ENABLE_FAILOVER", true),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "eu-west-2"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Storage: StorageConfig{
			RoofImageBucket: getEnv("ROOF_IMAGE_BUCKET", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
		},
		CRM: CRMConfig{
			GHLBaseURL:    getEnv("GHL_BASE_URL", "https://services.leadconnectorhq.com"),
			GHLAPIVersion: getEnv("GHL_API_VERSION", "2021-07-28"),
			Timeout:       getEnvAsDuration("GHL_TIMEOUT", 15*time.Second),
		},
		Dispatch: DispatchConfig{
			TaskTimeout:   getEnvAsDuration("DISPATCH_TASK_TIMEOUT", 15*time.Second),
			MaxConcurrent: getEnvAsInt("DISPATCH_MAX_CONCURRENT", 64),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getEnvAsBool("SCHEDULER_ENABLED", true),
			CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "0 */15 * * * *"),
			AbandonAfter:    getEnvAsDuration("ABANDON_AFTER", 24*time.Hour),
		},
		Security: SecurityConfig{
			APIKey:        getEnv("API_KEY", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvAsBool("OTEL_INSECURE", true),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "quote-funnel-service"),
			SampleRatio: getEnvAsFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Security.APIKey == "" {
		return fmt.Errorf("API_KEY is required for partner endpoints")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if c.Funnel.BaseDomain == "" {
		return fmt.Errorf("BASE_DOMAIN is required")
	}

	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}

	switch c.OTP.Provider {
	case "twilio", "local":
	default:
		return fmt.Errorf("unsupported OTP_PROVIDER: %s", c.OTP.Provider)
	}

	return nil
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// RedisAddr returns host:port, or empty when Redis is not configured
func (c *Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("30s", "10m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated env var into a string slice
func getEnvAsSlice(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

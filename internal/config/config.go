// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session store backends accepted by SESSION_STORE.
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the address the OTP HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint. Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// DatabaseURL is the Postgres DSN for the audit trail and identity directory; empty disables both.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// OTPTTL is the session lifetime (e.g. "5m").
	OTPTTL string `mapstructure:"OTP_TTL"`
	// OTPSweepInterval enables the expired-session reaper when > 0 (e.g. "1m").
	OTPSweepInterval string `mapstructure:"OTP_SWEEP_INTERVAL"`
	// SessionStore selects the live session store: memory or redis.
	SessionStore string `mapstructure:"SESSION_STORE"`
	// RedisURL is the redis:// URL used when SessionStore is redis.
	RedisURL string `mapstructure:"REDIS_URL"`
	// SessionGrace is how long a Redis key outlives expiresAt so expiry is still observed lazily.
	SessionGrace string `mapstructure:"SESSION_GRACE"`

	// PhoneCountryCode is the calling code used when rewriting domestic numbers.
	PhoneCountryCode string `mapstructure:"PHONE_COUNTRY_CODE"`
	// PhoneTrunkPrefix is the domestic trunk digit replaced by the calling code.
	PhoneTrunkPrefix string `mapstructure:"PHONE_TRUNK_PREFIX"`
	// PhoneMobilePrefix is the leading digit of 10-digit domestic mobile numbers.
	PhoneMobilePrefix string `mapstructure:"PHONE_MOBILE_PREFIX"`

	// SMSRUAPIID enables the SMS.ru gateway (self-managed codes). Takes precedence over Twilio.
	SMSRUAPIID string `mapstructure:"SMSRU_API_ID"`
	// SMSRUBaseURL is the SMS.ru API base URL.
	SMSRUBaseURL string `mapstructure:"SMSRU_BASE_URL"`
	// SMSRUSender is the optional alpha sender name.
	SMSRUSender string `mapstructure:"SMSRU_SENDER"`

	// TwilioAccountSID, TwilioAuthToken and TwilioVerifyServiceSID enable the Twilio Verify gateway.
	TwilioAccountSID       string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken        string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioVerifyServiceSID string `mapstructure:"TWILIO_VERIFY_SERVICE_SID"`
	// TwilioBaseURL is the Verify API base URL.
	TwilioBaseURL string `mapstructure:"TWILIO_BASE_URL"`

	// MockExposeCode returns the generated code to the caller in mock mode. Must not be true in production.
	MockExposeCode bool `mapstructure:"MOCK_EXPOSE_CODE"`

	// SupabaseURL and SupabaseServiceRoleKey enable Supabase Auth for identity provisioning
	// and the postgrest audit repository when DATABASE_URL is not set.
	SupabaseURL            string `mapstructure:"SUPABASE_URL"`
	SupabaseServiceRoleKey string `mapstructure:"SUPABASE_SERVICE_ROLE_KEY"`

	// QREnabled turns QR artifact rendering on.
	QREnabled bool `mapstructure:"QR_ENABLED"`
	// QRBrand is embedded in the QR payload and the SMS text.
	QRBrand string `mapstructure:"QR_BRAND"`
	// QRSize is the PNG edge in pixels (64..1024).
	QRSize int `mapstructure:"QR_SIZE"`
	// ReportMaxBytes caps the caller-supplied auxiliary report.
	ReportMaxBytes int `mapstructure:"REPORT_MAX_BYTES"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for session lifecycle events.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the audit worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// Worker-only: Loki URL for the audit worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC collector; empty uses no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// CORSAllowedOrigins is a comma-separated origin list for the HTTP API.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_SWEEP_INTERVAL", "0s")
	v.SetDefault("SESSION_STORE", SessionStoreMemory)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SESSION_GRACE", "1m")
	v.SetDefault("PHONE_COUNTRY_CODE", "7")
	v.SetDefault("PHONE_TRUNK_PREFIX", "8")
	v.SetDefault("PHONE_MOBILE_PREFIX", "9")
	v.SetDefault("SMSRU_API_ID", "")
	v.SetDefault("SMSRU_BASE_URL", "https://sms.ru")
	v.SetDefault("SMSRU_SENDER", "")
	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_AUTH_TOKEN", "")
	v.SetDefault("TWILIO_VERIFY_SERVICE_SID", "")
	v.SetDefault("TWILIO_BASE_URL", "https://verify.twilio.com")
	v.SetDefault("MOCK_EXPOSE_CODE", true)
	v.SetDefault("SUPABASE_URL", "")
	v.SetDefault("SUPABASE_SERVICE_ROLE_KEY", "")
	v.SetDefault("QR_ENABLED", true)
	v.SetDefault("QR_BRAND", "Valhalla")
	v.SetDefault("QR_SIZE", 256)
	v.SetDefault("REPORT_MAX_BYTES", 16384)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "otp-session-events")
	v.SetDefault("KAFKA_GROUP_ID", "otp-audit-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if d, err := time.ParseDuration(cfg.OTPTTL); err != nil || d <= 0 {
		return nil, errors.New("config: OTP_TTL must be a positive duration")
	}
	if _, err := time.ParseDuration(cfg.OTPSweepInterval); err != nil {
		return nil, errors.New("config: OTP_SWEEP_INTERVAL must be a duration")
	}

	switch cfg.SessionStore {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("config: REDIS_URL must be set when SESSION_STORE=redis")
		}
	default:
		return nil, errors.New("config: SESSION_STORE must be memory or redis")
	}

	if cfg.MockExposeCode && cfg.Env == "production" {
		return nil, errors.New("config: MOCK_EXPOSE_CODE must not be true when APP_ENV=production")
	}

	if cfg.QRSize < 64 || cfg.QRSize > 1024 {
		return nil, errors.New("config: QR_SIZE must be between 64 and 1024")
	}
	if cfg.ReportMaxBytes <= 0 {
		cfg.ReportMaxBytes = 16384
	}

	return &cfg, nil
}

// TTL parses OTPTTL. Returns 5m if unset or invalid.
func (c *Config) TTL() time.Duration {
	d, err := time.ParseDuration(c.OTPTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// SweepInterval parses OTPSweepInterval. Zero means the reaper is disabled.
func (c *Config) SweepInterval() time.Duration {
	d, err := time.ParseDuration(c.OTPSweepInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Grace parses SessionGrace. Returns 1m if unset or invalid.
func (c *Config) Grace() time.Duration {
	d, err := time.ParseDuration(c.SessionGrace)
	if err != nil || d < 0 {
		return time.Minute
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event streaming is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CORSOrigins returns the allowed origins; defaults to "*".
func (c *Config) CORSOrigins() []string {
	if c == nil {
		return []string{"*"}
	}
	out := splitList(c.CORSAllowedOrigins)
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// SupabaseEnabled reports whether both the Supabase URL and service role key are set.
func (c *Config) SupabaseEnabled() bool {
	return c != nil && c.SupabaseURL != "" && c.SupabaseServiceRoleKey != ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	Storage          string        `mapstructure:"STORAGE"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	DBMaxConnLife    time.Duration `mapstructure:"DB_MAX_CONN_LIFETIME"`
	MigrationsDir    string        `mapstructure:"MIGRATIONS_DIR"`
	BookingTimezone  string        `mapstructure:"BOOKING_TIMEZONE"`
	BcryptCost       int           `mapstructure:"BCRYPT_COST"`
	AutoMigrate      bool          `mapstructure:"AUTO_MIGRATE"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	AuthMode         string        `mapstructure:"AUTH_MODE"`
	AuthIssuer       string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience     string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL      string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	KafkaBrokers     []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic       string        `mapstructure:"KAFKA_TOPIC"`
	OTelEnabled      bool          `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint     string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName  string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTelSampleRate   float64       `mapstructure:"OTEL_SAMPLE_RATE"`
	MetricsNamespace string        `mapstructure:"METRICS_NAMESPACE"`
}

var defaults = map[string]interface{}{
	"PORT":                 "8000",
	"ENV":                  "development",
	"LOG_LEVEL":            "info",
	"SHUTDOWN_TIMEOUT":     "15s",
	"STORAGE":              StoragePostgres,
	"DB_MAX_CONNS":         20,
	"DB_MIN_CONNS":         5,
	"DB_MAX_CONN_LIFETIME": "1h",
	"BOOKING_TIMEZONE":     "Local",
	"BCRYPT_COST":          10,
	"REQUEST_TIMEOUT":      "30s",
	"BODY_LIMIT":           "1M",
	"CORS_ORIGINS":         "http://localhost:3000",
	"RATE_LIMIT_RPS":       100,
	"RATE_LIMIT_BURST":     200,
	"KAFKA_TOPIC":          "clinicbook.appointments",
	"OTEL_SERVICE_NAME":    "clinicbook",
	"OTEL_SAMPLE_RATE":     1.0,
	"METRICS_NAMESPACE":    "clinicbook",
}

var envKeys = []string{
	"MIGRATIONS_DIR", "AUTO_MIGRATE", "DATABASE_URL",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"KAFKA_BROKERS", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
}

// Load reads the environment and an optional .env file in the working
// directory. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
		_ = v.BindEnv(key)
	}
	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))

	if cfg.Storage == StoragePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORAGE=%s", StoragePostgres)
	}

	return cfg, nil
}

// splitList accepts both ["a","b"] and ["a,b"] shapes and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments get the development identity and everything else validates
// bearer tokens.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// Location resolves BOOKING_TIMEZONE. Empty and "Local" mean the server's
// zone.
func (c *Config) Location() (*time.Location, error) {
	if c.BookingTimezone == "" || c.BookingTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.BookingTimezone)
	if err != nil {
		return nil, fmt.Errorf("BOOKING_TIMEZONE %q: %w", c.BookingTimezone, err)
	}
	return loc, nil
}

// KafkaEnabled reports whether events go to a broker instead of the log.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Storage != StorageMemory && c.Storage != StoragePostgres {
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage)
	}
	if c.Storage == StorageMemory && c.IsProduction() {
		return fmt.Errorf("STORAGE=%s is not allowed in production", StorageMemory)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=%s is not allowed in production", AuthModeDevelopment)
		}
	case AuthModeJWT:
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf(
				"AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when AUTH_MODE is %q (current ENV=%q)",
				AuthModeJWT, c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %v", c.OTelSampleRate)
	}
	if c.OTelEnabled && c.OTelEndpoint == "" {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED is true")
	}
	if c.KafkaEnabled() && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

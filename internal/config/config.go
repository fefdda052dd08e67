// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Version is the build version, overridden with
// -ldflags "-X github.com/capisim/capisim/internal/config.Version=...".
var Version = "0.1.0"

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"5000"`

	// Base URL used for product page links in event_source_url
	BaseURL string `env:"BASE_URL" envDefault:"http://127.0.0.1:5000"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts. WriteTimeout must cover delay_ms plus the CAPI round trip.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Conversions API
	PixelID       string        `env:"PIXEL_ID"`
	AccessToken   string        `env:"ACCESS_TOKEN"`
	TestEventCode string        `env:"TEST_EVENT_CODE"`
	GraphVersion  string        `env:"GRAPH_VER" envDefault:"v21.0"`
	GraphBaseURL  string        `env:"GRAPH_BASE_URL" envDefault:"https://graph.facebook.com"`
	CAPITimeout   time.Duration `env:"CAPI_TIMEOUT" envDefault:"10s"`
	CAPIMaxRPS    float64       `env:"CAPI_MAX_RPS" envDefault:"10"`
	CAPIBurst     int           `env:"CAPI_BURST" envDefault:"10"`
	DryRun        bool          `env:"DRY_RUN" envDefault:"false"`
	PartnerAgent  string        `env:"PARTNER_AGENT" envDefault:"capisim"`

	// Simulation defaults
	DefaultCatalogSize int           `env:"DEFAULT_CATALOG_SIZE" envDefault:"24"`
	StoreCurrency      string        `env:"STORE_CURRENCY" envDefault:"USD"`
	MismatchCurrency   string        `env:"MISMATCH_CURRENCY" envDefault:"EUR"`
	DedupLedgerSize    int           `env:"DEDUP_LEDGER_SIZE" envDefault:"1000"`
	DedupWindow        time.Duration `env:"DEDUP_WINDOW" envDefault:"48h"`

	// GA4 Measurement Protocol
	GA4MeasurementID string `env:"GA4_MEASUREMENT_ID"`
	GA4APISecret     string `env:"GA4_API_SECRET"`
	GA4Endpoint      string `env:"GA4_ENDPOINT" envDefault:"https://www.google-analytics.com/mp/collect"`

	// File sink (JSON lines)
	FileSinkPath string `env:"FILE_SINK_PATH"`

	// Webhook sink
	WebhookURL     string            `env:"WEBHOOK_URL"`
	WebhookHeaders map[string]string `env:"WEBHOOK_HEADERS" envSeparator:"," envKeyValSeparator:":"`
	WebhookSecret  string            `env:"WEBHOOK_SECRET"`

	// Redis stream sink (optional)
	RedisURL    string `env:"REDIS_URL"`
	RedisStream string `env:"REDIS_STREAM" envDefault:"stream:sim_events"`

	// Postgres journal (optional)
	DatabaseURL string `env:"DATABASE_URL"`

	// Basic auth
	BasicAuthEnabled  bool     `env:"BASIC_AUTH_ENABLED" envDefault:"false"`
	BasicAuthUsername string   `env:"BASIC_AUTH_USERNAME"`
	BasicAuthPassword string   `env:"BASIC_AUTH_PASSWORD"`
	BasicAuthRealm    string   `env:"BASIC_AUTH_REALM" envDefault:"Restricted"`
	BasicAuthExempt   []string `env:"BASIC_AUTH_EXEMPT" envSeparator:"," envDefault:"/healthz,/version"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// CAPIConfigured reports whether both pixel id and access token are set.
// Without them every CAPI send degrades to a dry run.
func (c *Config) CAPIConfigured() bool {
	return c.PixelID != "" && c.AccessToken != ""
}

// GA4Configured reports whether GA4 Measurement Protocol credentials are set.
func (c *Config) GA4Configured() bool {
	return c.GA4MeasurementID != "" && c.GA4APISecret != ""
}

// ExemptPaths returns the trimmed, non-empty basic-auth exemptions.
func (c *Config) ExemptPaths() []string {
	result := make([]string, 0, len(c.BasicAuthExempt))
	for _, p := range c.BasicAuthExempt {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	if c.DefaultCatalogSize < 0 {
		return fmt.Errorf("DEFAULT_CATALOG_SIZE must be >= 0, got %d", c.DefaultCatalogSize)
	}
	if c.DedupLedgerSize < 1 {
		return fmt.Errorf("DEDUP_LEDGER_SIZE must be >= 1, got %d", c.DedupLedgerSize)
	}
	if c.BasicAuthEnabled && (c.BasicAuthUsername == "" || c.BasicAuthPassword == "") {
		return fmt.Errorf("BASIC_AUTH_ENABLED requires BASIC_AUTH_USERNAME and BASIC_AUTH_PASSWORD")
	}
	if c.CAPIMaxRPS <= 0 {
		return fmt.Errorf("CAPI_MAX_RPS must be > 0")
	}
	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if a value cannot be parsed or fails validation.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

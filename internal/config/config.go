// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrNoCredentials is returned when no SSO tokens are configured and
	// Redis is disabled, leaving the service with no credential source.
	ErrNoCredentials = errors.New("config: SSO_TOKENS is required when REDIS_ENABLED is false")
	// ErrRedisURLRequired is returned when REDIS_ENABLED is set without REDIS_URL.
	ErrRedisURLRequired = errors.New("config: REDIS_URL is required when REDIS_ENABLED is true")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port   int    `env:"PORT, default=8080" json:"port"`
	APIKey string `env:"API_KEY" json:"-"` // Masked in JSON; empty disables bearer auth

	// Upstream settings
	WebsocketURL string `env:"GROK_WS_URL, default=wss://grok.com/ws" json:"grok_ws_url"`
	ProxyURL     string `env:"PROXY_URL" json:"proxy_url,omitempty"`
	CFClearance  string `env:"CF_CLEARANCE" json:"-"` // Masked in JSON

	// Credential pool settings
	SSOTokens     []string `env:"SSO_TOKENS" json:"-"` // Masked in JSON
	RedisEnabled  bool     `env:"REDIS_ENABLED, default=false" json:"redis_enabled"`
	RedisURL      string   `env:"REDIS_URL" json:"redis_url,omitempty"`
	SSODailyLimit int      `env:"SSO_DAILY_LIMIT, default=0" json:"sso_daily_limit"`

	// Generation settings
	GenerationTimeoutSec int `env:"GENERATION_TIMEOUT_SEC, default=120" json:"generation_timeout_sec"`
	DefaultImageCount    int `env:"DEFAULT_IMAGE_COUNT, default=4" json:"default_image_count"`
	MaxRetries           int `env:"MAX_RETRIES, default=5" json:"max_retries"`
	VideoMaxRetries      int `env:"VIDEO_MAX_RETRIES, default=3" json:"video_max_retries"`
	MaxBlockedRetries    int `env:"MAX_BLOCKED_RETRIES, default=3" json:"max_blocked_retries"`

	// Stage classification and stall heuristics. These values are tuned
	// against the observed behavior of the upstream service, not derived
	// from any published contract, so they stay configurable.
	MediumSizeThreshold int `env:"MEDIUM_SIZE_THRESHOLD, default=30000" json:"medium_size_threshold"`
	FinalSizeThreshold  int `env:"FINAL_SIZE_THRESHOLD, default=100000" json:"final_size_threshold"`
	StallGraceSec       int `env:"STALL_GRACE_SEC, default=15" json:"stall_grace_sec"`
	StallReadGraceSec   int `env:"STALL_READ_GRACE_SEC, default=10" json:"stall_read_grace_sec"`
	IdleCompleteSec     int `env:"IDLE_COMPLETE_SEC, default=10" json:"idle_complete_sec"`

	// Storage settings
	DataDir       string `env:"DATA_DIR, default=/tmp/grokpi" json:"data_dir"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL, default=http://localhost:8080" json:"public_base_url"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// GenerationTimeout returns the overall attempt deadline as a duration.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSec) * time.Second
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if the resulting configuration is not usable.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration designates a credential source.
func (c *Config) Validate() error {
	if c.RedisEnabled {
		if c.RedisURL == "" {
			return ErrRedisURLRequired
		}
		return nil
	}
	if len(c.SSOTokens) == 0 {
		return ErrNoCredentials
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, WebsocketURL: %s, DataDir: %s, DefaultImageCount: %d, MaxRetries: %d, RedisEnabled: %t, S3Bucket: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.WebsocketURL,
		c.DataDir,
		c.DefaultImageCount,
		c.MaxRetries,
		c.RedisEnabled,
		c.S3Bucket,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

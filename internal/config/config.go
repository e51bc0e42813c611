// Package config loads and validates the YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/postwave/postwave/internal/identity"
	"github.com/postwave/postwave/internal/sender"
)

// Config is the main configuration structure
type Config struct {
	API       APIConfig       `yaml:"api"`
	Sender    SenderConfig    `yaml:"sender"`
	Campaign  CampaignConfig  `yaml:"campaign"`
	Verify    VerifyConfig    `yaml:"verify"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	AllowedIPs     []string      `yaml:"allowed_ips"` // IPs/CIDRs allowed on /api/v1; empty allows all
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
}

// SenderConfig selects and configures the delivery adapter
type SenderConfig struct {
	// Mode is "gmail" or "smtp"
	Mode string `yaml:"mode"`

	Gmail identity.Identity `yaml:"gmail"`
	SMTP  sender.SMTPConfig `yaml:"smtp"`
}

// CampaignConfig contains send pipeline settings
type CampaignConfig struct {
	Delay         time.Duration `yaml:"delay"`          // Pause between sends (default: 1s)
	MaxRetries    int           `yaml:"max_retries"`    // Extra attempts on temporary errors (default: 2)
	RetryBackoff  time.Duration `yaml:"retry_backoff"`  // Base backoff, doubles per retry (default: 2s)
	SendTimeout   time.Duration `yaml:"send_timeout"`   // Per-send timeout (default: 1m)
	AttachmentMax int64         `yaml:"attachment_max"` // Max fetched attachment size in bytes (default: 25MB)
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`  // Attachment fetch timeout (default: 30s)
	VerifyDefault bool          `yaml:"verify_default"` // Verify recipients unless the request says otherwise
}

// VerifyConfig contains address verification settings
type VerifyConfig struct {
	CheckMX    bool          `yaml:"check_mx"`
	MXCacheTTL time.Duration `yaml:"mx_cache_ttl"` // MX lookup cache TTL (default: 5m)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`    // SQLite database (default: /var/lib/postwave/postwave.db)
	SuppressionPath string `yaml:"suppression_path"` // BoltDB suppression store (default: /var/lib/postwave/suppress.db)
}

// RateLimitConfig contains fixed-window rate limit settings
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Window      time.Duration `yaml:"window"`       // Window length (default: 1m)
	MaxRequests int           `yaml:"max_requests"` // Requests per window per client (default: 60)
}

// TrackingConfig contains engagement tracking settings
type TrackingConfig struct {
	// BaseURL is the public origin used in pixel, click and
	// unsubscribe links, e.g. https://mail.example.com
	BaseURL string `yaml:"base_url"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Sender.Mode == "" {
		c.Sender.Mode = "gmail"
	}

	if c.Campaign.Delay == 0 {
		c.Campaign.Delay = time.Second
	}
	if c.Campaign.MaxRetries == 0 {
		c.Campaign.MaxRetries = 2
	}
	if c.Campaign.RetryBackoff == 0 {
		c.Campaign.RetryBackoff = 2 * time.Second
	}
	if c.Campaign.SendTimeout == 0 {
		c.Campaign.SendTimeout = time.Minute
	}
	if c.Campaign.AttachmentMax == 0 {
		c.Campaign.AttachmentMax = 25 << 20
	}
	if c.Campaign.FetchTimeout == 0 {
		c.Campaign.FetchTimeout = 30 * time.Second
	}

	if c.Verify.MXCacheTTL == 0 {
		c.Verify.MXCacheTTL = 5 * time.Minute
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "/var/lib/postwave/postwave.db"
	}
	if c.Storage.SuppressionPath == "" {
		c.Storage.SuppressionPath = "/var/lib/postwave/suppress.db"
	}

	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Sender.Mode {
	case "gmail":
		if err := c.Sender.Gmail.Validate(); err != nil {
			return fmt.Errorf("sender.gmail: %w", err)
		}
	case "smtp":
		if c.Sender.SMTP.Host == "" {
			return fmt.Errorf("sender.smtp.host is required when mode is smtp")
		}
		if c.Sender.SMTP.From == "" {
			return fmt.Errorf("sender.smtp.from is required when mode is smtp")
		}
	default:
		return fmt.Errorf("invalid sender.mode: %s (must be gmail or smtp)", c.Sender.Mode)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Campaign.Delay < 0 {
		return fmt.Errorf("campaign.delay must not be negative")
	}
	if c.RateLimit.Enabled && c.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("rate_limit.max_requests must not be negative")
	}

	return nil
}

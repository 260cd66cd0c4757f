// Package config provides the configuration types for reviewkit.
// It defines the application-level Config loaded at startup and the
// per-connector ConnectorConfig that is persisted encrypted and decrypted
// transiently for a single ingestion run.
package config

import (
	"fmt"
	"time"
)

// Config is the application configuration loaded at process start.
type Config struct {
	// DatabaseURL is the Postgres connection string. Empty selects the
	// in-memory store, which is only suitable for tests and local runs.
	DatabaseURL string `yaml:"database_url" json:"database_url"`

	// Ingestion settings control the run orchestrator
	Ingestion IngestionConfig `yaml:"ingestion" json:"ingestion"`

	// Observability settings for logging and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// IngestionConfig contains orchestrator settings.
type IngestionConfig struct {
	// BatchSize controls the number of reviews persisted per chunk
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxPersistedErrors caps the number of errors stored per run
	MaxPersistedErrors int `yaml:"max_persisted_errors" json:"max_persisted_errors"`
	// FetchTimeout bounds a connector's fetch or parse step
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	// RateLimitPerSec limits live fetch calls per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// ObservabilityConfig contains logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	LogEncoding   string `yaml:"log_encoding" json:"log_encoding"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
}

// Default returns a Config with production-ready defaults.
func Default() *Config {
	return &Config{
		Ingestion: IngestionConfig{
			BatchSize:          50,
			MaxPersistedErrors: 100,
			FetchTimeout:       10 * time.Minute,
			RateLimitPerSec:    0,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogEncoding:   "json",
			EnableMetrics: true,
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if c.Ingestion.BatchSize <= 0 {
		return fmt.Errorf("ingestion.batch_size must be positive")
	}
	if c.Ingestion.MaxPersistedErrors < 0 {
		return fmt.Errorf("ingestion.max_persisted_errors cannot be negative")
	}
	if c.Ingestion.FetchTimeout < 0 {
		return fmt.Errorf("ingestion.fetch_timeout cannot be negative")
	}
	if c.Ingestion.RateLimitPerSec < 0 {
		return fmt.Errorf("ingestion.rate_limit_per_sec cannot be negative")
	}
	return nil
}

// ConnectorConfig is the per-connector configuration. It is stored encrypted
// at rest; the decrypted form exists only in memory for one invocation.
type ConnectorConfig struct {
	// Credentials holds tokens and API keys for live-fetch sources
	Credentials map[string]string `yaml:"credentials" json:"credentials,omitempty"`

	// Settings is a free-form settings map interpreted per connector
	Settings map[string]interface{} `yaml:"settings" json:"settings,omitempty"`

	// ColumnMapping maps normalized field names to CSV header names or
	// zero-based column indexes (as decimal strings)
	ColumnMapping map[string]string `yaml:"column_mapping" json:"column_mapping,omitempty"`

	// DateFormat is an explicit hint for ambiguous numeric dates:
	// "DD/MM/YYYY" or "MM/DD/YYYY"
	DateFormat string `yaml:"date_format" json:"date_format,omitempty"`
}

// Setting returns a string-valued setting, with ok reporting presence.
func (c *ConnectorConfig) Setting(key string) (string, bool) {
	if c == nil || c.Settings == nil {
		return "", false
	}
	v, ok := c.Settings[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// HasCredentials returns true if credentials are configured
func (c *ConnectorConfig) HasCredentials() bool {
	return c != nil && len(c.Credentials) > 0
}

// Package core defines the connector contract every review source must
// satisfy, together with the normalized data types exchanged between
// connectors and the ingestion orchestrator. Connectors only return data
// and errors; persistence is owned entirely by the orchestrator.
package core

import (
	"context"
	"time"

	"github.com/reviewkit/reviewkit/pkg/config"
)

// Connector is the capability interface all review sources implement.
type Connector interface {
	// Metadata
	SourceType() string
	DisplayName() string
	Description() string

	// Capabilities
	SupportsAutoSync() bool
	RequiresUpload() bool

	// FetchReviews pulls reviews live from the source platform. Connectors
	// that cannot fetch must return a single VALIDATION FetchError directing
	// the caller to use upload, never an empty silent success.
	FetchReviews(ctx context.Context, opts FetchOptions) (*FetchResult, error)

	// ValidateConfig checks a decrypted configuration before it is stored
	ValidateConfig(cfg *config.ConnectorConfig) *ValidationResult

	// CheckHealth reports whether the source is reachable and usable
	CheckHealth(ctx context.Context) *HealthStatus
}

// UploadParser is the optional capability for file-based sources. The
// orchestrator probes for it with a type assertion when an upload is supplied.
type UploadParser interface {
	ParseUpload(ctx context.Context, data []byte, filename string) (*FetchResult, error)
}

// FetchOptions bounds a fetch or parse invocation.
type FetchOptions struct {
	Since *time.Time
	Until *time.Time
	Limit int
}

// ValidationResult is the outcome of ValidateConfig.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// HealthStatus is the outcome of CheckHealth.
type HealthStatus struct {
	IsHealthy   bool                   `json:"is_healthy"`
	LastChecked time.Time              `json:"last_checked"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Factory creates a connector instance from a decrypted configuration.
type Factory func(connectorID string, cfg *config.ConnectorConfig) (Connector, error)

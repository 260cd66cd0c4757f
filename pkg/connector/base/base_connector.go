// Package base provides the foundational BaseConnector that concrete source
// connectors compose. It carries connector metadata, the decrypted
// configuration, a scoped logger, and optional rate limiting for live
// fetches, and supplies the default permissive ValidateConfig and
// trivially-healthy CheckHealth so connectors override only what differs.
package base

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/reviewkit/reviewkit/pkg/config"
	"github.com/reviewkit/reviewkit/pkg/connector/core"
	"github.com/reviewkit/reviewkit/pkg/errors"
	"github.com/reviewkit/reviewkit/pkg/logger"
)

// Connector provides common functionality for all source connectors.
// Concrete connectors embed it and override the methods that differ.
type Connector struct {
	sourceType  string
	displayName string
	description string
	autoSync    bool
	needsUpload bool

	connectorID string
	cfg         *config.ConnectorConfig
	log         *zap.Logger
	limiter     *rate.Limiter
}

// New creates a base connector with the given metadata.
func New(sourceType, displayName, description string, autoSync, needsUpload bool) *Connector {
	return &Connector{
		sourceType:  sourceType,
		displayName: displayName,
		description: description,
		autoSync:    autoSync,
		needsUpload: needsUpload,
		log:         logger.Get().With(zap.String("connector", sourceType)),
	}
}

// Configure attaches the connector instance id and decrypted configuration.
func (c *Connector) Configure(connectorID string, cfg *config.ConnectorConfig) {
	c.connectorID = connectorID
	c.cfg = cfg
	c.log = logger.Get().With(
		zap.String("connector", c.sourceType),
		zap.String("connector_id", connectorID),
	)
}

// SetRateLimit enables rate limiting of live fetch calls (0 disables).
func (c *Connector) SetRateLimit(perSec int) {
	if perSec <= 0 {
		c.limiter = nil
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
}

// RateLimit blocks until a fetch call is allowed, honoring ctx cancellation.
func (c *Connector) RateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "rate limit wait interrupted")
	}
	return nil
}

// SourceType returns the source type identifier
func (c *Connector) SourceType() string { return c.sourceType }

// DisplayName returns the human-readable connector name
func (c *Connector) DisplayName() string { return c.displayName }

// Description returns the connector description
func (c *Connector) Description() string { return c.description }

// SupportsAutoSync reports whether the source supports scheduled live pulls
func (c *Connector) SupportsAutoSync() bool { return c.autoSync }

// RequiresUpload reports whether the source is file-upload based
func (c *Connector) RequiresUpload() bool { return c.needsUpload }

// ConnectorID returns the connector instance id
func (c *Connector) ConnectorID() string { return c.connectorID }

// Config returns the decrypted connector configuration (may be nil)
func (c *Connector) Config() *config.ConnectorConfig { return c.cfg }

// Logger returns the connector-scoped logger
func (c *Connector) Logger() *zap.Logger { return c.log }

// ValidateConfig is the permissive default: any configuration is accepted.
func (c *Connector) ValidateConfig(_ *config.ConnectorConfig) *core.ValidationResult {
	return &core.ValidationResult{Valid: true}
}

// CheckHealth is the trivially-healthy default for sources with no
// external endpoint to probe.
func (c *Connector) CheckHealth(_ context.Context) *core.HealthStatus {
	return &core.HealthStatus{
		IsHealthy:   true,
		LastChecked: time.Now().UTC(),
	}
}

// UploadOnlyFetchResult is the explicit refusal returned by upload-only
// connectors from FetchReviews: a single validation error directing the
// caller to upload, never an empty silent success.
func (c *Connector) UploadOnlyFetchResult() *core.FetchResult {
	result := &core.FetchResult{}
	result.AddError(core.NewFetchError(
		errors.ErrorTypeValidation,
		c.displayName+" does not support live fetch; upload an export file instead",
	).WithContext("source_type", c.sourceType))
	return result
}

// Package store defines the persistence contract for reviews, connectors,
// and ingestion run history, together with the persisted entity types.
// Implementations: memory (tests, local runs) and postgres.
package store

import (
	"context"
	"time"
)

// RunStatus is the ingestion run state machine. RUNNING is the only
// non-terminal state; a run is finalized exactly once.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusPartial   RunStatus = "PARTIAL"
	RunStatusFailed    RunStatus = "FAILED"
)

// ConnectorStatus is the connector health status.
type ConnectorStatus string

const (
	ConnectorStatusActive ConnectorStatus = "ACTIVE"
	ConnectorStatusError  ConnectorStatus = "ERROR"
)

// Review is the persisted canonical review row. The pair
// (ConnectorID, ExternalReviewID) is unique; ContentHash serves only
// cross-connector duplicate suppression and never merges rows.
type Review struct {
	ID               string
	TenantID         string
	ConnectorID      string
	ExternalReviewID string
	Content          string
	ContentHash      string
	Rating           *int
	Title            string
	AuthorName       string
	AuthorID         string
	ReviewDate       time.Time
	ResponseText     string
	ResponseDate     *time.Time
	LikesCount       int
	RepliesCount     int
	HelpfulCount     int
	DetectedLanguage string
	RawData          map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IngestionRun is one execution of a connector against a tenant.
// Immutable once completed.
type IngestionRun struct {
	ID              string
	TenantID        string
	ConnectorID     string
	RunType         string
	Status          RunStatus
	ReviewsFetched  int
	ReviewsCreated  int
	ReviewsUpdated  int
	ReviewsSkipped  int
	DuplicatesFound int
	ErrorCount      int
	StartedAt       time.Time
	CompletedAt     *time.Time
	DurationMs      int64
}

// IngestionError is a persisted per-run error, bounded to the first N
// per run at finalization.
type IngestionError struct {
	ID        string
	RunID     string
	ErrorType string
	Message   string
	Context   map[string]interface{}
	Retryable bool
	CreatedAt time.Time
}

// Connector is the stored connector instance: source type, encrypted
// configuration blob, and health fields maintained by the orchestrator.
type Connector struct {
	ID                string
	TenantID          string
	SourceType        string
	DisplayName       string
	Status            ConnectorStatus
	EncryptedConfig   string
	LastSyncedAt      *time.Time
	ConsecutiveErrors int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReviewStore persists canonical reviews. Lookups return (nil, nil) when
// no row matches.
type ReviewStore interface {
	// GetByExternalID looks up a review by its (connector, externalId) key
	GetByExternalID(ctx context.Context, connectorID, externalID string) (*Review, error)
	// FindByContentHash finds a same-tenant review with identical content
	// arriving through a different connector
	FindByContentHash(ctx context.Context, tenantID, contentHash, excludeConnectorID string) (*Review, error)
	InsertReview(ctx context.Context, review *Review) error
	UpdateReview(ctx context.Context, review *Review) error
}

// RunStore persists the append-only run history and bounded error lists.
type RunStore interface {
	// HasRunningRun reports whether a RUNNING run exists for the connector
	HasRunningRun(ctx context.Context, connectorID string) (bool, error)
	CreateRun(ctx context.Context, run *IngestionRun) error
	// FinalizeRun writes the terminal status, counts, and timing. It is
	// the single permitted mutation of a run record.
	FinalizeRun(ctx context.Context, run *IngestionRun) error
	ListRuns(ctx context.Context, connectorID string, limit int) ([]IngestionRun, error)
	InsertRunErrors(ctx context.Context, errs []IngestionError) error
	GetRunErrors(ctx context.Context, runID string) ([]IngestionError, error)
}

// ConnectorStore persists connector instances and their health fields.
type ConnectorStore interface {
	GetConnector(ctx context.Context, id string) (*Connector, error)
	SaveConnector(ctx context.Context, c *Connector) error
	// UpdateConnectorHealth updates the health fields after a run
	UpdateConnectorHealth(ctx context.Context, id string, status ConnectorStatus, lastSyncedAt *time.Time, consecutiveErrors int) error
}

// Store is the full persistence contract the orchestrator depends on.
type Store interface {
	ReviewStore
	RunStore
	ConnectorStore
}

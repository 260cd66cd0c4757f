package pipeline

import (
	"time"

	"github.com/reviewkit/reviewkit/internal/store"
)

// Run types accepted by StartIngestion.
const (
	RunTypeManual   = "manual"
	RunTypeUpload   = "upload"
	RunTypeAutoSync = "auto_sync"
)

// StartRequest describes one ingestion invocation.
type StartRequest struct {
	TenantID    string
	ConnectorID string
	RunType     string

	// Optional fetch bounds for live sources
	Since *time.Time
	Until *time.Time
	Limit int

	// Optional uploaded file for upload-based sources. Gzip-compressed
	// files are decompressed before the connector sees them.
	FileData []byte
	Filename string
}

// RunResult is the synchronous run summary returned to the caller. The
// granular per-row messages are available only through GetRunErrors,
// never inline here.
type RunResult struct {
	RunID           string          `json:"run_id"`
	Status          store.RunStatus `json:"status"`
	ReviewsFetched  int             `json:"reviews_fetched"`
	ReviewsCreated  int             `json:"reviews_created"`
	ReviewsUpdated  int             `json:"reviews_updated"`
	ReviewsSkipped  int             `json:"reviews_skipped"`
	DuplicatesFound int             `json:"duplicates_found"`
	ErrorCount      int             `json:"error_count"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at"`
	DurationMs      int64           `json:"duration_ms"`
}

// runCounters aggregates per-run outcomes. Owned exclusively by the single
// orchestrator invocation processing the run.
type runCounters struct {
	fetched    int
	created    int
	updated    int
	skipped    int
	duplicates int
}

// status applies the deterministic status rule: zero errors means
// COMPLETED; errors with at least one create or update means PARTIAL;
// errors without any means FAILED.
func (c runCounters) status(errorCount int) store.RunStatus {
	if errorCount == 0 {
		return store.RunStatusCompleted
	}
	if c.created+c.updated > 0 {
		return store.RunStatusPartial
	}
	return store.RunStatusFailed
}

// Package pipeline contains the ingestion orchestrator: it owns the run
// lifecycle from connector invocation through idempotent persistence,
// partial-failure accounting, and connector health upkeep.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/reviewkit/reviewkit/internal/store"
	"github.com/reviewkit/reviewkit/pkg/config"
	"github.com/reviewkit/reviewkit/pkg/connector/core"
	"github.com/reviewkit/reviewkit/pkg/connector/registry"
	"github.com/reviewkit/reviewkit/pkg/errors"
	"github.com/reviewkit/reviewkit/pkg/logger"
	"github.com/reviewkit/reviewkit/pkg/metrics"
	"github.com/reviewkit/reviewkit/pkg/vault"
)

// gzipMagic is the two-byte gzip stream header.
var gzipMagic = []byte{0x1f, 0x8b}

// throttled is satisfied by connectors composing base.Connector; the
// orchestrator propagates the configured fetch rate through it so live
// pulls honor ingestion.rate_limit_per_sec.
type throttled interface {
	SetRateLimit(perSec int)
	RateLimit(ctx context.Context) error
}

// Orchestrator runs the ingestion pipeline. A single Orchestrator serves
// all connectors; per-run state lives on the stack of one StartIngestion
// call.
type Orchestrator struct {
	store    store.Store
	vault    *vault.Vault
	registry *registry.Registry
	cfg      config.IngestionConfig
	metrics  *metrics.Metrics
}

// New creates an orchestrator. metrics may be nil.
func New(s store.Store, v *vault.Vault, reg *registry.Registry, cfg config.IngestionConfig, m *metrics.Metrics) *Orchestrator {
	if reg == nil {
		reg = registry.GetRegistry()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxPersistedErrors <= 0 {
		cfg.MaxPersistedErrors = 100
	}
	return &Orchestrator{
		store:    s,
		vault:    v,
		registry: reg,
		cfg:      cfg,
		metrics:  m,
	}
}

// StartIngestion executes one ingestion run synchronously and returns the
// final run summary. It refuses to start while another run for the same
// connector is RUNNING.
func (o *Orchestrator) StartIngestion(ctx context.Context, req StartRequest) (*RunResult, error) {
	if req.TenantID == "" || req.ConnectorID == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "tenantId and connectorId are required")
	}
	if req.RunType == "" {
		req.RunType = RunTypeManual
	}

	record, err := o.store.GetConnector(ctx, req.ConnectorID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "connector %s not found", req.ConnectorID)
	}

	running, err := o.store.HasRunningRun(ctx, req.ConnectorID)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, errors.Newf(errors.ErrorTypeConflict,
			"connector %s already has a run in progress", req.ConnectorID)
	}

	run := &store.IngestionRun{
		TenantID:    req.TenantID,
		ConnectorID: req.ConnectorID,
		RunType:     req.RunType,
		Status:      store.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	o.metrics.RunStarted()

	// Stamp the run identity onto the context so every downstream log
	// line (connector code included) can recover it.
	ctx = logger.NewContext(ctx, run.ID, req.TenantID, record.SourceType)
	log := logger.WithContext(ctx).With(
		zap.String("component", "orchestrator"),
		zap.String("connector_id", req.ConnectorID),
	)
	log.Info("ingestion run started", zap.String("run_type", req.RunType))

	// The fetch/parse phase: any returned error or panic here downgrades
	// the run to FAILED with one synthetic retryable error.
	result, fetchErr := o.fetchPhase(ctx, record, req)

	var counters runCounters
	var fetchErrors []core.FetchError

	if fetchErr != nil {
		log.Error("fetch phase failed", zap.Error(fetchErr))
		fetchErrors = []core.FetchError{syntheticError(fetchErr)}
	} else {
		counters.fetched = len(result.Reviews)
		fetchErrors = append(fetchErrors, result.Errors...)
		o.processBatches(ctx, req.TenantID, req.ConnectorID, result.Reviews, &counters, &fetchErrors, log)
	}

	return o.finalize(ctx, run, record, counters, fetchErrors, log)
}

// fetchPhase invokes parseUpload when a file was supplied and the
// connector supports it, otherwise fetchReviews. It applies the bounded
// deadline and converts panics into errors.
func (o *Orchestrator) fetchPhase(ctx context.Context, record *store.Connector, req StartRequest) (result *core.FetchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Newf(errors.ErrorTypeUnknown, "connector panicked: %v", r)
		}
	}()

	var storedConfig interface{}
	if record.EncryptedConfig != "" {
		storedConfig = record.EncryptedConfig
	}

	conn, err := o.registry.CreateConnector(record.SourceType, record.ID, storedConfig, o.vault)
	if err != nil {
		return nil, err
	}

	limiter, _ := conn.(throttled)
	if limiter != nil {
		limiter.SetRateLimit(o.cfg.RateLimitPerSec)
	}

	if o.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
	}

	if len(req.FileData) > 0 {
		parser, ok := conn.(core.UploadParser)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"connector %s does not accept file uploads", record.SourceType)
		}

		data, filename, err := maybeGunzip(req.FileData, req.Filename)
		if err != nil {
			return nil, err
		}
		return parser.ParseUpload(ctx, data, filename)
	}

	if limiter != nil {
		if err := limiter.RateLimit(ctx); err != nil {
			return nil, err
		}
	}

	return conn.FetchReviews(ctx, core.FetchOptions{
		Since: req.Since,
		Until: req.Until,
		Limit: req.Limit,
	})
}

// processBatches persists normalized reviews in fixed-size chunks. Each
// review's write is its own unit of work: one bad row cannot roll back an
// otherwise-successful run.
func (o *Orchestrator) processBatches(ctx context.Context, tenantID, connectorID string, reviews []core.NormalizedReview, counters *runCounters, fetchErrors *[]core.FetchError, log *zap.Logger) {
	for start := 0; start < len(reviews); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(reviews) {
			end = len(reviews)
		}

		for i := start; i < end; i++ {
			outcome, rowErr := o.processReview(ctx, tenantID, connectorID, &reviews[i])
			if rowErr != nil {
				*fetchErrors = append(*fetchErrors, *rowErr)
				o.metrics.ReviewOutcome("error", 1)
				continue
			}

			switch outcome {
			case outcomeCreated:
				counters.created++
			case outcomeUpdated:
				counters.updated++
			case outcomeSkipped:
				counters.skipped++
			case outcomeDuplicate:
				counters.duplicates++
				counters.skipped++
			}
			o.metrics.ReviewOutcome(outcome, 1)
		}

		log.Debug("batch processed",
			zap.Int("batch_start", start),
			zap.Int("batch_end", end),
			zap.Int("created", counters.created),
			zap.Int("errors", len(*fetchErrors)))
	}
}

// finalize writes the terminal run record, the bounded error list, and
// the connector health fields, then returns the run summary.
func (o *Orchestrator) finalize(ctx context.Context, run *store.IngestionRun, record *store.Connector, counters runCounters, fetchErrors []core.FetchError, log *zap.Logger) (*RunResult, error) {
	completedAt := time.Now().UTC()
	duration := completedAt.Sub(run.StartedAt)

	run.Status = counters.status(len(fetchErrors))
	run.ReviewsFetched = counters.fetched
	run.ReviewsCreated = counters.created
	run.ReviewsUpdated = counters.updated
	run.ReviewsSkipped = counters.skipped
	run.DuplicatesFound = counters.duplicates
	run.ErrorCount = len(fetchErrors)
	run.CompletedAt = &completedAt
	run.DurationMs = duration.Milliseconds()

	if err := o.store.FinalizeRun(ctx, run); err != nil {
		return nil, err
	}

	if err := o.persistErrors(ctx, run.ID, fetchErrors); err != nil {
		log.Error("failed to persist run errors", zap.Error(err))
	}

	o.updateConnectorHealth(ctx, record, run.Status, completedAt, log)

	o.metrics.RunFinished(string(run.Status), duration.Seconds())

	log.Info("ingestion run finished",
		zap.String("status", string(run.Status)),
		zap.Int("fetched", counters.fetched),
		zap.Int("created", counters.created),
		zap.Int("updated", counters.updated),
		zap.Int("skipped", counters.skipped),
		zap.Int("duplicates", counters.duplicates),
		zap.Int("errors", len(fetchErrors)),
		zap.Duration("duration", duration))

	return &RunResult{
		RunID:           run.ID,
		Status:          run.Status,
		ReviewsFetched:  run.ReviewsFetched,
		ReviewsCreated:  run.ReviewsCreated,
		ReviewsUpdated:  run.ReviewsUpdated,
		ReviewsSkipped:  run.ReviewsSkipped,
		DuplicatesFound: run.DuplicatesFound,
		ErrorCount:      run.ErrorCount,
		StartedAt:       run.StartedAt,
		CompletedAt:     completedAt,
		DurationMs:      run.DurationMs,
	}, nil
}

// persistErrors stores up to the first MaxPersistedErrors errors per run.
func (o *Orchestrator) persistErrors(ctx context.Context, runID string, fetchErrors []core.FetchError) error {
	if len(fetchErrors) == 0 {
		return nil
	}
	if len(fetchErrors) > o.cfg.MaxPersistedErrors {
		fetchErrors = fetchErrors[:o.cfg.MaxPersistedErrors]
	}

	rows := make([]store.IngestionError, 0, len(fetchErrors))
	for _, fe := range fetchErrors {
		rows = append(rows, store.IngestionError{
			RunID:     runID,
			ErrorType: string(fe.Type),
			Message:   fe.Message,
			Context:   fe.Context,
			Retryable: fe.Retryable,
		})
	}
	return o.store.InsertRunErrors(ctx, rows)
}

// updateConnectorHealth maintains the connector's status, last-synced
// timestamp, and consecutive-error counter after a run.
func (o *Orchestrator) updateConnectorHealth(ctx context.Context, record *store.Connector, status store.RunStatus, completedAt time.Time, log *zap.Logger) {
	var (
		connStatus  = store.ConnectorStatusActive
		consecutive = 0
		lastSynced  *time.Time
	)

	if status == store.RunStatusFailed {
		connStatus = store.ConnectorStatusError
		consecutive = record.ConsecutiveErrors + 1
	} else {
		lastSynced = &completedAt
	}

	if err := o.store.UpdateConnectorHealth(ctx, record.ID, connStatus, lastSynced, consecutive); err != nil {
		log.Error("failed to update connector health", zap.Error(err))
	}
}

// syntheticError is the single error recorded when the fetch/parse phase
// itself fails, as opposed to returning row-scoped FetchErrors. Panics
// arrive classified as unknown and therefore retryable; validation
// refusals keep their non-retryable type.
func syntheticError(err error) core.FetchError {
	fe := core.FetchErrorFromErr(err)
	fe.Message = "fetch phase failed: " + fe.Message
	return fe
}

// maybeGunzip transparently decompresses gzip uploads, detected by
// filename suffix or stream magic.
func maybeGunzip(data []byte, filename string) ([]byte, string, error) {
	gzipped := strings.HasSuffix(strings.ToLower(filename), ".gz") ||
		(len(data) >= 2 && bytes.Equal(data[:2], gzipMagic))
	if !gzipped {
		return data, filename, nil
	}

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrorTypeValidation, "upload is not valid gzip")
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrorTypeValidation, "failed to decompress upload")
	}

	return raw, strings.TrimSuffix(filename, ".gz"), nil
}

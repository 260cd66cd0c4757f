// Package postgres implements the store contract on PostgreSQL using
// pgxpool. Each write is its own statement: per-review independence is a
// deliberate property of the pipeline, not an implementation shortcut.
package postgres

import (
	"context"
	stderrors "errors"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewkit/reviewkit/internal/store"
	"github.com/reviewkit/reviewkit/pkg/errors"
)

// Store is the PostgreSQL-backed store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid database URL")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "database is unreachable")
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the pipeline's tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create schema")
	}
	return nil
}

const reviewColumns = `id, tenant_id, connector_id, external_review_id, content, content_hash,
	rating, title, author_name, author_id, review_date, response_text, response_date,
	likes_count, replies_count, helpful_count, detected_language, raw_data, created_at, updated_at`

// GetByExternalID looks up a review by its (connector, externalId) key.
func (s *Store) GetByExternalID(ctx context.Context, connectorID, externalID string) (*store.Review, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE connector_id = $1 AND external_review_id = $2`,
		connectorID, externalID)
	return scanReview(row)
}

// FindByContentHash finds a same-tenant review with the given hash that
// arrived through a different connector.
func (s *Store) FindByContentHash(ctx context.Context, tenantID, contentHash, excludeConnectorID string) (*store.Review, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reviewColumns+` FROM reviews
		 WHERE tenant_id = $1 AND content_hash = $2 AND connector_id <> $3 LIMIT 1`,
		tenantID, contentHash, excludeConnectorID)
	return scanReview(row)
}

// InsertReview inserts a new review row.
func (s *Store) InsertReview(ctx context.Context, r *store.Review) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	rawData, err := marshalJSONB(r.RawData)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reviews (`+reviewColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		r.ID, r.TenantID, r.ConnectorID, r.ExternalReviewID, r.Content, r.ContentHash,
		r.Rating, r.Title, r.AuthorName, r.AuthorID, r.ReviewDate, r.ResponseText, r.ResponseDate,
		r.LikesCount, r.RepliesCount, r.HelpfulCount, r.DetectedLanguage, rawData, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(err, errors.ErrorTypeConflict, "review already exists")
		}
		return errors.Wrap(err, errors.ErrorTypeData, "failed to insert review")
	}
	return nil
}

// UpdateReview updates the mutable fields of an existing review row.
func (s *Store) UpdateReview(ctx context.Context, r *store.Review) error {
	r.UpdatedAt = time.Now().UTC()

	rawData, err := marshalJSONB(r.RawData)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE reviews SET content = $1, content_hash = $2, rating = $3, response_text = $4,
		        response_date = $5, likes_count = $6, raw_data = $7, updated_at = $8
		 WHERE connector_id = $9 AND external_review_id = $10`,
		r.Content, r.ContentHash, r.Rating, r.ResponseText,
		r.ResponseDate, r.LikesCount, rawData, r.UpdatedAt,
		r.ConnectorID, r.ExternalReviewID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to update review")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrorTypeNotFound, "review %s not found for connector %s",
			r.ExternalReviewID, r.ConnectorID)
	}
	return nil
}

// HasRunningRun reports whether a RUNNING run exists for the connector.
func (s *Store) HasRunningRun(ctx context.Context, connectorID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ingestion_runs WHERE connector_id = $1 AND status = $2)`,
		connectorID, store.RunStatusRunning).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeData, "failed to query running runs")
	}
	return exists, nil
}

// CreateRun inserts a run record in RUNNING state.
func (s *Store) CreateRun(ctx context.Context, run *store.IngestionRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_runs (id, tenant_id, connector_id, run_type, status, started_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		run.ID, run.TenantID, run.ConnectorID, run.RunType, run.Status, run.StartedAt)
	if err != nil {
		// The ingestion_runs_one_running_idx partial index fires when a
		// racing writer won the single-flight check.
		if isUniqueViolation(err) {
			return errors.Wrap(err, errors.ErrorTypeConflict,
				"connector already has a run in progress")
		}
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create run")
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

// FinalizeRun writes the terminal status, counts, and timing exactly once.
func (s *Store) FinalizeRun(ctx context.Context, run *store.IngestionRun) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs
		 SET status = $1, reviews_fetched = $2, reviews_created = $3, reviews_updated = $4,
		     reviews_skipped = $5, duplicates_found = $6, error_count = $7,
		     completed_at = $8, duration_ms = $9
		 WHERE id = $10 AND status = $11`,
		run.Status, run.ReviewsFetched, run.ReviewsCreated, run.ReviewsUpdated,
		run.ReviewsSkipped, run.DuplicatesFound, run.ErrorCount,
		run.CompletedAt, run.DurationMs,
		run.ID, store.RunStatusRunning)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to finalize run")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrorTypeConflict, "run %s is not in RUNNING state", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs for a connector, newest first.
func (s *Store) ListRuns(ctx context.Context, connectorID string, limit int) ([]store.IngestionRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, connector_id, run_type, status, reviews_fetched, reviews_created,
		        reviews_updated, reviews_skipped, duplicates_found, error_count,
		        started_at, completed_at, duration_ms
		 FROM ingestion_runs WHERE connector_id = $1 ORDER BY started_at DESC LIMIT $2`,
		connectorID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to list runs")
	}
	defer rows.Close()

	var runs []store.IngestionRun
	for rows.Next() {
		var run store.IngestionRun
		if err := rows.Scan(&run.ID, &run.TenantID, &run.ConnectorID, &run.RunType, &run.Status,
			&run.ReviewsFetched, &run.ReviewsCreated, &run.ReviewsUpdated, &run.ReviewsSkipped,
			&run.DuplicatesFound, &run.ErrorCount, &run.StartedAt, &run.CompletedAt, &run.DurationMs); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// InsertRunErrors persists the bounded error list for a run.
func (s *Store) InsertRunErrors(ctx context.Context, errs []store.IngestionError) error {
	for _, e := range errs {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}

		errContext, err := marshalJSONB(e.Context)
		if err != nil {
			return err
		}

		if _, err := s.pool.Exec(ctx,
			`INSERT INTO ingestion_errors (id, run_id, error_type, message, context, retryable, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.ID, e.RunID, e.ErrorType, e.Message, errContext, e.Retryable, e.CreatedAt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to insert run error")
		}
	}
	return nil
}

// GetRunErrors returns the persisted errors for one run.
func (s *Store) GetRunErrors(ctx context.Context, runID string) ([]store.IngestionError, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, error_type, message, context, retryable, created_at
		 FROM ingestion_errors WHERE run_id = $1 ORDER BY created_at`,
		runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to query run errors")
	}
	defer rows.Close()

	var out []store.IngestionError
	for rows.Next() {
		var e store.IngestionError
		var errContext []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.ErrorType, &e.Message, &errContext, &e.Retryable, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan run error")
		}
		if len(errContext) > 0 {
			_ = gojson.Unmarshal(errContext, &e.Context)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetConnector returns a stored connector, or (nil, nil) when absent.
func (s *Store) GetConnector(ctx context.Context, id string) (*store.Connector, error) {
	var c store.Connector
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, source_type, display_name, status, encrypted_config,
		        last_synced_at, consecutive_errors, created_at, updated_at
		 FROM connectors WHERE id = $1`, id).
		Scan(&c.ID, &c.TenantID, &c.SourceType, &c.DisplayName, &c.Status, &c.EncryptedConfig,
			&c.LastSyncedAt, &c.ConsecutiveErrors, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to query connector")
	}
	return &c, nil
}

// SaveConnector inserts or replaces a stored connector.
func (s *Store) SaveConnector(ctx context.Context, c *store.Connector) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO connectors (id, tenant_id, source_type, display_name, status, encrypted_config,
		                         last_synced_at, consecutive_errors, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (id) DO UPDATE SET
		     display_name = EXCLUDED.display_name,
		     status = EXCLUDED.status,
		     encrypted_config = EXCLUDED.encrypted_config,
		     updated_at = EXCLUDED.updated_at`,
		c.ID, c.TenantID, c.SourceType, c.DisplayName, c.Status, c.EncryptedConfig,
		c.LastSyncedAt, c.ConsecutiveErrors, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to save connector")
	}
	return nil
}

// UpdateConnectorHealth updates the connector health fields after a run.
func (s *Store) UpdateConnectorHealth(ctx context.Context, id string, status store.ConnectorStatus, lastSyncedAt *time.Time, consecutiveErrors int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE connectors
		 SET status = $1,
		     last_synced_at = COALESCE($2, last_synced_at),
		     consecutive_errors = $3,
		     updated_at = now()
		 WHERE id = $4`,
		status, lastSyncedAt, consecutiveErrors, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to update connector health")
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrorTypeNotFound, "connector %s not found", id)
	}
	return nil
}

// scanReview scans one review row, mapping no-rows to (nil, nil).
func scanReview(row pgx.Row) (*store.Review, error) {
	var r store.Review
	var rawData []byte
	err := row.Scan(&r.ID, &r.TenantID, &r.ConnectorID, &r.ExternalReviewID, &r.Content, &r.ContentHash,
		&r.Rating, &r.Title, &r.AuthorName, &r.AuthorID, &r.ReviewDate, &r.ResponseText, &r.ResponseDate,
		&r.LikesCount, &r.RepliesCount, &r.HelpfulCount, &r.DetectedLanguage, &rawData, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan review")
	}
	if len(rawData) > 0 {
		_ = gojson.Unmarshal(rawData, &r.RawData)
	}
	return &r, nil
}

// marshalJSONB marshals a map for a jsonb column, passing nil through.
func marshalJSONB(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := gojson.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to marshal jsonb value")
	}
	return data, nil
}

var _ store.Store = (*Store)(nil)

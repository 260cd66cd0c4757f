package postgres

// schemaDDL creates the pipeline's tables when they do not exist. Schema
// migration tooling is out of scope; this is the minimal bootstrap the
// pipeline owns.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS connectors (
    id                 TEXT PRIMARY KEY,
    tenant_id          TEXT NOT NULL,
    source_type        TEXT NOT NULL,
    display_name       TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'ACTIVE',
    encrypted_config   TEXT NOT NULL DEFAULT '',
    last_synced_at     TIMESTAMPTZ,
    consecutive_errors INT NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reviews (
    id                 TEXT PRIMARY KEY,
    tenant_id          TEXT NOT NULL,
    connector_id       TEXT NOT NULL,
    external_review_id TEXT NOT NULL,
    content            TEXT NOT NULL,
    content_hash       TEXT NOT NULL,
    rating             INT,
    title              TEXT NOT NULL DEFAULT '',
    author_name        TEXT NOT NULL DEFAULT '',
    author_id          TEXT NOT NULL DEFAULT '',
    review_date        TIMESTAMPTZ NOT NULL,
    response_text      TEXT NOT NULL DEFAULT '',
    response_date      TIMESTAMPTZ,
    likes_count        INT NOT NULL DEFAULT 0,
    replies_count      INT NOT NULL DEFAULT 0,
    helpful_count      INT NOT NULL DEFAULT 0,
    detected_language  TEXT NOT NULL DEFAULT '',
    raw_data           JSONB,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT reviews_connector_external_unique UNIQUE (connector_id, external_review_id)
);

CREATE INDEX IF NOT EXISTS reviews_tenant_hash_idx ON reviews (tenant_id, content_hash);

CREATE TABLE IF NOT EXISTS ingestion_runs (
    id               TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    connector_id     TEXT NOT NULL,
    run_type         TEXT NOT NULL,
    status           TEXT NOT NULL,
    reviews_fetched  INT NOT NULL DEFAULT 0,
    reviews_created  INT NOT NULL DEFAULT 0,
    reviews_updated  INT NOT NULL DEFAULT 0,
    reviews_skipped  INT NOT NULL DEFAULT 0,
    duplicates_found INT NOT NULL DEFAULT 0,
    error_count      INT NOT NULL DEFAULT 0,
    started_at       TIMESTAMPTZ NOT NULL,
    completed_at     TIMESTAMPTZ,
    duration_ms      BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS ingestion_runs_connector_idx ON ingestion_runs (connector_id, started_at DESC);

-- At most one RUNNING run per connector, enforced under concurrent
-- writers; the application-level check alone is check-then-act.
CREATE UNIQUE INDEX IF NOT EXISTS ingestion_runs_one_running_idx
    ON ingestion_runs (connector_id) WHERE status = 'RUNNING';

CREATE TABLE IF NOT EXISTS ingestion_errors (
    id         TEXT PRIMARY KEY,
    run_id     TEXT NOT NULL,
    error_type TEXT NOT NULL,
    message    TEXT NOT NULL,
    context    JSONB,
    retryable  BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS ingestion_errors_run_idx ON ingestion_errors (run_id);
`

package postgres

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

// TestIsUniqueViolation pins the SQLSTATE mapping that translates
// concurrent-run and duplicate-review races into conflict errors.
func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "ingestion_runs_one_running_idx"}
	assert.True(t, isUniqueViolation(unique))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert failed: %w", unique)))

	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(stderrors.New("plain failure")))
	assert.False(t, isUniqueViolation(nil))
}

// TestSchemaGuards verifies the bootstrap DDL declares the uniqueness
// guards the pipeline relies on: one review per (connector, external id)
// and at most one RUNNING run per connector.
func TestSchemaGuards(t *testing.T) {
	assert.Contains(t, schemaDDL, "UNIQUE (connector_id, external_review_id)")
	assert.Contains(t, schemaDDL, "ingestion_runs_one_running_idx")
	assert.Contains(t, schemaDDL, "WHERE status = 'RUNNING'")
}

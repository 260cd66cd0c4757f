package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewkit/reviewkit/pkg/errors"
)

func seedReview(t *testing.T, m *Memory, connectorID, externalID, content, hash string) {
	t.Helper()
	require.NoError(t, m.InsertReview(context.Background(), &Review{
		TenantID:         "t-1",
		ConnectorID:      connectorID,
		ExternalReviewID: externalID,
		Content:          content,
		ContentHash:      hash,
		ReviewDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func TestMemory_Reviews(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	t.Run("lookup miss is nil nil", func(t *testing.T) {
		r, err := m.GetByExternalID(ctx, "c-1", "nope")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	seedReview(t, m, "c-1", "e-1", "lovely", "hash-1")

	t.Run("lookup hit", func(t *testing.T) {
		r, err := m.GetByExternalID(ctx, "c-1", "e-1")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, "lovely", r.Content)
		assert.NotEmpty(t, r.ID)
	})

	t.Run("duplicate insert conflicts", func(t *testing.T) {
		err := m.InsertReview(ctx, &Review{
			TenantID:         "t-1",
			ConnectorID:      "c-1",
			ExternalReviewID: "e-1",
		})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	})

	t.Run("content hash excludes own connector", func(t *testing.T) {
		r, err := m.FindByContentHash(ctx, "t-1", "hash-1", "c-1")
		require.NoError(t, err)
		assert.Nil(t, r)

		r, err = m.FindByContentHash(ctx, "t-1", "hash-1", "c-2")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, "c-1", r.ConnectorID)
	})

	t.Run("content hash is tenant scoped", func(t *testing.T) {
		r, err := m.FindByContentHash(ctx, "t-other", "hash-1", "c-2")
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("update replaces fields", func(t *testing.T) {
		r, err := m.GetByExternalID(ctx, "c-1", "e-1")
		require.NoError(t, err)
		r.Content = "edited"
		require.NoError(t, m.UpdateReview(ctx, r))

		got, err := m.GetByExternalID(ctx, "c-1", "e-1")
		require.NoError(t, err)
		assert.Equal(t, "edited", got.Content)
	})

	t.Run("update of missing review fails", func(t *testing.T) {
		err := m.UpdateReview(ctx, &Review{ConnectorID: "c-1", ExternalReviewID: "ghost"})
		require.Error(t, err)
	})
}

func TestMemory_Runs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	run := &IngestionRun{
		TenantID:    "t-1",
		ConnectorID: "c-1",
		RunType:     "manual",
		Status:      RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, m.CreateRun(ctx, run))
	assert.NotEmpty(t, run.ID)

	t.Run("running run is visible", func(t *testing.T) {
		running, err := m.HasRunningRun(ctx, "c-1")
		require.NoError(t, err)
		assert.True(t, running)

		running, err = m.HasRunningRun(ctx, "c-2")
		require.NoError(t, err)
		assert.False(t, running)
	})

	t.Run("finalize exactly once", func(t *testing.T) {
		done := time.Now().UTC()
		run.Status = RunStatusCompleted
		run.CompletedAt = &done
		require.NoError(t, m.FinalizeRun(ctx, run))

		err := m.FinalizeRun(ctx, run)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	})

	t.Run("list newest first", func(t *testing.T) {
		older := &IngestionRun{
			ConnectorID: "c-1",
			Status:      RunStatusCompleted,
			StartedAt:   time.Now().UTC().Add(-time.Hour),
		}
		require.NoError(t, m.CreateRun(ctx, older))

		runs, err := m.ListRuns(ctx, "c-1", 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, run.ID, runs[0].ID)

		runs, err = m.ListRuns(ctx, "c-1", 1)
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("run errors round trip", func(t *testing.T) {
		require.NoError(t, m.InsertRunErrors(ctx, []IngestionError{
			{RunID: run.ID, ErrorType: "validation", Message: "row 2: content is empty"},
			{RunID: run.ID, ErrorType: "parse", Message: "row 3: unparseable date"},
		}))

		errs, err := m.GetRunErrors(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, errs, 2)
		assert.NotEmpty(t, errs[0].ID)
		assert.False(t, errs[0].CreatedAt.IsZero())
	})
}

func TestMemory_Connectors(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	t.Run("missing connector is nil nil", func(t *testing.T) {
		c, err := m.GetConnector(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	c := &Connector{
		ID:         "c-1",
		TenantID:   "t-1",
		SourceType: "csv",
		Status:     ConnectorStatusActive,
	}
	require.NoError(t, m.SaveConnector(ctx, c))

	t.Run("health update after failure", func(t *testing.T) {
		require.NoError(t, m.UpdateConnectorHealth(ctx, "c-1", ConnectorStatusError, nil, 2))

		got, err := m.GetConnector(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, ConnectorStatusError, got.Status)
		assert.Equal(t, 2, got.ConsecutiveErrors)
		assert.Nil(t, got.LastSyncedAt)
	})

	t.Run("health update after success", func(t *testing.T) {
		now := time.Now().UTC()
		require.NoError(t, m.UpdateConnectorHealth(ctx, "c-1", ConnectorStatusActive, &now, 0))

		got, err := m.GetConnector(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, ConnectorStatusActive, got.Status)
		assert.Zero(t, got.ConsecutiveErrors)
		require.NotNil(t, got.LastSyncedAt)
	})

	t.Run("health update for missing connector fails", func(t *testing.T) {
		err := m.UpdateConnectorHealth(ctx, "ghost", ConnectorStatusActive, nil, 0)
		require.Error(t, err)
	})
}

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewkit/reviewkit/internal/store"
	"github.com/reviewkit/reviewkit/pkg/config"
	"github.com/reviewkit/reviewkit/pkg/connector/base"
	"github.com/reviewkit/reviewkit/pkg/connector/core"
	"github.com/reviewkit/reviewkit/pkg/connector/registry"
	"github.com/reviewkit/reviewkit/pkg/errors"
	"github.com/reviewkit/reviewkit/pkg/logger"
	"github.com/reviewkit/reviewkit/pkg/vault"

	_ "github.com/reviewkit/reviewkit/pkg/connector/sources/csvfile"
)

// fakeSource is a scriptable connector for orchestrator tests. It records
// the context and rate-limit calls it receives.
type fakeSource struct {
	*base.Connector
	result *core.FetchResult
	err    error
	panics bool

	fetchCtx     context.Context
	rateLimitSet []int
	rateWaits    int
}

func (f *fakeSource) SetRateLimit(perSec int) {
	f.rateLimitSet = append(f.rateLimitSet, perSec)
	f.Connector.SetRateLimit(perSec)
}

func (f *fakeSource) RateLimit(ctx context.Context) error {
	f.rateWaits++
	return f.Connector.RateLimit(ctx)
}

func (f *fakeSource) FetchReviews(ctx context.Context, _ core.FetchOptions) (*core.FetchResult, error) {
	f.fetchCtx = ctx
	if f.panics {
		panic("fake connector exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fixture bundles the orchestrator under test with its backing store.
type fixture struct {
	orch *Orchestrator
	st   *store.Memory
	fake *fakeSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	v, err := vault.New(key)
	require.NoError(t, err)

	fake := &fakeSource{
		Connector: base.New("fake", "Fake Source", "scriptable test source", true, false),
		result:    &core.FetchResult{},
	}

	reg := registry.NewRegistry()
	reg.Register(registry.Info{SourceType: "fake", DisplayName: "Fake Source"},
		func(connectorID string, cfg *config.ConnectorConfig) (core.Connector, error) {
			fake.Configure(connectorID, cfg)
			return fake, nil
		})

	st := store.NewMemory()
	orch := New(st, v, reg, config.Default().Ingestion, nil)

	return &fixture{orch: orch, st: st, fake: fake}
}

func (f *fixture) seedConnector(t *testing.T, id, sourceType string) {
	t.Helper()
	require.NoError(t, f.st.SaveConnector(context.Background(), &store.Connector{
		ID:         id,
		TenantID:   "t-1",
		SourceType: sourceType,
		Status:     store.ConnectorStatusActive,
	}))
}

func makeReviews(n int) []core.NormalizedReview {
	out := make([]core.NormalizedReview, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.NormalizedReview{
			ExternalID: fmt.Sprintf("ext-%d", i),
			Content:    fmt.Sprintf("Review number %d with distinct text", i),
			ReviewDate: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
		})
	}
	return out
}

func start(t *testing.T, f *fixture, connectorID string) *RunResult {
	t.Helper()
	result, err := f.orch.StartIngestion(context.Background(), StartRequest{
		TenantID:    "t-1",
		ConnectorID: connectorID,
	})
	require.NoError(t, err)
	return result
}

// TestStartIngestion_Completed covers the clean-run path end to end
func TestStartIngestion_Completed(t *testing.T) {
	f := newFixture(t)
	f.seedConnector(t, "c-1", "fake")
	f.fake.result = &core.FetchResult{Reviews: makeReviews(3)}

	result := start(t, f, "c-1")

	assert.Equal(t, store.RunStatusCompleted, result.Status)
	assert.Equal(t, 3, result.ReviewsFetched)
	assert.Equal(t, 3, result.ReviewsCreated)
	assert.Zero(t, result.ReviewsUpdated)
	assert.Zero(t, result.ReviewsSkipped)
	assert.Zero(t, result.ErrorCount)

	runs, err := f.st.ListRuns(context.Background(), "c-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusCompleted, runs[0].Status)
	require.NotNil(t, runs[0].CompletedAt)

	conn, err := f.st.GetConnector(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, store.ConnectorStatusActive, conn.Status)
	assert.Zero(t, conn.ConsecutiveErrors)
	assert.NotNil(t, conn.LastSyncedAt)
}

// TestStartIngestion_StatusRule exercises the deterministic status rule
func TestStartIngestion_StatusRule(t *testing.T) {
	rowErr := core.NewFetchError(errors.ErrorTypeValidation, "row 2: content is empty")

	t.Run("errors with creates is partial", func(t *testing.T) {
		f := newFixture(t)
		f.seedConnector(t, "c-1", "fake")
		f.fake.result = &core.FetchResult{
			Reviews: makeReviews(3),
			Errors:  []core.FetchError{rowErr},
		}

		result := start(t, f, "c-1")
		assert.Equal(t, store.RunStatusPartial, result.Status)
		assert.Equal(t, 3, result.ReviewsCreated)
		assert.Equal(t, 1, result.ErrorCount)
	})

	t.Run("errors without creates is failed", func(t *testing.T) {
		f := newFixture(t)
		f.seedConnector(t, "c-1", "fake")
		f.fake.result = &core.FetchResult{Errors: []core.FetchError{rowErr}}

		result := start(t, f, "c-1")
		assert.Equal(t, store.RunStatusFailed, result.Status)

		conn, err := f.st.GetConnector(context.Background(), "c-1")
		require.NoError(t, err)
		assert.Equal(t, store.ConnectorStatusError, conn.Status)
		assert.Equal(t, 1, conn.ConsecutiveErrors)
		assert.Nil(t, conn.LastSyncedAt)
	})

	t.Run("no errors is completed", func(t *testing.T) {
		f := newFixture(t)
		f.seedConnector(t, "c-1", "fake")
		f.fake.result = &core.FetchResult{Reviews: makeReviews(1)}

		result := start(t, f, "c-1")
		assert.Equal(t, store.RunStatusCompleted, result.Status)
	})
}

// TestStartIngestion_FetchFailure verifies a connector error becomes one
// synthetic persisted error and a FAILED run
func TestStartIngestion_FetchFailure(t *testing.T) {
	f := newFixture(t)
	f.seedConnector(t, "c-1", "fake")
	f.fake.err = errors.New(errors.ErrorTypeConnection, "upstream API unreachable")

	result := start(t, f, "c-1")
	assert.Equal(t, store.RunStatusFailed, result.Status)
	assert.Equal(t, 1, result.ErrorCount)

	errs, err := f.st.GetRunErrors(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Retryable)
	assert.Contains(t, errs[0].Message, "upstream API unreachable")
}

// TestStartIngestion_Panic verifies panic containment: FAILED run, one
// retryable error, no crash
func TestStartIngestion_Panic(t *testing.T) {
	f := newFixture(t)
	f.seedConnector(t, "c-1", "fake")
	f.fake.panics = true

	result := start(t, f, "c-1")
	assert.Equal(t, store.RunStatusFailed, result.Status)

	errs, err := f.st.GetRunErrors(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Retryable)
	assert.Contains(t, errs[0].Message, "panicked")
}

// TestStartIngestion_Idempotent verifies a re-import of identical data
// creates nothing and skips everything
func TestStartIngestion_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seedConnector(t, "c-1", "fake")
	f.fake.result = &core.FetchResult{Reviews: makeReviews(3)}

	first := start(t, f, "c-1")
	assert.Equal(t, 3, first.ReviewsCreated)

	second := start(t, f, "c-1")
	assert.Equal(t, store.RunStatusCompleted, second.Status)
	assert.Zero(t, second.ReviewsCreated)
	assert.Equal(t, 3, second.ReviewsSkipped)
	assert.Zero(t, second.DuplicatesFound)
}

// TestStartIngestion_UpdateOnChange verifies only materially-changed
// reviews are rewritten
func TestStartIngestion_UpdateOnChange(t *testing.T) {
	f := newFixture(t)
	f.seedConnector(t, "c-1", "fake")

	reviews := makeReviews(3)
	f.fake.result = &core.FetchResult{Reviews: reviews}
	start(t, f, "c-1")

	t.Run("content change updates", func(t *testing.T) {
		changed := makeReviews(3)
		changed[0].Content = "Edited after an awful second visit"
		f.fake.result = &core.FetchResult{Reviews: changed}

		result := start(t, f, "c-1")
		assert.Equal(t, 1, result.ReviewsUpdated)
		assert.Equal(t, 2, result.ReviewsSkipped)

		stored, err := f.st.GetByExternalID(context.Background(), "c-1", "ext-0")
		require.NoError(t, err)
		assert.Equal(t, "Edited after an awful second visit", stored.Content)
	})

	t.Run("owner response change updates", func(t *testing.T) {
		changed := makeReviews(3)
		changed[0].Content = "Edited after an awful second visit"
		changed[1].ResponseText = "Sorry to hear that, come again"
		f.fake.result = &core.FetchResult{Reviews: changed}

		result := start(t, f, "c-1")
		assert.Equal(t, 1, result.ReviewsUpdated)
		assert.Equal(t, 2, result.ReviewsSkipped)
	})

	t.Run("rating change updates", func(t *testing.T) {
		changed := makeReviews(3)
		changed[0].Content = "Edited after an awful second visit"
		changed[1].ResponseText = "Sorry to hear that, come again"
		rating := 2
		changed[2].Rating = &rating
		f.fake.result = &core.FetchResult{Reviews: changed}

		result := start(t, f, "c-1")
		assert.Equal(t, 1, result.ReviewsUpdated)
		assert.Equal(t, 2, result.ReviewsSkipped)
	})
}

// TestStartIngestion_CrossConnectorDedup verifies a same-tenant content
// hash match on another connector skips the insert
func TestStartIngestion_CrossConnectorDedup(t *testing.T) {
	f := newFixture(t)
	f.seedConnector(t, "c-1", "fake")
	f.seedConnector(t, "c-2", "fake")

	f.fake.result = &core.FetchResult{Reviews: []core.NormalizedReview{{
		ExternalID: "google-1",
		Content:    "Identical review syndicated to two platforms",
		ReviewDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}}}
	first := start(t, f, "c-1")
	assert.Equal(t, 1, first.ReviewsCreated)

	// Same text, different source and external id
	f.fake.result = &core.FetchResult{Reviews: []core.NormalizedReview{{
		ExternalID: "tripadvisor-9",
		Content:    "Identical   review syndicated to two platforms",
		ReviewDate: time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
	}}}
	second := start(t, f, "c-2")

	assert.Zero(t, second.ReviewsCreated)
	assert.Equal(t, 1, second.DuplicatesFound)
	assert.Equal(t, 1, second.ReviewsSkipped)
	assert.Equal(t, store.RunStatusCompleted, second.Status)
}

// TestStartIngestion_ConcurrentRunRejected verifies the single-flight
// rule per connector
func TestStartIngestion_ConcurrentRunRejected(t *testing.T) {
	f := newFixture(t)
	f.seedConnector(t, "c-1", "fake")

	require.NoError(t, f.st.CreateRun(context.Background(), &store.IngestionRun{
		ID:          "run-0",
		TenantID:    "t-1",
		ConnectorID: "c-1",
		Status:      store.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}))

	_, err := f.orch.StartIngestion(context.Background(), StartRequest{
		TenantID:    "t-1",
		ConnectorID: "c-1",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	runs, lerr := f.st.ListRuns(context.Background(), "c-1", 10)
	require.NoError(t, lerr)
	assert.Len(t, runs, 1, "rejection must not create a run")
}

// TestStartIngestion_ErrorCap verifies the persisted error list is
// bounded while the count stays exact
func TestStartIngestion_ErrorCap(t *testing.T) {
	f := newFixture(t)
	f.seedConnector(t, "c-1", "fake")

	manyErrors := make([]core.FetchError, 0, 150)
	for i := 0; i < 150; i++ {
		manyErrors = append(manyErrors, core.NewFetchError(errors.ErrorTypeValidation,
			fmt.Sprintf("row %d: content is empty", i+1)))
	}
	f.fake.result = &core.FetchResult{
		Reviews: makeReviews(1),
		Errors:  manyErrors,
	}

	result := start(t, f, "c-1")
	assert.Equal(t, store.RunStatusPartial, result.Status)
	assert.Equal(t, 150, result.ErrorCount)

	errs, err := f.st.GetRunErrors(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Len(t, errs, 100)
	assert.Contains(t, errs[0].Message, "row 1:")
}

// TestStartIngestion_UploadWithoutParser verifies a file aimed at a
// fetch-only source fails as a validation error, not a retryable one
func TestStartIngestion_UploadWithoutParser(t *testing.T) {
	f := newFixture(t)
	f.seedConnector(t, "c-1", "fake")

	result, err := f.orch.StartIngestion(context.Background(), StartRequest{
		TenantID:    "t-1",
		ConnectorID: "c-1",
		RunType:     RunTypeUpload,
		FileData:    []byte("content,date\nhi,2024-01-01\n"),
		Filename:    "reviews.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusFailed, result.Status)

	errs, gerr := f.st.GetRunErrors(context.Background(), result.RunID)
	require.NoError(t, gerr)
	require.Len(t, errs, 1)
	assert.Equal(t, string(errors.ErrorTypeValidation), errs[0].ErrorType)
	assert.False(t, errs[0].Retryable)
}

// TestStartIngestion_GzipUpload runs a real gzip-compressed CSV through
// the registered csv connector
func TestStartIngestion_GzipUpload(t *testing.T) {
	key := make([]byte, 32)
	v, err := vault.New(key)
	require.NoError(t, err)

	st := store.NewMemory()
	orch := New(st, v, registry.GetRegistry(), config.Default().Ingestion, nil)

	require.NoError(t, st.SaveConnector(context.Background(), &store.Connector{
		ID:         "csv-1",
		TenantID:   "t-1",
		SourceType: "csv",
		Status:     store.ConnectorStatusActive,
	}))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write([]byte("content,date,rating\nWonderful experience overall,2024-03-01,5\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	result, err := orch.StartIngestion(context.Background(), StartRequest{
		TenantID:    "t-1",
		ConnectorID: "csv-1",
		RunType:     RunTypeUpload,
		FileData:    buf.Bytes(),
		Filename:    "reviews.csv.gz",
	})
	require.NoError(t, err)

	assert.Equal(t, store.RunStatusCompleted, result.Status)
	assert.Equal(t, 1, result.ReviewsCreated)
}

// TestStartIngestion_UnknownConnector fails before creating any run
func TestStartIngestion_UnknownConnector(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.StartIngestion(context.Background(), StartRequest{
		TenantID:    "t-1",
		ConnectorID: "ghost",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

// TestStartIngestion_ContextCarriesRunIdentity verifies the context handed
// to the connector carries the run, tenant, and source identifiers that
// contextual logging extracts.
func TestStartIngestion_ContextCarriesRunIdentity(t *testing.T) {
	f := newFixture(t)
	f.seedConnector(t, "c-ctx", "fake")
	f.fake.result = &core.FetchResult{Reviews: makeReviews(1)}

	result := start(t, f, "c-ctx")

	require.NotNil(t, f.fake.fetchCtx)
	assert.Equal(t, result.RunID, f.fake.fetchCtx.Value(logger.RunIDKey))
	assert.Equal(t, "t-1", f.fake.fetchCtx.Value(logger.TenantIDKey))
	assert.Equal(t, "fake", f.fake.fetchCtx.Value(logger.ConnectorKey))
}

// TestStartIngestion_RateLimitPropagated verifies the configured fetch
// rate reaches the connector and the live-fetch path waits on it.
func TestStartIngestion_RateLimitPropagated(t *testing.T) {
	f := newFixture(t)
	f.orch.cfg.RateLimitPerSec = 25
	f.seedConnector(t, "c-rl", "fake")
	f.fake.result = &core.FetchResult{Reviews: makeReviews(1)}

	result := start(t, f, "c-rl")

	assert.Equal(t, store.RunStatusCompleted, result.Status)
	assert.Equal(t, []int{25}, f.fake.rateLimitSet)
	assert.Equal(t, 1, f.fake.rateWaits)

	t.Run("unlimited by default", func(t *testing.T) {
		f := newFixture(t)
		f.seedConnector(t, "c-rl0", "fake")
		f.fake.result = &core.FetchResult{Reviews: makeReviews(1)}

		start(t, f, "c-rl0")

		assert.Equal(t, []int{0}, f.fake.rateLimitSet)
	})
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reviewkit/reviewkit/pkg/errors"
)

// Memory is an in-memory Store for tests and local runs.
type Memory struct {
	mu         sync.RWMutex
	reviews    map[string]*Review // keyed by connectorID + "\x00" + externalID
	runs       map[string]*IngestionRun
	runErrors  map[string][]IngestionError
	connectors map[string]*Connector
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		reviews:    make(map[string]*Review),
		runs:       make(map[string]*IngestionRun),
		runErrors:  make(map[string][]IngestionError),
		connectors: make(map[string]*Connector),
	}
}

func reviewKey(connectorID, externalID string) string {
	return connectorID + "\x00" + externalID
}

// GetByExternalID looks up a review by its (connector, externalId) key.
func (m *Memory) GetByExternalID(_ context.Context, connectorID, externalID string) (*Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.reviews[reviewKey(connectorID, externalID)]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

// FindByContentHash finds a same-tenant review with the given hash from a
// different connector.
func (m *Memory) FindByContentHash(_ context.Context, tenantID, contentHash, excludeConnectorID string) (*Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.reviews {
		if r.TenantID == tenantID && r.ContentHash == contentHash && r.ConnectorID != excludeConnectorID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

// InsertReview inserts a new review row.
func (m *Memory) InsertReview(_ context.Context, review *Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := reviewKey(review.ConnectorID, review.ExternalReviewID)
	if _, exists := m.reviews[key]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "review %s already exists for connector %s",
			review.ExternalReviewID, review.ConnectorID)
	}

	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	review.CreatedAt = now
	review.UpdatedAt = now

	cp := *review
	m.reviews[key] = &cp
	return nil
}

// UpdateReview updates an existing review row.
func (m *Memory) UpdateReview(_ context.Context, review *Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := reviewKey(review.ConnectorID, review.ExternalReviewID)
	if _, exists := m.reviews[key]; !exists {
		return errors.Newf(errors.ErrorTypeNotFound, "review %s not found for connector %s",
			review.ExternalReviewID, review.ConnectorID)
	}

	review.UpdatedAt = time.Now().UTC()
	cp := *review
	m.reviews[key] = &cp
	return nil
}

// HasRunningRun reports whether a RUNNING run exists for the connector.
func (m *Memory) HasRunningRun(_ context.Context, connectorID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, run := range m.runs {
		if run.ConnectorID == connectorID && run.Status == RunStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

// CreateRun inserts a run record in RUNNING state.
func (m *Memory) CreateRun(_ context.Context, run *IngestionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

// FinalizeRun writes the terminal state of a run exactly once.
func (m *Memory) FinalizeRun(_ context.Context, run *IngestionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.runs[run.ID]
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "run %s not found", run.ID)
	}
	if existing.Status != RunStatusRunning {
		return errors.Newf(errors.ErrorTypeConflict, "run %s is already finalized", run.ID)
	}

	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

// ListRuns returns the most recent runs for a connector, newest first.
func (m *Memory) ListRuns(_ context.Context, connectorID string, limit int) ([]IngestionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var runs []IngestionRun
	for _, run := range m.runs {
		if run.ConnectorID == connectorID {
			runs = append(runs, *run)
		}
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// InsertRunErrors persists the bounded error list for a run.
func (m *Memory) InsertRunErrors(_ context.Context, errs []IngestionError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range errs {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		m.runErrors[e.RunID] = append(m.runErrors[e.RunID], e)
	}
	return nil
}

// GetRunErrors returns the persisted errors for one run.
func (m *Memory) GetRunErrors(_ context.Context, runID string) ([]IngestionError, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errs := m.runErrors[runID]
	out := make([]IngestionError, len(errs))
	copy(out, errs)
	return out, nil
}

// GetConnector returns a stored connector, or (nil, nil) when absent.
func (m *Memory) GetConnector(_ context.Context, id string) (*Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.connectors[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

// SaveConnector inserts or replaces a stored connector.
func (m *Memory) SaveConnector(_ context.Context, c *Connector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	cp := *c
	m.connectors[c.ID] = &cp
	return nil
}

// UpdateConnectorHealth updates the connector health fields after a run.
func (m *Memory) UpdateConnectorHealth(_ context.Context, id string, status ConnectorStatus, lastSyncedAt *time.Time, consecutiveErrors int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.connectors[id]
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "connector %s not found", id)
	}

	c.Status = status
	if lastSyncedAt != nil {
		c.LastSyncedAt = lastSyncedAt
	}
	c.ConsecutiveErrors = consecutiveErrors
	c.UpdatedAt = time.Now().UTC()
	return nil
}

var _ Store = (*Memory)(nil)

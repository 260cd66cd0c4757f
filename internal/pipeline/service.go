package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reviewkit/reviewkit/internal/store"
	"github.com/reviewkit/reviewkit/pkg/config"
	"github.com/reviewkit/reviewkit/pkg/connector/registry"
	"github.com/reviewkit/reviewkit/pkg/errors"
	"github.com/reviewkit/reviewkit/pkg/vault"
)

// Service wraps the orchestrator with connector and run management. It is
// the single entry point the CLI and any future HTTP surface talk to.
type Service struct {
	*Orchestrator
}

// NewService builds a Service around an orchestrator.
func NewService(o *Orchestrator) *Service {
	return &Service{Orchestrator: o}
}

// CreateConnector registers a new connector instance. The configuration
// is validated by the source implementation, then encrypted at rest.
func (s *Service) CreateConnector(ctx context.Context, tenantID, sourceType, displayName string, cfg *config.ConnectorConfig) (*store.Connector, error) {
	if tenantID == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "tenantId is required")
	}
	if !s.registry.Has(sourceType) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown source type %q", sourceType)
	}

	record := &store.Connector{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		SourceType: sourceType,
		Status:     store.ConnectorStatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	record.DisplayName = displayName
	if record.DisplayName == "" {
		record.DisplayName = sourceType
	}

	if cfg != nil {
		if err := s.validateConnectorConfig(sourceType, record.ID, cfg); err != nil {
			return nil, err
		}
		encrypted, err := s.vault.EncryptJSON(cfg)
		if err != nil {
			return nil, err
		}
		record.EncryptedConfig = encrypted
	}

	if err := s.store.SaveConnector(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetConnectorConfig returns the decrypted configuration with every
// credential value masked. Raw secrets never leave this package.
func (s *Service) GetConnectorConfig(ctx context.Context, connectorID string) (*config.ConnectorConfig, error) {
	record, err := s.store.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "connector %s not found", connectorID)
	}
	if record.EncryptedConfig == "" {
		return &config.ConnectorConfig{}, nil
	}

	var cfg config.ConnectorConfig
	if err := s.vault.DecryptJSON(record.EncryptedConfig, &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Credentials) > 0 {
		masked := make(map[string]string, len(cfg.Credentials))
		for k, v := range cfg.Credentials {
			masked[k] = vault.Mask(v)
		}
		cfg.Credentials = masked
	}
	return &cfg, nil
}

// UpdateConnectorConfig validates and re-encrypts the configuration for
// an existing connector.
func (s *Service) UpdateConnectorConfig(ctx context.Context, connectorID string, cfg *config.ConnectorConfig) error {
	record, err := s.store.GetConnector(ctx, connectorID)
	if err != nil {
		return err
	}
	if record == nil {
		return errors.Newf(errors.ErrorTypeNotFound, "connector %s not found", connectorID)
	}

	if err := s.validateConnectorConfig(record.SourceType, record.ID, cfg); err != nil {
		return err
	}

	encrypted, err := s.vault.EncryptJSON(cfg)
	if err != nil {
		return err
	}
	record.EncryptedConfig = encrypted
	record.UpdatedAt = time.Now().UTC()
	return s.store.SaveConnector(ctx, record)
}

// ListRuns returns the most recent runs for a connector, newest first.
func (s *Service) ListRuns(ctx context.Context, connectorID string, limit int) ([]store.IngestionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListRuns(ctx, connectorID, limit)
}

// GetRunErrors returns the persisted per-row errors for a run.
func (s *Service) GetRunErrors(ctx context.Context, runID string) ([]store.IngestionError, error) {
	return s.store.GetRunErrors(ctx, runID)
}

// ListConnectorTypes returns the source catalog for display, flagging
// which entries have a registered implementation.
func (s *Service) ListConnectorTypes() []registry.UIConnector {
	return s.registry.ConnectorsForUI()
}

// validateConnectorConfig instantiates the source implementation and runs
// its own ValidateConfig over the candidate configuration.
func (s *Service) validateConnectorConfig(sourceType, connectorID string, cfg *config.ConnectorConfig) error {
	conn, err := s.registry.CreateConnector(sourceType, connectorID, cfg, s.vault)
	if err != nil {
		return err
	}
	result := conn.ValidateConfig(cfg)
	if result != nil && !result.Valid {
		e := errors.New(errors.ErrorTypeValidation, "connector configuration is invalid")
		for i, msg := range result.Errors {
			e = e.WithDetail(fmt.Sprintf("error_%d", i), msg)
		}
		return e
	}
	return nil
}

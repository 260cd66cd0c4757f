// Package registry manages connector registration and instantiation. Each
// source package registers its factory from init(); the registry map is
// populated once at process start and read-mostly thereafter.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/reviewkit/reviewkit/pkg/config"
	"github.com/reviewkit/reviewkit/pkg/connector/core"
	"github.com/reviewkit/reviewkit/pkg/errors"
	"github.com/reviewkit/reviewkit/pkg/logger"
	"github.com/reviewkit/reviewkit/pkg/vault"
)

// Info describes a registered connector for callers and the UI projection.
type Info struct {
	SourceType       string `json:"source_type"`
	DisplayName      string `json:"display_name"`
	Description      string `json:"description"`
	SupportsAutoSync bool   `json:"supports_auto_sync"`
	RequiresUpload   bool   `json:"requires_upload"`
}

// UIConnector is the read-only projection exposed to the dashboard. Known
// source types without a registered implementation appear with
// Available=false rather than being absent.
type UIConnector struct {
	Info
	Available bool `json:"available"`
}

// Registration binds connector metadata to its factory.
type Registration struct {
	Info    Info
	Factory core.Factory
}

// Registry maps a source type to its registration.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
	logger  *zap.Logger
}

// knownSourceTypes lists every source type the product knows about,
// registered or not, so unimplemented sources are visibly unavailable.
var knownSourceTypes = []Info{
	{SourceType: "csv", DisplayName: "CSV Upload", Description: "Manual CSV review uploads with flexible column mapping", RequiresUpload: true},
	{SourceType: "vendor_json", DisplayName: "Vendor JSON Export", Description: "Vendor JSON exports in flat or nested schema", RequiresUpload: true},
	{SourceType: "manual_export", DisplayName: "Manual Platform Export", Description: "Offline platform exports parsed heuristically", RequiresUpload: true},
	{SourceType: "google_business", DisplayName: "Google Business Profile", Description: "Live review sync via the Business Profile API", SupportsAutoSync: true},
	{SourceType: "tripadvisor", DisplayName: "Tripadvisor", Description: "Live review sync via the Tripadvisor Content API", SupportsAutoSync: true},
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Registration),
		logger:  logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// Register registers a connector factory under its source type. Calling it
// twice for the same key overwrites the previous registration.
func (r *Registry) Register(info Info, factory core.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[info.SourceType] = Registration{Info: info, Factory: factory}
	r.logger.Info("connector registered", zap.String("source_type", info.SourceType))
}

// CreateConnector instantiates the connector for sourceType, decrypting
// storedConfig via the vault when it is an opaque encrypted string.
// An unregistered sourceType is a hard error: ingestion fails fast instead
// of silently no-opping.
//
// storedConfig may be nil, an already-decrypted *config.ConnectorConfig,
// a plain JSON string, or a vault-encrypted opaque string.
func (r *Registry) CreateConnector(sourceType, connectorID string, storedConfig interface{}, v *vault.Vault) (core.Connector, error) {
	r.mu.RLock()
	reg, exists := r.entries[sourceType]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "no connector registered for source type %q", sourceType)
	}

	cfg, err := resolveConfig(storedConfig, v)
	if err != nil {
		return nil, err
	}

	conn, err := reg.Factory(connectorID, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create connector "+sourceType)
	}

	return conn, nil
}

// resolveConfig turns whatever form the stored configuration takes into a
// decrypted ConnectorConfig.
func resolveConfig(storedConfig interface{}, v *vault.Vault) (*config.ConnectorConfig, error) {
	switch val := storedConfig.(type) {
	case nil:
		return &config.ConnectorConfig{}, nil
	case *config.ConnectorConfig:
		return val, nil
	case config.ConnectorConfig:
		return &val, nil
	case string:
		cfg := &config.ConnectorConfig{}
		if vault.IsEncrypted(val) {
			if v == nil {
				return nil, errors.New(errors.ErrorTypeCrypto, "stored config is encrypted but no vault is available")
			}
			if err := v.DecryptJSON(val, cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		if err := unmarshalPlainConfig(val, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported stored config type %T", storedConfig)
	}
}

// Get returns the registration for a source type.
func (r *Registry) Get(sourceType string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[sourceType]
	return reg, ok
}

// Has reports whether a source type is registered.
func (r *Registry) Has(sourceType string) bool {
	_, ok := r.Get(sourceType)
	return ok
}

// List returns the registered source types, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ConnectorsForUI returns the read-only projection over every known source
// type, including ones without a registered implementation.
func (r *Registry) ConnectorsForUI() []UIConnector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(knownSourceTypes))
	out := make([]UIConnector, 0, len(knownSourceTypes)+len(r.entries))

	for _, info := range knownSourceTypes {
		seen[info.SourceType] = true
		ui := UIConnector{Info: info}
		if reg, ok := r.entries[info.SourceType]; ok {
			ui.Info = reg.Info
			ui.Available = true
		}
		out = append(out, ui)
	}

	// Registered types outside the known catalog still show up.
	for t, reg := range r.entries {
		if !seen[t] {
			out = append(out, UIConnector{Info: reg.Info, Available: true})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SourceType < out[j].SourceType })
	return out
}

// Clear removes all registrations (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Registration)
}

// Global registry functions

// Register registers a connector in the global registry
func Register(info Info, factory core.Factory) {
	globalRegistry.Register(info, factory)
}

// CreateConnector creates a connector from the global registry
func CreateConnector(sourceType, connectorID string, storedConfig interface{}, v *vault.Vault) (core.Connector, error) {
	return globalRegistry.CreateConnector(sourceType, connectorID, storedConfig, v)
}

// Has checks the global registry for a source type
func Has(sourceType string) bool {
	return globalRegistry.Has(sourceType)
}

// List returns registered source types from the global registry
func List() []string {
	return globalRegistry.List()
}

// ConnectorsForUI returns the UI projection from the global registry
func ConnectorsForUI() []UIConnector {
	return globalRegistry.ConnectorsForUI()
}

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

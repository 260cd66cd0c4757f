package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Ingestion.BatchSize)
	assert.Equal(t, 100, cfg.Ingestion.MaxPersistedErrors)
	assert.Equal(t, 10*time.Minute, cfg.Ingestion.FetchTimeout)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestValidate(t *testing.T) {
	t.Run("zero batch size rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Ingestion.BatchSize = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative error cap rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Ingestion.MaxPersistedErrors = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative timeout rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Ingestion.FetchTimeout = -time.Second
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("yaml file with env substitution", func(t *testing.T) {
		t.Setenv("TEST_DB_URL", "postgres://localhost:5432/reviews")

		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"database_url: ${TEST_DB_URL}\n"+
				"ingestion:\n"+
				"  batch_size: 25\n"+
				"  max_persisted_errors: 10\n"), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost:5432/reviews", cfg.DatabaseURL)
		assert.Equal(t, 25, cfg.Ingestion.BatchSize)
		assert.Equal(t, 10, cfg.Ingestion.MaxPersistedErrors)
		// Untouched sections keep their defaults
		assert.Equal(t, "info", cfg.Observability.LogLevel)
	})

	t.Run("invalid values rejected at load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"ingestion:\n  batch_size: -5\n"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestConnectorConfig(t *testing.T) {
	t.Run("setting lookup", func(t *testing.T) {
		cfg := &ConnectorConfig{Settings: map[string]interface{}{
			"region": "eu",
			"count":  3,
		}}

		v, ok := cfg.Setting("region")
		assert.True(t, ok)
		assert.Equal(t, "eu", v)

		_, ok = cfg.Setting("count")
		assert.False(t, ok, "non-string settings do not surface as strings")

		_, ok = cfg.Setting("absent")
		assert.False(t, ok)
	})

	t.Run("nil receiver is safe", func(t *testing.T) {
		var cfg *ConnectorConfig
		_, ok := cfg.Setting("x")
		assert.False(t, ok)
		assert.False(t, cfg.HasCredentials())
	})
}

// TestSave writes a configuration Load reads back unchanged, covering the
// init command's starter-file path.
func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewkit.yaml")

	cfg := Default()
	cfg.DatabaseURL = "postgres://localhost/reviewkit"
	cfg.Ingestion.BatchSize = 25
	cfg.Ingestion.RateLimitPerSec = 5

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewkit/reviewkit/internal/store"
	"github.com/reviewkit/reviewkit/pkg/config"
	"github.com/reviewkit/reviewkit/pkg/errors"
	"github.com/reviewkit/reviewkit/pkg/vault"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	f := newFixture(t)
	return NewService(f.orch), f.st
}

func TestService_CreateConnector(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	t.Run("stores encrypted config", func(t *testing.T) {
		record, err := svc.CreateConnector(ctx, "t-1", "fake", "My Source", &config.ConnectorConfig{
			Credentials: map[string]string{"api_key": "sk-1234567890wxyz"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, record.ID)
		assert.Equal(t, "My Source", record.DisplayName)

		stored, err := st.GetConnector(ctx, record.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.True(t, vault.IsEncrypted(stored.EncryptedConfig),
			"credentials must never be stored in the clear")
		assert.NotContains(t, stored.EncryptedConfig, "sk-1234567890wxyz")
	})

	t.Run("unknown source type", func(t *testing.T) {
		_, err := svc.CreateConnector(ctx, "t-1", "carrier_pigeon", "", nil)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})

	t.Run("missing tenant", func(t *testing.T) {
		_, err := svc.CreateConnector(ctx, "", "fake", "", nil)
		require.Error(t, err)
	})
}

// TestService_GetConnectorConfig verifies credential masking on read
func TestService_GetConnectorConfig(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	record, err := svc.CreateConnector(ctx, "t-1", "fake", "", &config.ConnectorConfig{
		Credentials: map[string]string{"api_key": "sk-1234567890wxyz", "pin": "0000"},
		Settings:    map[string]interface{}{"region": "eu"},
	})
	require.NoError(t, err)

	cfg, err := svc.GetConnectorConfig(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, "sk-1...wxyz", cfg.Credentials["api_key"])
	assert.Equal(t, "********", cfg.Credentials["pin"])
	assert.Equal(t, "eu", cfg.Settings["region"], "non-secret settings stay readable")
}

func TestService_UpdateConnectorConfig(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	record, err := svc.CreateConnector(ctx, "t-1", "fake", "", nil)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateConnectorConfig(ctx, record.ID, &config.ConnectorConfig{
		Credentials: map[string]string{"token": "rotated-secret-value"},
	}))

	stored, err := st.GetConnector(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, vault.IsEncrypted(stored.EncryptedConfig))

	cfg, err := svc.GetConnectorConfig(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "rota...alue", cfg.Credentials["token"])

	t.Run("missing connector", func(t *testing.T) {
		err := svc.UpdateConnectorConfig(ctx, "ghost", &config.ConnectorConfig{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})
}

func TestService_ListConnectorTypes(t *testing.T) {
	svc, _ := newTestService(t)

	ui := svc.ListConnectorTypes()
	require.NotEmpty(t, ui)

	found := false
	for _, c := range ui {
		if c.SourceType == "fake" {
			found = true
			assert.True(t, c.Available)
		}
	}
	assert.True(t, found)
}

package registry

import (
	gojson "github.com/goccy/go-json"

	"github.com/reviewkit/reviewkit/pkg/config"
	"github.com/reviewkit/reviewkit/pkg/errors"
)

// unmarshalPlainConfig parses a stored config that is a plain JSON string
// rather than a vault-encrypted blob.
func unmarshalPlainConfig(raw string, cfg *config.ConnectorConfig) error {
	if err := gojson.Unmarshal([]byte(raw), cfg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "stored config is neither encrypted nor valid JSON")
	}
	return nil
}

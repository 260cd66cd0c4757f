package vendorjson

import (
	"github.com/reviewkit/reviewkit/pkg/connector/registry"
)

func init() {
	registry.Register(registry.Info{
		SourceType:       SourceType,
		DisplayName:      "Vendor JSON Export",
		Description:      "Vendor JSON exports in flat or nested schema, auto-detected",
		SupportsAutoSync: false,
		RequiresUpload:   true,
	}, New)
}

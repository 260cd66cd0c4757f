package csvfile

import (
	"github.com/reviewkit/reviewkit/pkg/connector/registry"
)

func init() {
	registry.Register(registry.Info{
		SourceType:       SourceType,
		DisplayName:      "CSV Upload",
		Description:      "Manual CSV review uploads with flexible column mapping",
		SupportsAutoSync: false,
		RequiresUpload:   true,
	}, New)
}

package manualexport

import (
	"github.com/reviewkit/reviewkit/pkg/connector/registry"
)

func init() {
	registry.Register(registry.Info{
		SourceType:       SourceType,
		DisplayName:      "Manual Platform Export",
		Description:      "Offline platform exports parsed with heuristic field detection",
		SupportsAutoSync: false,
		RequiresUpload:   true,
	}, New)
}

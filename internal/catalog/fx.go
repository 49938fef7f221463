package catalog

import (
	"github.com/tonicworks/accord/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.index",
	fx.Provide(service.NewService),
)

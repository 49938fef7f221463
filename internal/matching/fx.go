package matching

import (
	"github.com/tonicworks/accord/internal/matching/service"
	"go.uber.org/fx"
)

var Module = fx.Module("matching",
	fx.Provide(service.NewService),
)

package usage

import (
	"github.com/tonicworks/accord/internal/usage/normalizer"
	"github.com/tonicworks/accord/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage",
	fx.Provide(service.NewService),
	normalizer.Module,
)

package royalty

import (
	"github.com/tonicworks/accord/internal/royalty/service"
	"go.uber.org/fx"
)

var Module = fx.Module("royalty",
	fx.Provide(service.NewService),
)

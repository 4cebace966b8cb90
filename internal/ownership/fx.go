package ownership

import (
	"github.com/smallbiznis/billfold/internal/ownership/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ownership.service",
	fx.Provide(service.NewService),
)

package rule

import (
	"github.com/smallbiznis/billfold/internal/rule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rule.service",
	fx.Provide(service.NewService),
)

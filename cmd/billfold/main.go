package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billfold/internal/catalog"
	"github.com/smallbiznis/billfold/internal/clock"
	"github.com/smallbiznis/billfold/internal/config"
	"github.com/smallbiznis/billfold/internal/events"
	"github.com/smallbiznis/billfold/internal/ledger"
	"github.com/smallbiznis/billfold/internal/migration"
	"github.com/smallbiznis/billfold/internal/observability/logger"
	"github.com/smallbiznis/billfold/internal/ownership"
	"github.com/smallbiznis/billfold/internal/rule"
	"github.com/smallbiznis/billfold/internal/seed"
	"github.com/smallbiznis/billfold/internal/server"
	"github.com/smallbiznis/billfold/internal/subscription"
	"github.com/smallbiznis/billfold/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		fx.Invoke(migration.RunMigrations),
		fx.Invoke(func(conn *gorm.DB) error {
			return seed.EnsureSentinelProducts(conn)
		}),

		fx.Provide(events.NewOutbox),
		catalog.Module,
		rule.Module,
		ownership.Module,
		ledger.Module,
		subscription.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

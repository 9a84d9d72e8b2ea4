package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/emitra/internal/cache"
	"github.com/smallbiznis/emitra/internal/clock"
	"github.com/smallbiznis/emitra/internal/config"
	"github.com/smallbiznis/emitra/internal/idempotency"
	"github.com/smallbiznis/emitra/internal/migration"
	"github.com/smallbiznis/emitra/internal/observability"
	"github.com/smallbiznis/emitra/internal/ratelimit"
	"github.com/smallbiznis/emitra/internal/server"
	"github.com/smallbiznis/emitra/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		cache.Module,
		clock.Module,
		idempotency.Module,
		ratelimit.Module,
		migration.Module,

		// HTTP surface plus the feature modules it serves
		server.Module,
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

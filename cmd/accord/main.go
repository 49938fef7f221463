package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tonicworks/accord/internal/clock"
	"github.com/tonicworks/accord/internal/config"
	"github.com/tonicworks/accord/internal/logger"
	"github.com/tonicworks/accord/internal/migration"
	"github.com/tonicworks/accord/internal/observability"
	"github.com/tonicworks/accord/internal/server"
	"github.com/tonicworks/accord/pkg/db"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		clock.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,
		server.Module,
	).Run()
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/clock"
	"github.com/pixelmuse/pixelmuse/internal/config"
	"github.com/pixelmuse/pixelmuse/internal/migration"
	"github.com/pixelmuse/pixelmuse/internal/observability"
	"github.com/pixelmuse/pixelmuse/internal/scheduler"
	"github.com/pixelmuse/pixelmuse/internal/seed"
	"github.com/pixelmuse/pixelmuse/internal/server"
	"github.com/pixelmuse/pixelmuse/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
		seed.Module,
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

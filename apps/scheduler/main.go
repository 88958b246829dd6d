package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pmacctstats/internal/clock"
	"github.com/smallbiznis/pmacctstats/internal/config"
	"github.com/smallbiznis/pmacctstats/internal/host"
	"github.com/smallbiznis/pmacctstats/internal/observability"
	"github.com/smallbiznis/pmacctstats/internal/runlock"
	"github.com/smallbiznis/pmacctstats/internal/scheduler"
	"github.com/smallbiznis/pmacctstats/internal/server"
	"github.com/smallbiznis/pmacctstats/internal/usage"
	"github.com/smallbiznis/pmacctstats/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		runlock.Module,

		host.Module,
		usage.Module,
		scheduler.DaemonModule,

		// Ops endpoints only, no API surface.
		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
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

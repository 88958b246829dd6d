package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pmacctstats/internal/clock"
	"github.com/smallbiznis/pmacctstats/internal/config"
	"github.com/smallbiznis/pmacctstats/internal/host"
	"github.com/smallbiznis/pmacctstats/internal/observability"
	"github.com/smallbiznis/pmacctstats/internal/runlock"
	"github.com/smallbiznis/pmacctstats/internal/scheduler"
	"github.com/smallbiznis/pmacctstats/internal/usage"
	"github.com/smallbiznis/pmacctstats/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2

	lifecycleTimeout = 30 * time.Second
)

// pmacctstats imports every closed day once and exits. It is meant to be
// started from cron.
func main() {
	os.Exit(run())
}

func run() int {
	var (
		sched *scheduler.Scheduler
		log   *zap.Logger
	)

	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		runlock.Module,
		host.Module,
		usage.Module,
		scheduler.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Populate(&sched, &log),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "pmacctstats: %v\n", err)
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			return exitConfig
		}
		return exitFailed
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "pmacctstats: start: %v\n", err)
		return exitFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runErr := sched.RunOnce(ctx)
	stop()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		log.Warn("app.stop.failed", zap.Error(err))
	}

	if runErr != nil {
		return exitFailed
	}
	return exitOK
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

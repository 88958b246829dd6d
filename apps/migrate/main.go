package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/smallbiznis/pmacctstats/internal/config"
	"github.com/smallbiznis/pmacctstats/internal/migration"
	"github.com/smallbiznis/pmacctstats/internal/observability"
	"github.com/smallbiznis/pmacctstats/pkg/db"
	"go.uber.org/fx"
)

// migrate brings the destination schema up to date and exits. The import
// job never changes the schema itself.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	_ = app.Stop(ctx)
}

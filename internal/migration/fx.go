package migration

import (
	"context"
	"time"

	"github.com/smallbiznis/pmacctstats/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const migrateTimeout = 5 * time.Minute

// Module migrates the destination store when the application starts.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *db.Connector, log *zap.Logger) error {
		ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
		defer cancel()
		return Apply(ctx, conn, log)
	}),
)

// Apply opens the destination store, runs the pending migrations and closes
// the connection again.
func Apply(ctx context.Context, conn *db.Connector, log *zap.Logger) error {
	log = log.Named("migration")

	gdb, dialect, err := conn.OpenDestination(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	log.Info("migration.start", zap.String("dialect", dialect))
	version, err := RunMigrations(sqlDB, dialect)
	if err != nil {
		log.Error("migration.failed", zap.String("dialect", dialect), zap.Error(err))
		return err
	}
	log.Info("migration.done", zap.String("dialect", dialect), zap.Uint("version", version))
	return nil
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/smallbiznis/pmacctstats/internal/config"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	StoreSource      = "source"
	StoreDestination = "destination"
)

var ErrStoreConnection = errors.New("store_connection_failed")

// ConnectionError reports which store could not be reached.
type ConnectionError struct {
	Store string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s store: %v", e.Store, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrStoreConnection, e.Err}
}

// Stores holds both connections for the duration of one run.
type Stores struct {
	Source      *gorm.DB
	Destination *gorm.DB
}

// Close releases both connections. It is safe to call on a partially opened
// or nil Stores.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	return errors.Join(closeDB(s.Source), closeDB(s.Destination))
}

// Opener opens the source and destination stores.
type Opener interface {
	Open(ctx context.Context) (*Stores, error)
}

// RetryConfig bounds connection establishment.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

type ConnectorParams struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	GormLogger gormlogger.Interface `optional:"true"`
}

// Connector opens store connections with exponential backoff.
type Connector struct {
	source      Config
	destination Config
	retry       RetryConfig
	gormLogger  gormlogger.Interface
	tracing     bool
	log         *zap.Logger
}

func NewConnector(p ConnectorParams) *Connector {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{
		source:      FromStore(p.Config.Source, p.Config.Pool),
		destination: FromStore(p.Config.Destination, p.Config.Pool),
		retry: RetryConfig{
			MaxRetries:      p.Config.Connect.MaxRetries,
			InitialInterval: p.Config.Connect.InitialInterval,
			MaxInterval:     p.Config.Connect.MaxInterval,
			MaxElapsed:      p.Config.Connect.MaxElapsed,
		},
		gormLogger: p.GormLogger,
		tracing:    p.Config.Otel.Enabled,
		log:        log.Named("db"),
	}
}

// Open connects the source store, then the destination store. When the
// destination fails the already opened source is released before returning.
func (c *Connector) Open(ctx context.Context) (*Stores, error) {
	source, err := c.connect(ctx, StoreSource, c.source)
	if err != nil {
		return nil, err
	}
	destination, err := c.connect(ctx, StoreDestination, c.destination)
	if err != nil {
		if closeErr := closeDB(source); closeErr != nil {
			c.log.Warn("db.close.failed", zap.String("store", StoreSource), zap.Error(closeErr))
		}
		return nil, err
	}
	return &Stores{Source: source, Destination: destination}, nil
}

// OpenDestination connects only the destination store and reports its type.
func (c *Connector) OpenDestination(ctx context.Context) (*gorm.DB, string, error) {
	conn, err := c.connect(ctx, StoreDestination, c.destination)
	if err != nil {
		return nil, "", err
	}
	return conn, c.destination.Type, nil
}

func (c *Connector) connect(ctx context.Context, store string, cfg Config) (*gorm.DB, error) {
	log := c.log.With(zap.String("store", store), zap.String("type", cfg.Type), zap.String("host", cfg.Host))

	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, &ConnectionError{Store: store, Err: err}
	}

	gormCfg := &gorm.Config{TranslateError: true}
	if c.gormLogger != nil {
		gormCfg.Logger = c.gormLogger
	}

	var conn *gorm.DB
	attempt := 0
	op := func() error {
		attempt++
		db, err := gorm.Open(dialector, gormCfg)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		configurePool(sqlDB, cfg)
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return err
		}
		conn = db
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("db.connect.retry",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, c.backoff(ctx), notify); err != nil {
		log.Error("db.connect.failed", zap.Int("attempts", attempt), zap.Error(err))
		return nil, &ConnectionError{Store: store, Err: err}
	}

	if c.tracing {
		if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.Name))); err != nil {
			log.Warn("db.tracing.disabled", zap.Error(err))
		}
	}

	log.Info("db.connect.ok", zap.Int("attempts", attempt))
	return conn, nil
}

func (c *Connector) backoff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	if c.retry.InitialInterval > 0 {
		exp.InitialInterval = c.retry.InitialInterval
	}
	if c.retry.MaxInterval > 0 {
		exp.MaxInterval = c.retry.MaxInterval
	}
	if c.retry.MaxElapsed > 0 {
		exp.MaxElapsedTime = c.retry.MaxElapsed
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.retry.MaxRetries), ctx)
}

func configurePool(sqlDB *sql.DB, cfg Config) {
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

func closeDB(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

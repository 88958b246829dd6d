// Package testing provides in-memory stores and fixtures for import tests.
package testing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	flowdomain "github.com/smallbiznis/pmacctstats/internal/flow/domain"
	hostdomain "github.com/smallbiznis/pmacctstats/internal/host/domain"
	usagedomain "github.com/smallbiznis/pmacctstats/internal/usage/domain"
	"github.com/smallbiznis/pmacctstats/pkg/db"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Uint64

// UniqueName returns a database name that no other test in the process uses.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

// OpenMemory opens a pool on the named shared-cache memory database. Pools
// opened with the same name see the same data for as long as one of them
// stays open.
func OpenMemory(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := conn.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		return nil, err
	}
	return conn, nil
}

// MigrateSource creates the pmacct acct table.
func MigrateSource(conn *gorm.DB) error {
	return conn.AutoMigrate(&flowdomain.Record{})
}

// MigrateDestination creates the hosts, usage and ledger tables.
func MigrateDestination(conn *gorm.DB) error {
	return conn.AutoMigrate(&hostdomain.Host{}, &usagedomain.UsageEntry{}, &usagedomain.ImportDay{})
}

// Flow builds an acct row stamped at the given UTC wall clock.
func Flow(src, dst string, bytes uint64, stamp time.Time) flowdomain.Record {
	return flowdomain.Record{SrcAddress: src, DstAddress: dst, Bytes: bytes, StampInserted: stamp.UTC()}
}

// FlowFixture seeds and inspects the source and destination stores.
type FlowFixture struct {
	Source      *gorm.DB
	Destination *gorm.DB

	sourceName      string
	destinationName string
}

// NewFlowFixture opens and migrates a fresh pair of stores.
func NewFlowFixture() (*FlowFixture, error) {
	f := &FlowFixture{
		sourceName:      UniqueName("source"),
		destinationName: UniqueName("destination"),
	}
	var err error
	if f.Source, err = OpenMemory(f.sourceName); err != nil {
		return nil, err
	}
	if err := MigrateSource(f.Source); err != nil {
		return nil, err
	}
	if f.Destination, err = OpenMemory(f.destinationName); err != nil {
		return nil, err
	}
	if err := MigrateDestination(f.Destination); err != nil {
		return nil, err
	}
	return f, nil
}

// Opener returns a db.Opener that hands out new pools on the fixture's
// databases, the way a run opens its own connections.
func (f *FlowFixture) Opener() *MemoryOpener {
	return &MemoryOpener{sourceName: f.sourceName, destinationName: f.destinationName}
}

// MemoryOpener implements db.Opener over shared-cache memory databases.
type MemoryOpener struct {
	sourceName      string
	destinationName string

	// Err, when set, is returned by Open as a destination ConnectionError.
	Err    error
	opened atomic.Int64
}

func (o *MemoryOpener) Open(ctx context.Context) (*db.Stores, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.Err != nil {
		return nil, &db.ConnectionError{Store: db.StoreDestination, Err: o.Err}
	}
	source, err := OpenMemory(o.sourceName)
	if err != nil {
		return nil, &db.ConnectionError{Store: db.StoreSource, Err: err}
	}
	destination, err := OpenMemory(o.destinationName)
	if err != nil {
		stores := &db.Stores{Source: source}
		_ = stores.Close()
		return nil, &db.ConnectionError{Store: db.StoreDestination, Err: err}
	}
	o.opened.Add(1)
	return &db.Stores{Source: source, Destination: destination}, nil
}

// Opened reports how many times Open succeeded.
func (o *MemoryOpener) Opened() int64 {
	return o.opened.Load()
}

// Insert appends flow records to the source store.
func (f *FlowFixture) Insert(ctx context.Context, records ...flowdomain.Record) error {
	if len(records) == 0 {
		return nil
	}
	return f.Source.WithContext(ctx).Create(&records).Error
}

// Entries returns all usage entries ordered by date then host.
func (f *FlowFixture) Entries(ctx context.Context) ([]usagedomain.UsageEntry, error) {
	var entries []usagedomain.UsageEntry
	err := f.Destination.WithContext(ctx).Order("date ASC").Order("host_id ASC").Find(&entries).Error
	return entries, err
}

// Hosts returns all host rows ordered by address.
func (f *FlowFixture) Hosts(ctx context.Context) ([]hostdomain.Host, error) {
	var hosts []hostdomain.Host
	err := f.Destination.WithContext(ctx).Order("ip ASC").Find(&hosts).Error
	return hosts, err
}

// ImportDays returns the ledger ordered by date.
func (f *FlowFixture) ImportDays(ctx context.Context) ([]usagedomain.ImportDay, error) {
	var days []usagedomain.ImportDay
	err := f.Destination.WithContext(ctx).Order("date ASC").Find(&days).Error
	return days, err
}

// Close releases both fixture pools.
func (f *FlowFixture) Close() error {
	return (&db.Stores{Source: f.Source, Destination: f.Destination}).Close()
}

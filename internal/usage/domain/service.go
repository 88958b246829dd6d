package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DefaultStartDate is the watermark used when no usage has been imported.
var DefaultStartDate = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)

// Repository reads and writes the destination usage tables.
type Repository interface {
	LatestEntryDate(ctx context.Context, db *gorm.DB) (*time.Time, error)
	InsertEntry(ctx context.Context, tx *gorm.DB, entry *UsageEntry) error
	FailedDays(ctx context.Context, db *gorm.DB, before time.Time) ([]time.Time, error)
	MarkCompleted(ctx context.Context, tx *gorm.DB, day ImportDay) error
	MarkFailed(ctx context.Context, db *gorm.DB, day ImportDay) error
}

// Aggregator produces per-address byte totals for one day from the source
// store.
type Aggregator interface {
	DailyUsage(ctx context.Context, source *gorm.DB, day time.Time) (Totals, DayStats, error)
}

// Persister writes one day's totals inside the caller's transaction.
type Persister interface {
	InsertDailyUsage(ctx context.Context, tx *gorm.DB, totals Totals, day time.Time) (PersistResult, error)
}

// Planner decides which days still need to be imported. Dates are calendar
// days at midnight UTC, see Day.
type Planner interface {
	LastImportDate(ctx context.Context, destination *gorm.DB) (time.Time, error)
	FindUnimportedDays(ctx context.Context, source *gorm.DB, lastDate, today time.Time) ([]time.Time, error)
	PendingDays(ctx context.Context, source, destination *gorm.DB, lastDate, today time.Time) ([]time.Time, error)
}

var (
	ErrPersistFailure  = errors.New("persist_failure")
	ErrValueOutOfRange = errors.New("value_out_of_range")
)

// PersistError reports a failed write for one address on one day.
type PersistError struct {
	Address string
	Day     time.Time
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist_failure: address=%s day=%s: %v", e.Address, e.Day.Format(time.DateOnly), e.Err)
}

func (e *PersistError) Unwrap() []error {
	return []error{ErrPersistFailure, e.Err}
}

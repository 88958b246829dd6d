// Package domain describes the pmacct accounting rows the importer reads.
package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Record is one row of the pmacct acct table. The importer never writes it.
type Record struct {
	SrcAddress    string    `gorm:"column:ip_src"`
	DstAddress    string    `gorm:"column:ip_dst"`
	Bytes         uint64    `gorm:"column:bytes"`
	StampInserted time.Time `gorm:"column:stamp_inserted"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "acct" }

// Repository reads flow records from the source store. Time bounds are
// half-open: from is included, to is excluded.
type Repository interface {
	// EachInRange streams every record stamped inside the range to fn. A
	// non-nil error from fn stops the scan and is returned.
	EachInRange(ctx context.Context, db *gorm.DB, from, to time.Time, fn func(Record) error) error
	// ActiveDays returns the distinct calendar days that have at least one
	// record inside the range, ascending.
	ActiveDays(ctx context.Context, db *gorm.DB, from, to time.Time) ([]time.Time, error)
}

// Package domain contains the daily usage models and the contracts of the
// import pipeline.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UsageEntry stores one host's traffic for one calendar day, in megabytes
// (2^20 bytes) with two fractional digits.
type UsageEntry struct {
	ID        snowflake.ID    `gorm:"primaryKey;autoIncrement:false"`
	HostID    snowflake.ID    `gorm:"not null;uniqueIndex:ux_usage_entries_host_date,priority:1"`
	IngressMB decimal.Decimal `gorm:"column:ingress_mb;type:decimal(8,2);not null"`
	EgressMB  decimal.Decimal `gorm:"column:egress_mb;type:decimal(8,2);not null"`
	Date      datatypes.Date  `gorm:"not null;uniqueIndex:ux_usage_entries_host_date,priority:2;index:ix_usage_entries_date"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageEntry) TableName() string { return "usage_entries" }

type ImportStatus string

const (
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
)

// ImportDay records the outcome of the last attempt to import a day. A
// completed row is committed together with the day's usage entries.
type ImportDay struct {
	Date        datatypes.Date `gorm:"primaryKey"`
	Status      ImportStatus   `gorm:"type:varchar(16);not null;index:ix_usage_import_days_status"`
	HostCount   int            `gorm:"not null;default:0"`
	Attempts    int            `gorm:"not null;default:0"`
	LastError   string         `gorm:"type:text"`
	RunID       string         `gorm:"type:varchar(26)"`
	CompletedAt *time.Time
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (ImportDay) TableName() string { return "usage_import_days" }

// Traffic is the byte volume attributed to one address for one day.
type Traffic struct {
	In  uint64
	Out uint64
}

// Totals maps an address to its attributed traffic. Addresses with no
// attributed bytes are absent.
type Totals map[string]Traffic

// DayStats carries diagnostic counters for one aggregated day.
type DayStats struct {
	Records       int
	SourceMatched int
	DestMatched   int
	Unattributed  int
	BytesIn       uint64
	BytesOut      uint64
}

// PersistResult summarizes what InsertDailyUsage wrote.
type PersistResult struct {
	Entries      int
	HostsCreated int
}

// Day truncates t to its calendar date, expressed as midnight UTC. Callers
// convert t into the reporting time zone first.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

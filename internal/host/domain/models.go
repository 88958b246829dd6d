// Package domain contains the host identity model.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Host is a local address seen at least once with attributable traffic.
// Rows are created once and never updated or deleted by the importer.
type Host struct {
	ID        snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Address   string       `gorm:"column:ip;type:varchar(64);not null;uniqueIndex:ux_hosts_ip"`
	CreatedAt time.Time    `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Host) TableName() string { return "hosts" }

// Resolution is the outcome of mapping an address to its host id.
type Resolution struct {
	ID      snowflake.ID
	Created bool
}

// Repository reads and inserts hosts inside the caller's transaction.
type Repository interface {
	FindByAddress(ctx context.Context, tx *gorm.DB, address string) ([]Host, error)
	InsertIfAbsent(ctx context.Context, tx *gorm.DB, host Host) (bool, error)
}

// Registry resolves addresses to stable host ids.
type Registry interface {
	Resolve(ctx context.Context, tx *gorm.DB, address string) (Resolution, error)
}

var (
	ErrDuplicateHost  = errors.New("duplicate_host")
	ErrInvalidAddress = errors.New("invalid_address")
)

// DuplicateHostError signals more than one host row for the same address.
type DuplicateHostError struct {
	Address string
}

func (e *DuplicateHostError) Error() string {
	return fmt.Sprintf("duplicate_host: more than one host row for address %q", e.Address)
}

func (e *DuplicateHostError) Unwrap() error { return ErrDuplicateHost }

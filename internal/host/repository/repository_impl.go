package repository

import (
	"context"

	"github.com/smallbiznis/pmacctstats/internal/host/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// FindByAddress reads at most two rows, enough to tell a unique host from a
// duplicated one.
func (r *repo) FindByAddress(ctx context.Context, tx *gorm.DB, address string) ([]domain.Host, error) {
	var hosts []domain.Host
	err := tx.WithContext(ctx).Raw(
		`SELECT id, ip, created_at, updated_at
		 FROM hosts
		 WHERE ip = ?
		 ORDER BY id ASC
		 LIMIT 2`,
		address,
	).Scan(&hosts).Error
	if err != nil {
		return nil, err
	}
	return hosts, nil
}

// InsertIfAbsent reports whether the row was inserted. A concurrent insert of
// the same address is not an error.
func (r *repo) InsertIfAbsent(ctx context.Context, tx *gorm.DB, host domain.Host) (bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ip"}},
			DoNothing: true,
		}).
		Create(&host)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

package repository

import (
	"context"
	"time"

	usagedomain "github.com/smallbiznis/pmacctstats/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

var dateColumn = clause.Column{Name: "date"}

// LatestEntryDate returns the newest usage entry date, or nil when no usage
// has been imported yet.
func (r *repo) LatestEntryDate(ctx context.Context, db *gorm.DB) (*time.Time, error) {
	var dates []time.Time
	err := db.WithContext(ctx).
		Model(&usagedomain.UsageEntry{}).
		Order(clause.OrderByColumn{Column: dateColumn, Desc: true}).
		Limit(1).
		Pluck("date", &dates).Error
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, nil
	}
	latest := usagedomain.Day(dates[0])
	return &latest, nil
}

func (r *repo) InsertEntry(ctx context.Context, tx *gorm.DB, entry *usagedomain.UsageEntry) error {
	return tx.WithContext(ctx).Create(entry).Error
}

// FailedDays lists ledger days whose last attempt failed, strictly before
// the given day.
func (r *repo) FailedDays(ctx context.Context, db *gorm.DB, before time.Time) ([]time.Time, error) {
	var dates []time.Time
	err := db.WithContext(ctx).
		Model(&usagedomain.ImportDay{}).
		Where("status = ?", usagedomain.ImportStatusFailed).
		Where(clause.Lt{Column: dateColumn, Value: before}).
		Order(clause.OrderByColumn{Column: dateColumn}).
		Pluck("date", &dates).Error
	if err != nil {
		return nil, err
	}
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		days = append(days, usagedomain.Day(d))
	}
	return days, nil
}

// MarkCompleted upserts the ledger row for a committed day. It must run in
// the day's transaction.
func (r *repo) MarkCompleted(ctx context.Context, tx *gorm.DB, day usagedomain.ImportDay) error {
	day.Status = usagedomain.ImportStatusCompleted
	day.LastError = ""
	day.Attempts = 1
	return upsertImportDay(ctx, tx, day, "status", "host_count", "last_error", "run_id", "completed_at", "updated_at")
}

// MarkFailed upserts the ledger row for a day whose transaction rolled back.
// A previous completion time is kept.
func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, day usagedomain.ImportDay) error {
	day.Status = usagedomain.ImportStatusFailed
	day.HostCount = 0
	day.CompletedAt = nil
	day.Attempts = 1
	return upsertImportDay(ctx, db, day, "status", "last_error", "run_id", "updated_at")
}

func upsertImportDay(ctx context.Context, db *gorm.DB, day usagedomain.ImportDay, columns ...string) error {
	updates := clause.AssignmentColumns(columns)
	updates = append(updates, clause.Assignment{
		Column: clause.Column{Name: "attempts"},
		Value:  gorm.Expr("usage_import_days.attempts + 1"),
	})
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{dateColumn},
			DoUpdates: updates,
		}).
		Create(&day).Error
}

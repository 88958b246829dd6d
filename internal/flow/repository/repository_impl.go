package repository

import (
	"context"
	"sort"
	"time"

	flowdomain "github.com/smallbiznis/pmacctstats/internal/flow/domain"
	usagedomain "github.com/smallbiznis/pmacctstats/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() flowdomain.Repository {
	return &repo{}
}

func (r *repo) EachInRange(ctx context.Context, db *gorm.DB, from, to time.Time, fn func(flowdomain.Record) error) error {
	rows, err := db.WithContext(ctx).Raw(
		`SELECT ip_src, ip_dst, bytes, stamp_inserted
		 FROM acct
		 WHERE stamp_inserted >= ? AND stamp_inserted < ?`,
		from,
		to,
	).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rec flowdomain.Record
		if err := db.ScanRows(rows, &rec); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *repo) ActiveDays(ctx context.Context, db *gorm.DB, from, to time.Time) ([]time.Time, error) {
	rows, err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT stamp_inserted
		 FROM acct
		 WHERE stamp_inserted >= ? AND stamp_inserted < ?`,
		from,
		to,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[time.Time]struct{})
	for rows.Next() {
		var stamp time.Time
		if err := rows.Scan(&stamp); err != nil {
			return nil, err
		}
		seen[usagedomain.Day(stamp)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	days := make([]time.Time, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

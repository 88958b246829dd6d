package service

import (
	"context"
	"sort"
	"time"

	flowdomain "github.com/smallbiznis/pmacctstats/internal/flow/domain"
	usagedomain "github.com/smallbiznis/pmacctstats/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PlannerParams struct {
	fx.In

	Log   *zap.Logger
	Flows flowdomain.Repository
	Usage usagedomain.Repository
}

type Planner struct {
	log   *zap.Logger
	flows flowdomain.Repository
	usage usagedomain.Repository
}

func NewPlanner(p PlannerParams) *Planner {
	return &Planner{
		log:   p.Log.Named("usage.planner"),
		flows: p.Flows,
		usage: p.Usage,
	}
}

// LastImportDate returns the newest imported day, or DefaultStartDate when
// the destination holds no usage.
func (p *Planner) LastImportDate(ctx context.Context, destination *gorm.DB) (time.Time, error) {
	latest, err := p.usage.LatestEntryDate(ctx, destination)
	if err != nil {
		return time.Time{}, err
	}
	if latest == nil {
		p.log.Info("usage.plan.watermark", zap.String("last_import_date", usagedomain.DefaultStartDate.Format(time.DateOnly)), zap.Bool("default", true))
		return usagedomain.DefaultStartDate, nil
	}
	p.log.Info("usage.plan.watermark", zap.String("last_import_date", latest.Format(time.DateOnly)))
	return *latest, nil
}

// FindUnimportedDays returns, ascending, every day strictly after lastDate
// and strictly before today that has flow records.
func (p *Planner) FindUnimportedDays(ctx context.Context, source *gorm.DB, lastDate, today time.Time) ([]time.Time, error) {
	from := usagedomain.Day(lastDate).AddDate(0, 0, 1)
	to := usagedomain.Day(today)
	if !from.Before(to) {
		return []time.Time{}, nil
	}
	days, err := p.flows.ActiveDays(ctx, source, from, to)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		p.log.Info("usage.plan.nothing_to_import")
	}
	return days, nil
}

// PendingDays adds days whose last import attempt failed to the unimported
// days.
func (p *Planner) PendingDays(ctx context.Context, source, destination *gorm.DB, lastDate, today time.Time) ([]time.Time, error) {
	days, err := p.FindUnimportedDays(ctx, source, lastDate, today)
	if err != nil {
		return nil, err
	}
	failed, err := p.usage.FailedDays(ctx, destination, usagedomain.Day(today))
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		p.log.Info("usage.plan.retry_failed", zap.Int("days", len(failed)))
	}

	seen := make(map[time.Time]struct{}, len(days)+len(failed))
	pending := make([]time.Time, 0, len(days)+len(failed))
	for _, d := range append(days, failed...) {
		d = usagedomain.Day(d)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		pending = append(pending, d)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Before(pending[j]) })
	return pending, nil
}

package service

import (
	"context"
	"time"

	flowdomain "github.com/smallbiznis/pmacctstats/internal/flow/domain"
	obslogger "github.com/smallbiznis/pmacctstats/internal/observability/logger"
	"github.com/smallbiznis/pmacctstats/internal/subnet"
	usagedomain "github.com/smallbiznis/pmacctstats/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cancelCheckEvery = 4096

type AggregatorParams struct {
	fx.In

	Log        *zap.Logger
	Classifier *subnet.Classifier
	Flows      flowdomain.Repository
}

type Aggregator struct {
	log        *zap.Logger
	classifier *subnet.Classifier
	flows      flowdomain.Repository
}

func NewAggregator(p AggregatorParams) *Aggregator {
	return &Aggregator{
		log:        p.Log.Named("usage.aggregator"),
		classifier: p.Classifier,
		flows:      p.Flows,
	}
}

// DailyUsage streams the day's flow records and attributes bytes to local
// addresses, keyed by their canonical form. Traffic between two local or two
// remote addresses is not attributed.
func (a *Aggregator) DailyUsage(ctx context.Context, source *gorm.DB, day time.Time) (usagedomain.Totals, usagedomain.DayStats, error) {
	from := usagedomain.Day(day)
	to := from.AddDate(0, 0, 1)

	totals := usagedomain.Totals{}
	var stats usagedomain.DayStats

	err := a.flows.EachInRange(ctx, source, from, to, func(rec flowdomain.Record) error {
		stats.Records++
		if stats.Records%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		src, srcLocal := a.classifier.Classify(rec.SrcAddress)
		dst, dstLocal := a.classifier.Classify(rec.DstAddress)
		switch {
		case srcLocal && !dstLocal:
			stats.SourceMatched++
			stats.BytesOut += rec.Bytes
			t := totals[src]
			t.Out += rec.Bytes
			totals[src] = t
		case dstLocal && !srcLocal:
			stats.DestMatched++
			stats.BytesIn += rec.Bytes
			t := totals[dst]
			t.In += rec.Bytes
			totals[dst] = t
		default:
			stats.Unattributed++
		}
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	for addr, t := range totals {
		if t.In == 0 && t.Out == 0 {
			delete(totals, addr)
		}
	}

	a.log.Info("usage.aggregate.done",
		obslogger.Day(from),
		zap.Int("records", stats.Records),
		zap.Int("source_matched", stats.SourceMatched),
		zap.Int("dest_matched", stats.DestMatched),
		zap.Int("unattributed", stats.Unattributed),
		zap.Int("hosts", len(totals)),
	)
	return totals, stats, nil
}

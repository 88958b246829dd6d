package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pmacctstats/internal/clock"
	hostdomain "github.com/smallbiznis/pmacctstats/internal/host/domain"
	obslogger "github.com/smallbiznis/pmacctstats/internal/observability/logger"
	usagedomain "github.com/smallbiznis/pmacctstats/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PersisterParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Hosts hostdomain.Registry
	Usage usagedomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Persister struct {
	log   *zap.Logger
	genID *snowflake.Node
	hosts hostdomain.Registry
	usage usagedomain.Repository
	clock clock.Clock
}

func NewPersister(p PersisterParams) *Persister {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Persister{
		log:   p.Log.Named("usage.persister"),
		genID: p.GenID,
		hosts: p.Hosts,
		usage: p.Usage,
		clock: c,
	}
}

// InsertDailyUsage writes one entry per address in sorted order. Each address
// runs in a savepoint of tx; the first failure is returned as a PersistError
// and leaves earlier addresses in tx for the caller to commit or roll back.
func (p *Persister) InsertDailyUsage(ctx context.Context, tx *gorm.DB, totals usagedomain.Totals, day time.Time) (usagedomain.PersistResult, error) {
	day = usagedomain.Day(day)
	addresses := make([]string, 0, len(totals))
	for addr := range totals {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	var result usagedomain.PersistResult
	for _, addr := range addresses {
		if err := ctx.Err(); err != nil {
			return result, &usagedomain.PersistError{Address: addr, Day: day, Err: err}
		}

		traffic := totals[addr]
		var created bool
		err := tx.Transaction(func(sp *gorm.DB) error {
			res, err := p.hosts.Resolve(ctx, sp, addr)
			if err != nil {
				return err
			}
			created = res.Created

			ingress := BytesToMegabytes(traffic.In)
			egress := BytesToMegabytes(traffic.Out)
			if ingress.GreaterThan(MaxMegabytes) || egress.GreaterThan(MaxMegabytes) {
				return fmt.Errorf("%w: ingress_mb=%s egress_mb=%s", usagedomain.ErrValueOutOfRange, ingress, egress)
			}

			now := p.clock.Now().UTC()
			entry := usagedomain.UsageEntry{
				ID:        p.genID.Generate(),
				HostID:    res.ID,
				IngressMB: ingress,
				EgressMB:  egress,
				Date:      datatypes.Date(day),
				CreatedAt: now,
				UpdatedAt: now,
			}
			return p.usage.InsertEntry(ctx, sp, &entry)
		})
		if err != nil {
			p.log.Error("usage.persist.failed",
				zap.String("address", addr),
				obslogger.Day(day),
				zap.Error(err),
			)
			return result, &usagedomain.PersistError{Address: addr, Day: day, Err: err}
		}

		result.Entries++
		if created {
			result.HostsCreated++
		}
		p.log.Debug("usage.persist.entry",
			zap.String("address", addr),
			zap.Uint64("bytes_in", traffic.In),
			zap.Uint64("bytes_out", traffic.Out),
		)
	}
	return result, nil
}

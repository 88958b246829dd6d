package scheduler

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/pmacctstats/internal/clock"
	"github.com/smallbiznis/pmacctstats/internal/config"
	hostdomain "github.com/smallbiznis/pmacctstats/internal/host/domain"
	obslogger "github.com/smallbiznis/pmacctstats/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pmacctstats/internal/observability/metrics"
	"github.com/smallbiznis/pmacctstats/internal/runlock"
	"github.com/smallbiznis/pmacctstats/internal/scheduler/guard"
	usagedomain "github.com/smallbiznis/pmacctstats/internal/usage/domain"
	"github.com/smallbiznis/pmacctstats/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	tracerName     = "github.com/smallbiznis/pmacctstats/internal/scheduler"
	maxErrorLength = 1024
	releaseTimeout = 5 * time.Second
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Opener     db.Opener
	Planner    usagedomain.Planner
	Aggregator usagedomain.Aggregator
	Persister  usagedomain.Persister
	Usage      usagedomain.Repository
	Clock      clock.Clock
	Config     Config                    `optional:"true"`
	Locker     runlock.Locker            `optional:"true"`
	Metrics    *obsmetrics.ImportMetrics `optional:"true"`
	Registry   *prometheus.Registry      `optional:"true"`
	Pusher     obsmetrics.Pusher         `optional:"true"`
	Tracer     trace.TracerProvider      `optional:"true"`
}

// Scheduler imports every closed day that has flow records but no usage
// entries yet.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	opener     db.Opener
	planner    usagedomain.Planner
	aggregator usagedomain.Aggregator
	persister  usagedomain.Persister
	usage      usagedomain.Repository
	clock      clock.Clock
	locker     runlock.Locker
	metrics    *obsmetrics.ImportMetrics
	registry   *prometheus.Registry
	pusher     obsmetrics.Pusher
	tracer     trace.Tracer

	mu      sync.Mutex
	lastRun *RunStatus
}

// RunStatus describes the most recently finished run.
type RunStatus struct {
	RunID      string    `json:"run_id"`
	Outcome    string    `json:"outcome"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// LastRun returns the status of the last finished run, if any.
func (s *Scheduler) LastRun() (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return RunStatus{}, false
	}
	return *s.lastRun, true
}

func (s *Scheduler) recordRun(run *importRun, outcome string, err error) {
	status := &RunStatus{
		RunID:      run.runID,
		Outcome:    outcome,
		StartedAt:  run.startedAt,
		FinishedAt: time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	s.mu.Lock()
	s.lastRun = status
	s.mu.Unlock()
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Opener == nil || p.Planner == nil || p.Aggregator == nil || p.Persister == nil || p.Usage == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if err := guard.EnsureFailurePolicy(cfg.FailurePolicy); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	tp := p.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		opener:     p.Opener,
		planner:    p.Planner,
		aggregator: p.Aggregator,
		persister:  p.Persister,
		usage:      p.Usage,
		clock:      p.Clock,
		locker:     p.Locker,
		metrics:    p.Metrics,
		registry:   p.Registry,
		pusher:     p.Pusher,
		tracer:     tp.Tracer(tracerName),
	}, nil
}

// RunOnce performs one import run: take the run lock, open both stores,
// then import the pending days in ascending order. Connections and the
// lock are released on every path.
func (s *Scheduler) RunOnce(parent context.Context) (err error) {
	ctx, run := s.startRun(parent)
	ctx, span := s.tracer.Start(ctx, "import.run", trace.WithAttributes(attribute.String("run_id", run.runID)))
	defer span.End()

	s.logRunStart(ctx, run)
	outcome := obsmetrics.RunOutcomeFailed
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, obsmetrics.ClassifyErrorReason(err))
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		s.metrics.ObserveRun(outcome, time.Since(run.startedAt), s.clock.Now())
		s.logRunFinish(ctx, run, outcome, err)
		s.recordRun(run, outcome, err)
		s.pushMetrics(ctx)
	}()

	release, err := s.acquireLock(ctx, run.runID)
	if errors.Is(err, runlock.ErrLockHeld) {
		outcome = obsmetrics.RunOutcomeSkipped
		s.logger(ctx).Info("import.run.skipped",
			zap.String("reason", "lock_held"),
			zap.String("lock_key", s.cfg.LockKey),
			zap.String("lock_holder", s.lockHolder(ctx)),
		)
		return nil
	}
	if err != nil {
		s.metrics.IncError("lock", err)
		s.logImportError(ctx, "import.lock.failed", "lock", time.Time{}, err)
		return err
	}
	defer release()

	stores, err := s.opener.Open(ctx)
	if err != nil {
		s.metrics.IncError("connect", err)
		s.logImportError(ctx, "import.connect.failed", "connect", time.Time{}, err)
		return err
	}
	defer func() {
		if closeErr := stores.Close(); closeErr != nil {
			s.logger(ctx).Warn("import.stores.close_failed", zap.Error(closeErr))
		}
	}()

	today := usagedomain.Day(s.clock.Now().In(s.cfg.Location))
	watermark, err := s.planner.LastImportDate(ctx, stores.Destination)
	if err != nil {
		s.metrics.IncError("plan", err)
		s.logImportError(ctx, "import.plan.failed", "plan", time.Time{}, err)
		return err
	}
	run.watermark = watermark
	s.metrics.SetWatermark(watermark)

	days, err := s.planner.PendingDays(ctx, stores.Source, stores.Destination, watermark, today)
	if err != nil {
		s.metrics.IncError("plan", err)
		s.logImportError(ctx, "import.plan.failed", "plan", time.Time{}, err)
		return err
	}
	run.pending = len(days)
	s.metrics.SetPendingDays(len(days))
	s.logger(ctx).Info("import.plan.ready",
		zap.String("last_import_date", watermark.Format(time.DateOnly)),
		zap.String("today", today.Format(time.DateOnly)),
		zap.Int("pending_days", len(days)),
	)

	var failed error
	for _, day := range days {
		if err := guard.EnsureDayClosed(day, today); err != nil {
			s.logger(ctx).Warn("import.day.skipped", obslogger.Day(day), zap.Error(err))
			continue
		}

		dayErr := s.importDay(ctx, stores, day)
		if dayErr == nil {
			continue
		}
		if s.isFatal(ctx, dayErr) || s.cfg.FailurePolicy == config.FailurePolicyAbort {
			return errors.Join(failed, dayErr)
		}
		failed = errors.Join(failed, dayErr)
	}
	if failed != nil {
		return failed
	}

	outcome = obsmetrics.RunOutcomeSuccess
	if latest, err := s.planner.LastImportDate(ctx, stores.Destination); err == nil {
		run.watermark = latest
		s.metrics.SetWatermark(latest)
	}
	return nil
}

// importDay aggregates and persists one day in a single destination
// transaction together with its ledger row.
func (s *Scheduler) importDay(parent context.Context, stores *db.Stores, day time.Time) error {
	run := importRunFromContext(parent)
	start := time.Now()
	dayLabel := day.Format(time.DateOnly)

	ctx, cancel := context.WithTimeout(parent, s.cfg.DayTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "import.day", trace.WithAttributes(attribute.String("day", dayLabel)))
	defer span.End()

	var (
		stats  usagedomain.DayStats
		result usagedomain.PersistResult
	)
	err := stores.Destination.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		totals, dayStats, err := s.aggregator.DailyUsage(ctx, stores.Source, day)
		if err != nil {
			return fmt.Errorf("aggregate %s: %w", dayLabel, err)
		}
		stats = dayStats

		result, err = s.persister.InsertDailyUsage(ctx, tx, totals, day)
		if err != nil {
			return err
		}

		completedAt := s.clock.Now().UTC()
		return s.usage.MarkCompleted(ctx, tx, usagedomain.ImportDay{
			Date:        datatypes.Date(day),
			HostCount:   result.Entries,
			RunID:       runID(run),
			CompletedAt: &completedAt,
		})
	})
	elapsed := time.Since(start)

	if err != nil {
		run.dayFailed()
		span.RecordError(err)
		span.SetStatus(codes.Error, obsmetrics.ClassifyErrorReason(err))
		s.metrics.ObserveDay(obsmetrics.DayOutcomeFailed, elapsed)
		s.metrics.IncError("day", err)
		s.logImportError(parent, "import.day.failed", "day", day, err, zap.Int64("duration_ms", elapsed.Milliseconds()))
		s.markFailed(parent, stores, day, err)
		return err
	}

	run.dayCompleted(result.Entries)
	span.SetAttributes(
		attribute.Int("records", stats.Records),
		attribute.Int("entries", result.Entries),
	)
	s.metrics.ObserveDay(obsmetrics.DayOutcomeCompleted, elapsed)
	s.metrics.AddFlowStats(stats.Records, stats.DestMatched, stats.SourceMatched, stats.Unattributed, stats.BytesIn, stats.BytesOut)
	s.metrics.AddPersisted(result.Entries, result.HostsCreated)
	s.logger(parent).Info("import.day.completed",
		obslogger.Day(day),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.Int("records", stats.Records),
		zap.Int("entries", result.Entries),
		zap.Int("hosts_created", result.HostsCreated),
	)
	return nil
}

// truncateError caps msg at limit bytes without splitting a rune.
func truncateError(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	return strings.ToValidUTF8(msg[:limit], "")
}

// markFailed records the failure outside the rolled back day transaction.
func (s *Scheduler) markFailed(ctx context.Context, stores *db.Stores, day time.Time, cause error) {
	if ctx.Err() != nil {
		return
	}
	err := s.usage.MarkFailed(ctx, stores.Destination, usagedomain.ImportDay{
		Date:      datatypes.Date(day),
		LastError: truncateError(cause.Error(), maxErrorLength),
		RunID:     runID(importRunFromContext(ctx)),
	})
	if err != nil {
		s.logImportError(ctx, "import.ledger.failed", "ledger", day, err)
	}
}

// isFatal reports errors that stop the run regardless of the failure
// policy.
func (s *Scheduler) isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, hostdomain.ErrDuplicateHost) ||
		errors.Is(err, db.ErrStoreConnection) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone)
}

// acquireLock takes the run lock and keeps it refreshed until the returned
// release func is called.
func (s *Scheduler) acquireLock(ctx context.Context, holder string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	lease, err := s.locker.Acquire(ctx, s.cfg.LockKey, holder, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepLease(ctx, lease, stop)
	}()

	return func() {
		close(stop)
		wg.Wait()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.locker.Release(releaseCtx, lease); err != nil {
			s.logger(ctx).Warn("import.lock.release_failed", zap.Error(err))
		}
	}, nil
}

// keepLease refreshes the lease at a third of its TTL. A lost lease is
// logged; the run carries on since its day transactions stay atomic.
func (s *Scheduler) keepLease(ctx context.Context, lease *runlock.Lease, stop <-chan struct{}) {
	ticker := time.NewTicker(lease.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.locker.Refresh(ctx, lease); err != nil {
				s.logger(ctx).Warn("import.lock.refresh_failed", zap.String("lock_key", lease.Key), zap.Error(err))
				if errors.Is(err, runlock.ErrLockLost) {
					return
				}
			}
		}
	}
}

func (s *Scheduler) lockHolder(ctx context.Context) string {
	holder, err := s.locker.Holder(ctx, s.cfg.LockKey)
	if err != nil {
		return ""
	}
	return holder
}

func (s *Scheduler) pushMetrics(ctx context.Context) {
	if s.pusher == nil || s.registry == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PushTimeout)
	defer cancel()
	if err := s.pusher.Push(pushCtx, s.registry); err != nil {
		s.logger(ctx).Warn("import.metrics.push_failed", zap.Error(err))
	}
}

// RunForever repeats RunOnce every RunInterval until ctx is done.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler.run.failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runID(run *importRun) string {
	if run == nil {
		return ""
	}
	return run.runID
}

package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/pmacctstats/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pmacctstats/internal/observability/metrics"
	"github.com/smallbiznis/pmacctstats/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

type importRun struct {
	runID     string
	startedAt time.Time
	watermark time.Time
	pending   int
	completed int
	failed    int
	entries   int
}

type importRunKey struct{}

func (r *importRun) dayCompleted(entries int) {
	if r == nil {
		return
	}
	r.completed++
	r.entries += entries
}

func (r *importRun) dayFailed() {
	if r == nil {
		return
	}
	r.failed++
}

func (s *Scheduler) startRun(ctx context.Context) (context.Context, *importRun) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, runID := correlation.EnsureRunID(ctx, s.clock.Now())
	run := &importRun{
		runID:     runID,
		startedAt: time.Now(),
	}
	return context.WithValue(ctx, importRunKey{}, run), run
}

func importRunFromContext(ctx context.Context) *importRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(importRunKey{}).(*importRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logRunStart(ctx context.Context, run *importRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("import.run.start",
		zap.String("failure_policy", s.cfg.FailurePolicy),
		zap.Duration("day_timeout", s.cfg.DayTimeout),
	)
}

func (s *Scheduler) logRunFinish(ctx context.Context, run *importRun, outcome string, err error) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("pending_days", run.pending),
		zap.Int("completed_days", run.completed),
		zap.Int("failed_days", run.failed),
		zap.Int("entries", run.entries),
	}
	if !run.watermark.IsZero() {
		fields = append(fields, zap.String("last_import_date", run.watermark.Format(time.DateOnly)))
	}
	log := s.logger(ctx)
	if err != nil {
		log.Warn("import.run.finish", append(fields, zap.Error(err))...)
		return
	}
	log.Info("import.run.finish", fields...)
}

func (s *Scheduler) logImportError(ctx context.Context, msg, stage string, day time.Time, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	baseFields := []zap.Field{
		zap.String("stage", stage),
		zap.String("error_type", obsmetrics.ClassifyErrorType(err)),
		zap.String("reason", obsmetrics.ClassifyErrorReason(err)),
		zap.Bool("retryable", obsmetrics.IsErrorRetryable(err)),
		zap.String("error", err.Error()),
	}
	if !day.IsZero() {
		baseFields = append(baseFields, obslogger.Day(day))
	}
	s.logger(ctx).Error(msg, append(baseFields, fields...)...)
}

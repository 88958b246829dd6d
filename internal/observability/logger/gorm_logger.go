package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures the GORM zap logger.
type GormLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	IgnoreRecordNotFound bool
}

// DefaultGormLoggerConfig returns the settings used by both stores. Scanning
// a full day of flow records is expected to be slow, so the threshold is
// generous.
func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        2 * time.Second,
		IgnoreRecordNotFound: true,
	}
}

// GormLogger writes gorm statements through zap, tagged with the run id of
// the context they ran under.
type GormLogger struct {
	base *zap.Logger
	cfg  GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig, base *zap.Logger) *GormLogger {
	if base == nil {
		base = zap.L()
	}
	return &GormLogger{base: base.Named("gorm"), cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) printf(ctx context.Context, threshold gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.cfg.Level < threshold {
		return
	}
	if len(data) > 0 {
		msg = fmt.Sprintf(msg, data...)
	}
	l.logger(ctx).Log(level, "db.message", zap.String("message", msg))
}

// Trace logs failed and slow statements, and every statement at Info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	event, level, ok := l.classify(elapsed, err)
	if !ok {
		return
	}

	sql, rows := fc()
	op, table := statementInfo(sql)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("table", table),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.logger(ctx).Log(level, event, fields...)
}

func (l *GormLogger) classify(elapsed time.Duration, err error) (string, zapcore.Level, bool) {
	lvl := l.cfg.Level
	switch {
	case lvl <= gormlogger.Silent:
		return "", 0, false
	case err != nil && errors.Is(err, gormlogger.ErrRecordNotFound) && l.cfg.IgnoreRecordNotFound:
		// ignored, only slowness can still report it
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		// the scheduler logs the cancelled day once
		if lvl >= gormlogger.Warn {
			return "db.query.cancelled", zapcore.WarnLevel, true
		}
		return "", 0, false
	case err != nil && lvl >= gormlogger.Error:
		return "db.query.failed", zapcore.ErrorLevel, true
	}

	if l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && lvl >= gormlogger.Warn {
		return "db.query.slow", zapcore.WarnLevel, true
	}
	if lvl >= gormlogger.Info {
		return "db.query", zapcore.DebugLevel, true
	}
	return "", 0, false
}

// ParamsFilter strips bound values so addresses and credentials stay out of logs.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) logger(ctx context.Context) *zap.Logger {
	return WithContext(ctx, l.base)
}

// statementInfo returns the statement verb and the first table it names.
func statementInfo(sql string) (op, table string) {
	op, table = "UNKNOWN", ""
	tokens := strings.Fields(sql)
	for i, token := range tokens {
		word := strings.ToUpper(strings.Trim(token, "();"))
		switch word {
		case "WITH":
			continue
		case "SELECT", "DELETE":
			if op == "UNKNOWN" {
				op = word
			}
		case "INSERT", "UPDATE", "SAVEPOINT", "RELEASE", "ROLLBACK":
			if op == "UNKNOWN" {
				op = word
			}
			if word == "UPDATE" && table == "" && i+1 < len(tokens) {
				table = cleanIdent(tokens[i+1])
			}
		case "FROM", "INTO":
			if table == "" && i+1 < len(tokens) {
				table = cleanIdent(tokens[i+1])
			}
		}
	}
	return op, table
}

func cleanIdent(token string) string {
	return strings.Trim(token, "`\"();,")
}

var _ gormlogger.Interface = (*GormLogger)(nil)

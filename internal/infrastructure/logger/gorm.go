package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes GORM statement logs to zap
type GormLogger struct {
	log           *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	logNotFound   bool
}

// GormOption configures a GormLogger
type GormOption func(*GormLogger)

// WithSlowThreshold sets the duration above which statements log at warn
func WithSlowThreshold(d time.Duration) GormOption {
	return func(l *GormLogger) { l.slowThreshold = d }
}

// WithRecordNotFound logs gorm.ErrRecordNotFound as an error
func WithRecordNotFound() GormOption {
	return func(l *GormLogger) { l.logNotFound = true }
}

// NewGormLogger returns a gorm logger writing to a "gorm" child of log
func NewGormLogger(log *zap.Logger, level gormlogger.LogLevel, opts ...GormOption) *GormLogger {
	l := &GormLogger{
		log:           log.Named("gorm"),
		level:         level,
		slowThreshold: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MapGormLogLevel translates an application log level to a gorm level
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	}
	return gormlogger.Warn
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *GormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.with(ctx).Sugar().Infof(msg, args...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.with(ctx).Sugar().Warnf(msg, args...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.with(ctx).Sugar().Errorf(msg, args...)
	}
}

// Trace logs failed statements at error, slow ones at warn and, at Info
// level, every statement at debug
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && (l.logNotFound || !errors.Is(err, gormlogger.ErrRecordNotFound))
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold

	switch {
	case failed && l.level >= gormlogger.Error:
		l.with(ctx).Error("SQL error", append(l.statement(fc, elapsed), zap.Error(err))...)
	case slow && l.level >= gormlogger.Warn:
		l.with(ctx).Warn("Slow SQL", append(l.statement(fc, elapsed), zap.Duration("threshold", l.slowThreshold))...)
	case l.level >= gormlogger.Info:
		l.with(ctx).Debug("SQL", l.statement(fc, elapsed)...)
	}
}

func (l *GormLogger) statement(fc func() (string, int64), elapsed time.Duration) []zap.Field {
	sql, rows := fc()
	return []zap.Field{
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
}

func (l *GormLogger) with(ctx context.Context) *zap.Logger {
	var fields []zap.Field
	if id := RunID(ctx); id != "" {
		fields = append(fields, zap.String("run_id", id))
	}
	fields = append(fields, TraceFields(ctx)...)
	if len(fields) == 0 {
		return l.log
	}
	return l.log.With(fields...)
}

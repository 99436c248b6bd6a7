package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	runIDKey
	userIDKey
)

// WithContext stores log in ctx
func WithContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger stored in ctx, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if log, ok := ctx.Value(loggerKey).(*zap.Logger); ok && log != nil {
		return log
	}
	return zap.NewNop()
}

// WithRunID tags log with a settlement run id and stores both in ctx
func WithRunID(ctx context.Context, log *zap.Logger, runID string) (context.Context, *zap.Logger) {
	return scoped(ctx, log, runIDKey, "run_id", runID)
}

// WithUserID tags log with the authenticated user and stores both in ctx
func WithUserID(ctx context.Context, log *zap.Logger, userID string) (context.Context, *zap.Logger) {
	return scoped(ctx, log, userIDKey, "user_id", userID)
}

// RunID returns the run id set by WithRunID
func RunID(ctx context.Context) string {
	s, _ := ctx.Value(runIDKey).(string)
	return s
}

// UserID returns the user id set by WithUserID
func UserID(ctx context.Context) string {
	s, _ := ctx.Value(userIDKey).(string)
	return s
}

// TraceFields returns trace_id and span_id for the active span, if any
func TraceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

func scoped(ctx context.Context, log *zap.Logger, key ctxKey, field, value string) (context.Context, *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String(field, value))
	ctx = context.WithValue(ctx, key, value)
	return WithContext(ctx, log), log
}

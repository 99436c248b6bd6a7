package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of settlement spans
const TracerName = "github.com/coopportal/backend/settlement"

// Span attribute keys set by the settlement service and the ledger store
const (
	SpanAttrRunID        = "settlement.run_id"
	SpanAttrPeriod       = "settlement.period"
	SpanAttrMemberID     = "settlement.member_id"
	SpanAttrObligationID = "settlement.obligation_id"
	SpanAttrKind         = "settlement.kind"
	SpanAttrAmount       = "settlement.amount"
	SpanAttrOutcome      = "settlement.outcome"
	SpanAttrBalanceAfter = "settlement.balance_after"
)

// SpanOption adjusts a span before it starts
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind  trace.SpanKind
	attrs []attribute.KeyValue
}

// WithAttribute sets an attribute when the span starts
func WithAttribute(key string, value any) SpanOption {
	return func(c *spanConfig) {
		c.attrs = append(c.attrs, attr(key, value))
	}
}

// WithSpanKind overrides the default internal span kind
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// StartSpan starts a span on the global tracer; the caller ends it
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, trace.Span) {
	cfg := spanConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}
	return otel.Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(cfg.kind),
		trace.WithAttributes(cfg.attrs...),
	)
}

// StartServiceSpan starts a span named "<component>.<operation>",
// e.g. "ledger_store.apply_deduction".
func StartServiceSpan(ctx context.Context, component, operation string, opts ...SpanOption) (context.Context, trace.Span) {
	return StartSpan(ctx, component+"."+operation, opts...)
}

// SetAttributes sets alternating key/value pairs on span. Pairs whose key is
// not a string are dropped.
func SetAttributes(span trace.Span, kv ...any) {
	if span == nil {
		return
	}
	span.SetAttributes(pairs(kv)...)
}

// AddEvent records a named event with alternating key/value pairs
func AddEvent(span trace.Span, name string, kv ...any) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(pairs(kv)...))
}

// RecordError marks span as failed with err
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func pairs(kv []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			attrs = append(attrs, attr(key, kv[i+1]))
		}
	}
	return attrs
}

func attr(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type period string

func (p period) String() string { return string(p) }

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestStartServiceSpan(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartServiceSpan(context.Background(), "settlement", "run",
		WithAttribute(SpanAttrPeriod, period("2026-10")),
		WithAttribute(SpanAttrAmount, int64(1500)),
		WithSpanKind(trace.SpanKindServer),
	)
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "settlement.run", ended[0].Name())
	assert.Equal(t, trace.SpanKindServer, ended[0].SpanKind())
	attrs := attrMap(ended[0].Attributes())
	assert.Equal(t, "2026-10", attrs[SpanAttrPeriod].AsString())
	assert.Equal(t, int64(1500), attrs[SpanAttrAmount].AsInt64())
}

func TestSetAttributesAndEvents(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartSpan(context.Background(), "ledger_store.apply_deduction")
	SetAttributes(span, SpanAttrOutcome, "success", 42, "dropped", SpanAttrBalanceAfter, 900)
	AddEvent(span, "deduction_aborted", "reason", "version changed")
	span.End()

	got := sr.Ended()[0]
	attrs := attrMap(got.Attributes())
	assert.Equal(t, "success", attrs[SpanAttrOutcome].AsString())
	assert.Equal(t, int64(900), attrs[SpanAttrBalanceAfter].AsInt64())
	assert.Len(t, attrs, 2)

	require.Len(t, got.Events(), 1)
	assert.Equal(t, "deduction_aborted", got.Events()[0].Name)
	assert.Equal(t, "version changed", attrMap(got.Events()[0].Attributes)["reason"].AsString())
}

func TestRecordError(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartSpan(context.Background(), "settlement.item")
	RecordError(span, nil)
	RecordError(span, errors.New("insufficient balance"))
	span.End()

	got := sr.Ended()[0]
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Equal(t, "insufficient balance", got.Status().Description)
	require.Len(t, got.Events(), 1)
	assert.Equal(t, "exception", got.Events()[0].Name)
}

func TestSpanHelpers_NilSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		SetAttributes(nil, "k", "v")
		AddEvent(nil, "e")
		RecordError(nil, errors.New("x"))
	})
}

func TestAttr(t *testing.T) {
	assert.Equal(t, attribute.BOOL, attr("k", true).Value.Type())
	assert.Equal(t, attribute.INT64, attr("k", 3).Value.Type())
	assert.Equal(t, attribute.FLOAT64, attr("k", 0.5).Value.Type())
	assert.Equal(t, attribute.STRINGSLICE, attr("k", []string{"a"}).Value.Type())
	assert.Equal(t, "[1 2]", attr("k", []int{1, 2}).Value.AsString())
}

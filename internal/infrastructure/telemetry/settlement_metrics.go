package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SettlementMetrics holds the instruments recorded by monthly settlement runs.
// A nil *SettlementMetrics is valid and records nothing.
type SettlementMetrics struct {
	logger *zap.Logger

	itemsTotal    *Counter   // settlement_items_total{kind,outcome}
	deductedTotal *Counter   // settlement_deducted_minor_units_total{kind}
	runsTotal     *Counter   // settlement_runs_total{trigger,outcome}
	runDuration   *Histogram // settlement_run_duration_seconds{trigger}
	deferredItems *Gauge     // settlement_deferred_items{period}
}

// NewSettlementMetrics creates the settlement instruments on the given meter.
func NewSettlementMetrics(meter metric.Meter, logger *zap.Logger) (*SettlementMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SettlementMetrics{logger: logger}

	var err error
	sm.itemsTotal, err = NewCounter(meter,
		"settlement_items_total",
		"Obligations handled by settlement runs, by kind and outcome",
		"{items}",
	)
	if err != nil {
		return nil, err
	}

	sm.deductedTotal, err = NewCounter(meter,
		"settlement_deducted_minor_units_total",
		"Amount debited from savings accounts in minor currency units",
		"{minor_units}",
	)
	if err != nil {
		return nil, err
	}

	sm.runsTotal, err = NewCounter(meter,
		"settlement_runs_total",
		"Settlement runs started, by trigger and result",
		"{runs}",
	)
	if err != nil {
		return nil, err
	}

	sm.runDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "settlement_run_duration_seconds",
		Description: "Wall-clock duration of a settlement run",
		Unit:        "s",
		Boundaries:  RunDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	sm.deferredItems, err = NewGauge(meter,
		"settlement_deferred_items",
		"Obligations left unprocessed when the run deadline expired",
		"{items}",
	)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

// RecordItem counts one processed, failed or skipped obligation.
func (sm *SettlementMetrics) RecordItem(ctx context.Context, kind, outcome string) {
	if sm == nil {
		return
	}
	sm.itemsTotal.Inc(ctx, AttrKind.String(kind), AttrOutcome.String(outcome))
}

// RecordDeducted adds a committed debit amount.
func (sm *SettlementMetrics) RecordDeducted(ctx context.Context, kind string, amount int64) {
	if sm == nil || amount <= 0 {
		return
	}
	sm.deductedTotal.Add(ctx, amount, AttrKind.String(kind))
}

// RecordRun records the result and duration of a whole run.
func (sm *SettlementMetrics) RecordRun(ctx context.Context, trigger, outcome string, d time.Duration) {
	if sm == nil {
		return
	}
	sm.runsTotal.Inc(ctx, AttrTrigger.String(trigger), AttrOutcome.String(outcome))
	sm.runDuration.RecordDuration(ctx, d, AttrTrigger.String(trigger))
}

// RecordDeferred records how many obligations a run left for the next run.
func (sm *SettlementMetrics) RecordDeferred(ctx context.Context, period string, count int64) {
	if sm == nil {
		return
	}
	sm.deferredItems.Record(ctx, count, AttrPeriod.String(period))
}

// ErrMeterNil is returned when a metrics constructor receives a nil meter
var ErrMeterNil = errors.New("settlement metrics: meter is nil")

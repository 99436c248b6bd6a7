package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSlowQuery = 200 * time.Millisecond

// GormConfig selects which query instrumentation InstrumentGorm installs
type GormConfig struct {
	Tracing        bool   // one otelgorm span per statement
	DBSystem       string // "postgresql" or "sqlite"
	QueryVariables bool   // keep bind values in span statements; never in production
	SlowQuery      time.Duration
	Meter          metric.Meter // nil disables query and pool metrics
}

// GormInstrumentation records statement spans, query metrics and
// connection pool gauges for one *gorm.DB
type GormInstrumentation struct {
	cfg GormConfig
	log *zap.Logger

	queries  *Counter
	duration *Histogram
	slow     *Counter
	pool     metric.Registration
}

type queryStartKey struct{}

// InstrumentGorm installs the instrumentation selected by cfg on db. Call
// Close on shutdown to stop observing the connection pool.
func InstrumentGorm(db *gorm.DB, cfg GormConfig, log *zap.Logger) (*GormInstrumentation, error) {
	if cfg.SlowQuery <= 0 {
		cfg.SlowQuery = defaultSlowQuery
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	gi := &GormInstrumentation{cfg: cfg, log: orNop(log)}

	if cfg.Tracing {
		opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
		if !cfg.QueryVariables {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return nil, fmt.Errorf("register otelgorm: %w", err)
		}
	}

	if cfg.Meter != nil {
		if err := gi.initMetrics(db); err != nil {
			return nil, err
		}
	}

	if err := db.Use(gi); err != nil {
		_ = gi.Close()
		return nil, fmt.Errorf("register query telemetry: %w", err)
	}

	gi.log.Info("Database instrumentation installed",
		zap.Bool("tracing", cfg.Tracing),
		zap.Bool("metrics", cfg.Meter != nil),
		zap.Duration("slow_query", cfg.SlowQuery),
	)
	return gi, nil
}

func (gi *GormInstrumentation) initMetrics(db *gorm.DB) error {
	meter := gi.cfg.Meter
	var err error

	if gi.queries, err = NewCounter(meter, "db_query_total", "Statements executed, by operation", "{query}"); err != nil {
		return err
	}
	if gi.duration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Statement latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return err
	}
	if gi.slow, err = NewCounter(meter, "db_slow_query_total", "Statements slower than the slow query threshold, by table", "{query}"); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("pool metrics: %w", err)
	}
	conns, err := meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Connections in the pool, by state"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return fmt.Errorf("pool metrics: %w", err)
	}
	gi.pool, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := sqlDB.Stats()
		o.ObserveInt64(conns, int64(s.Idle), metric.WithAttributes(AttrDBPoolState.String("idle")))
		o.ObserveInt64(conns, int64(s.InUse), metric.WithAttributes(AttrDBPoolState.String("in_use")))
		o.ObserveInt64(conns, int64(s.MaxOpenConnections), metric.WithAttributes(AttrDBPoolState.String("max")))
		return nil
	}, conns)
	if err != nil {
		return fmt.Errorf("pool metrics: %w", err)
	}
	return nil
}

// Name implements gorm.Plugin
func (gi *GormInstrumentation) Name() string {
	return "coop:query_telemetry"
}

// Initialize implements gorm.Plugin. The after hooks run before otelgorm ends
// its span so that slow-query and row annotations land on the live span.
func (gi *GormInstrumentation) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("coop:before_create", gi.start),
		cb.Query().Before("gorm:query").Register("coop:before_query", gi.start),
		cb.Update().Before("gorm:update").Register("coop:before_update", gi.start),
		cb.Delete().Before("gorm:delete").Register("coop:before_delete", gi.start),
		cb.Row().Before("gorm:row").Register("coop:before_row", gi.start),
		cb.Raw().Before("gorm:raw").Register("coop:before_raw", gi.start),

		cb.Create().After("gorm:create").Before("otel:after_create").Register("coop:after_create", gi.finish("INSERT")),
		cb.Query().After("gorm:query").Before("otel:after_query").Register("coop:after_query", gi.finish("SELECT")),
		cb.Update().After("gorm:update").Before("otel:after_update").Register("coop:after_update", gi.finish("UPDATE")),
		cb.Delete().After("gorm:delete").Before("otel:after_delete").Register("coop:after_delete", gi.finish("DELETE")),
		cb.Row().After("gorm:row").Before("otel:after_row").Register("coop:after_row", gi.finish("")),
		cb.Raw().After("gorm:raw").Before("otel:after_raw").Register("coop:after_raw", gi.finish("")),
	)
}

// Close stops observing the connection pool
func (gi *GormInstrumentation) Close() error {
	if gi == nil || gi.pool == nil {
		return nil
	}
	return gi.pool.Unregister()
}

func (gi *GormInstrumentation) start(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db.Statement.Context = context.WithValue(ctx, queryStartKey{}, time.Now())
}

func (gi *GormInstrumentation) finish(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		op := operation
		if op == "" {
			op = statementOperation(db.Statement.SQL.String())
		}
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}

		var elapsed time.Duration
		if started, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
			elapsed = time.Since(started)
		}
		slow := elapsed > gi.cfg.SlowQuery

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(
				attribute.String("db.sql.table", table),
				attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
			)
			if slow {
				span.SetAttributes(attribute.Bool("db.slow_query", true))
				span.AddEvent("slow_query", trace.WithAttributes(
					attribute.Int64("duration_ms", elapsed.Milliseconds()),
				))
			}
			if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
				RecordError(span, db.Error)
			}
		}

		if gi.queries == nil {
			return
		}
		gi.queries.Inc(ctx, AttrDBOperation.String(op))
		gi.duration.RecordDuration(ctx, elapsed, AttrDBOperation.String(op))
		if slow {
			gi.slow.Inc(ctx, AttrDBTable.String(table))
		}
	}
}

func statementOperation(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, op) {
			return op
		}
	}
	return "OTHER"
}

// Package telemetry exports traces, metrics and logs of the settlement daemon
// over OTLP/gRPC and holds the span and instrument helpers the other packages
// record with. Every provider degrades to a no-op when telemetry is disabled.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

const (
	defaultExportInterval = 30 * time.Second
	providerShutdownLimit = 10 * time.Second
)

// Config is shared by the trace, metric and log providers
type Config struct {
	Enabled           bool
	CollectorEndpoint string // host:port of the OTLP/gRPC collector
	ServiceName       string
	ServiceVersion    string
	SamplingRatio     float64 // 1 samples every run, 0 none
	ExportInterval    time.Duration
	Insecure          bool
}

func (c Config) resource() (*resource.Resource, error) {
	version := c.ServiceVersion
	if version == "" {
		version = "dev"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

func (c Config) sampler() sdktrace.Sampler {
	switch {
	case c.SamplingRatio >= 1:
		return sdktrace.AlwaysSample()
	case c.SamplingRatio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SamplingRatio))
	}
}

// Providers bundles the three signal providers of one process
type Providers struct {
	Tracer *TracerProvider
	Meter  *MeterProvider
	Logs   *LoggerProvider
}

// Setup builds all providers from one Config. On failure the providers that
// were already started are shut down again.
func Setup(ctx context.Context, cfg Config, log *zap.Logger) (*Providers, error) {
	p := &Providers{}
	var err error

	if p.Tracer, err = NewTracerProvider(ctx, cfg, log); err != nil {
		return nil, err
	}
	if p.Meter, err = NewMeterProvider(ctx, cfg, log); err != nil {
		_ = p.Tracer.Shutdown(ctx)
		return nil, err
	}
	if p.Logs, err = NewLoggerProvider(ctx, cfg, log); err != nil {
		_ = p.Meter.Shutdown(ctx)
		_ = p.Tracer.Shutdown(ctx)
		return nil, err
	}
	return p, nil
}

// Shutdown flushes and stops every provider, logs last so shutdown messages still ship
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.Meter.Shutdown(ctx),
		p.Tracer.Shutdown(ctx),
		p.Logs.Shutdown(ctx),
	)
}

// TracerProvider owns the SDK tracer provider registered as the otel global
type TracerProvider struct {
	sdk *sdktrace.TracerProvider
	log *zap.Logger
}

// NewTracerProvider exports spans in batches to the collector. When telemetry
// is disabled the otel global no-op tracer stays in place.
func NewTracerProvider(ctx context.Context, cfg Config, log *zap.Logger) (*TracerProvider, error) {
	tp := &TracerProvider{log: orNop(log)}
	if !cfg.Enabled {
		tp.log.Info("Tracing disabled")
		return tp, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}

	tp.sdk = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(tp.sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tp.log.Info("Tracing enabled",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Float64("sampling_ratio", cfg.SamplingRatio),
	)
	return tp, nil
}

// IsEnabled reports whether spans are exported
func (tp *TracerProvider) IsEnabled() bool {
	return tp != nil && tp.sdk != nil
}

// Shutdown flushes pending spans
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if !tp.IsEnabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, providerShutdownLimit)
	defer cancel()
	if err := tp.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// MeterProvider owns the SDK meter provider registered as the otel global
type MeterProvider struct {
	sdk *sdkmetric.MeterProvider
	log *zap.Logger
}

// NewMeterProvider pushes metrics to the collector on a fixed interval
func NewMeterProvider(ctx context.Context, cfg Config, log *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{log: orNop(log)}
	if !cfg.Enabled {
		mp.log.Info("Metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	mp.sdk = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp.sdk)

	mp.log.Info("Metrics enabled",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Duration("export_interval", interval),
	)
	return mp, nil
}

// NewMeterProviderFromSDK wraps an existing SDK provider, e.g. one backed by a manual reader
func NewMeterProviderFromSDK(sdk *sdkmetric.MeterProvider) *MeterProvider {
	return &MeterProvider{sdk: sdk, log: zap.NewNop()}
}

// Meter returns a named meter, falling back to the otel global when disabled
func (mp *MeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if !mp.IsEnabled() {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return mp.sdk.Meter(name, opts...)
}

// IsEnabled reports whether metrics are exported
func (mp *MeterProvider) IsEnabled() bool {
	return mp != nil && mp.sdk != nil
}

// Shutdown flushes pending metrics
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if !mp.IsEnabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, providerShutdownLimit)
	defer cancel()
	if err := mp.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}

// LoggerProvider owns the SDK log provider that zap records are bridged into
type LoggerProvider struct {
	sdk *sdklog.LoggerProvider
	log *zap.Logger
}

// NewLoggerProvider batches log records to the collector
func NewLoggerProvider(ctx context.Context, cfg Config, log *zap.Logger) (*LoggerProvider, error) {
	lp := &LoggerProvider{log: orNop(log)}
	if !cfg.Enabled {
		lp.log.Info("Log export disabled")
		return lp, nil
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("log exporter: %w", err)
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}

	lp.sdk = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	global.SetLoggerProvider(lp.sdk)

	lp.log.Info("Log export enabled", zap.String("collector_endpoint", cfg.CollectorEndpoint))
	return lp, nil
}

// IsEnabled reports whether log records are exported
func (lp *LoggerProvider) IsEnabled() bool {
	return lp != nil && lp.sdk != nil
}

// Shutdown flushes pending log records
func (lp *LoggerProvider) Shutdown(ctx context.Context) error {
	if !lp.IsEnabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, providerShutdownLimit)
	defer cancel()
	if err := lp.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown logger provider: %w", err)
	}
	return nil
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

package middleware

import (
	"time"

	"github.com/coopportal/backend/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const unmatchedRoute = "unmatched"

type requestMetrics struct {
	count    *telemetry.Counter
	latency  *telemetry.Histogram
	inFlight metric.Int64UpDownCounter
}

// Metrics records request count, latency and in-flight requests on the
// "http.server" meter of mp. A nil or disabled provider yields a no-op.
func Metrics(mp *telemetry.MeterProvider, log *zap.Logger) gin.HandlerFunc {
	if !mp.IsEnabled() {
		return passthrough
	}
	return MetricsWithMeter(mp.Meter("http.server"), log)
}

// MetricsWithMeter is Metrics over an explicit meter
func MetricsWithMeter(meter metric.Meter, log *zap.Logger) gin.HandlerFunc {
	m, err := newRequestMetrics(meter)
	if err != nil {
		if log != nil {
			log.Warn("HTTP metrics disabled", zap.Error(err))
		}
		return passthrough
	}
	return m.handle
}

func newRequestMetrics(meter metric.Meter) (m requestMetrics, err error) {
	if m.count, err = telemetry.NewCounter(meter, "http_server_request_total",
		"Requests served, by method, route and status", "{request}"); err != nil {
		return m, err
	}
	if m.latency, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "Request latency",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	}); err != nil {
		return m, err
	}
	m.inFlight, err = meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"))
	return m, err
}

func (m requestMetrics) handle(c *gin.Context) {
	ctx := c.Request.Context()
	began := time.Now()
	m.inFlight.Add(ctx, 1)
	defer m.inFlight.Add(ctx, -1)

	c.Next()

	method := telemetry.AttrHTTPMethod.String(c.Request.Method)
	route := telemetry.AttrHTTPRoute.String(routeOf(c))
	m.count.Inc(ctx, method, route, telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()))
	m.latency.RecordDuration(ctx, time.Since(began), method, route)
}

// routeOf keeps label cardinality bounded by using the matched pattern
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

func passthrough(c *gin.Context) { c.Next() }

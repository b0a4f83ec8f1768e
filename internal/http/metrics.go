package http

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/insightd/internal/http"

// Attribute keys follow the OpenTelemetry HTTP server conventions.
const (
	attrMethod = attribute.Key("http.request.method")
	attrRoute  = attribute.Key("http.route")
	attrStatus = attribute.Key("http.response.status_code")
)

var (
	durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	sizeBuckets     = []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000}
)

// HTTPMetrics records per-request server metrics. Instruments that failed to
// register are nil and skipped.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	active   metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the server instruments on meter. Registration
// failures are logged once and leave the affected instrument disabled.
func NewHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	var m HTTPMetrics
	var errs []error
	var err error

	m.requests, err = meter.Int64Counter("insightd.http.requests_total",
		metric.WithDescription("HTTP requests served."),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	m.duration, err = meter.Float64Histogram("insightd.http.request_duration_seconds",
		metric.WithDescription("Time from request receipt to response write."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	errs = append(errs, err)

	m.size, err = meter.Int64Histogram("insightd.http.response_size_bytes",
		metric.WithDescription("Response body size."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...))
	errs = append(errs, err)

	m.active, err = meter.Int64UpDownCounter("insightd.http.active_requests",
		metric.WithDescription("Requests currently in flight."),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		logger.Warn(context.Background(), "http metrics partially disabled", zap.Error(err))
	}
	return &m
}

// MetricsMiddleware records one observation per request. Errors are handed
// to echo first so the status reflects the error response.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.active != nil {
				m.active.Add(ctx, 1)
				defer m.active.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			res := c.Response()
			attrs := metric.WithAttributes(
				attrMethod.String(c.Request().Method),
				attrRoute.String(normalizePath(c.Path())),
				attrStatus.Int(res.Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, res.Size, attrs)
			}
			return err
		}
	}
}

// normalizePath bounds route cardinality. c.Path() is already the route
// template; requests that matched nothing share one label.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

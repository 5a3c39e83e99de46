package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records the OpenTelemetry HTTP server instruments.
type Metrics struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	active   metric.Int64UpDownCounter
	bodySize metric.Int64Histogram
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	var m Metrics
	var errs [4]error
	m.duration, errs[0] = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Time to serve a request"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	m.requests, errs[1] = meter.Int64Counter("http.server.request.total",
		metric.WithDescription("Requests served"),
		metric.WithUnit("{request}"),
	)
	m.active, errs[2] = meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("Requests being served"),
		metric.WithUnit("{request}"),
	)
	m.bodySize, errs[3] = meter.Int64Histogram("http.server.response.body.size",
		metric.WithDescription("Response body size"),
		metric.WithUnit("By"),
	)
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Middleware records each request under its chi route pattern, so
// /v1/optimizations/{id} is one series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		method := attribute.String("http.request.method", r.Method)

		m.active.Add(ctx, 1, metric.WithAttributes(method))
		defer m.active.Add(ctx, -1, metric.WithAttributes(method))

		start := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)

		attrs := metric.WithAttributes(
			method,
			attribute.String("http.route", routePattern(r)),
			attribute.String("http.response.status_code", strconv.Itoa(rec.statusCode)),
		)
		m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		m.requests.Add(ctx, 1, attrs)
		m.bodySize.Record(ctx, rec.written, attrs)
	})
}

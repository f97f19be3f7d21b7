// Package metrics exposes Prometheus collectors for the HTTP layer and the
// booking flow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	BookingsTotal     *prometheus.CounterVec
	MatchCandidates   prometheus.Histogram
	ConfirmRetries    prometheus.Counter
	EventPublishFails prometheus.Counter
}

// NewCollector registers every collector on a fresh registry, together with
// the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		BookingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking operations by operation and result.",
		}, []string{"operation", "result"}),

		MatchCandidates: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "match_candidates",
			Help:      "Number of doctors admitted per matching run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		}),

		ConfirmRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "confirm_retries_total",
			Help:      "Confirmations retried because the chosen slot changed under the lock.",
		}),

		EventPublishFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Domain events that could not be published.",
		}),
	}
}

// BookingOutcome counts one booking operation. Safe on a nil Collector.
func (c *Collector) BookingOutcome(operation, result string) {
	if c == nil {
		return
	}
	c.BookingsTotal.WithLabelValues(operation, result).Inc()
}

func (c *Collector) ObserveCandidates(n int) {
	if c == nil {
		return
	}
	c.MatchCandidates.Observe(float64(n))
}

func (c *Collector) ConfirmRetried() {
	if c == nil {
		return
	}
	c.ConfirmRetries.Inc()
}

func (c *Collector) PublishFailed() {
	if c == nil {
		return
	}
	c.EventPublishFails.Inc()
}

// Registry exposes the underlying registry for tests and custom collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware records request count, latency and in-flight requests, labelled
// by the route pattern rather than the raw path.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			c.InFlightGauge.Inc()
			defer c.InFlightGauge.Dec()

			start := time.Now()
			err := next(ctx)
			if err != nil {
				// Let echo write the error so the status below is final.
				ctx.Error(err)
			}

			route := ctx.Path()
			if route == "" {
				route = ctx.Request().URL.Path
			}
			status := strconv.Itoa(ctx.Response().Status)
			method := ctx.Request().Method

			c.RequestsTotal.WithLabelValues(method, route, status).Inc()
			c.RequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

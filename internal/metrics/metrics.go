// Package metrics exposes Prometheus instrumentation for the gateway. A nil
// *Collector is a no-op, so front-ends that skip the admin server pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the gateway.
type Collector struct {
	requestsTotal *prometheus.CounterVec
	inFlight      prometheus.Gauge
	queryDuration *prometheus.HistogramVec
	rowsReturned  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	configReloads prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Collector {
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "afpsql_requests_total",
				Help: "Total number of query requests per session",
			},
			[]string{"session"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "afpsql_in_flight",
				Help: "Number of queries currently executing",
			},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "afpsql_query_duration_seconds",
				Help:    "Duration of query execution in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"session"},
		),
		rowsReturned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "afpsql_rows_returned_total",
				Help: "Total number of rows returned per session",
			},
			[]string{"session"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "afpsql_errors_total",
				Help: "Total number of error outcomes per error code",
			},
			[]string{"error_code"},
		),
		configReloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "afpsql_config_reloads_total",
				Help: "Total number of applied configuration patches",
			},
		),
	}

	prometheus.MustRegister(
		c.requestsTotal,
		c.inFlight,
		c.queryDuration,
		c.rowsReturned,
		c.errorsTotal,
		c.configReloads,
	)

	return c
}

// RequestStarted increments the request counter and in-flight gauge.
func (c *Collector) RequestStarted(session string) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(session).Inc()
	c.inFlight.Inc()
}

// RequestFinished observes the duration and decrements the in-flight gauge.
func (c *Collector) RequestFinished(session string, d time.Duration) {
	if c == nil {
		return
	}
	c.queryDuration.WithLabelValues(session).Observe(d.Seconds())
	c.inFlight.Dec()
}

// RowsReturned adds to the per-session row counter.
func (c *Collector) RowsReturned(session string, n int) {
	if c == nil {
		return
	}
	c.rowsReturned.WithLabelValues(session).Add(float64(n))
}

// ErrorEmitted increments the error counter. SQL errors use their SQLSTATE
// as the code.
func (c *Collector) ErrorEmitted(code string) {
	if c == nil {
		return
	}
	c.errorsTotal.WithLabelValues(code).Inc()
}

// ConfigReloaded increments the reload counter.
func (c *Collector) ConfigReloaded() {
	if c == nil {
		return
	}
	c.configReloads.Inc()
}

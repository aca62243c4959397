package kunci

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// credential renewals and the encryption gate. It is safe for concurrent use
// and every method is a no-op on a nil receiver.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	renewalsTotal   *prometheus.CounterVec
	renewalDuration prometheus.Histogram

	waiterQueueDepth prometheus.Gauge
	waitersResolved  *prometheus.CounterVec

	transformErrors *prometheus.CounterVec

	rateLimiterTokens prometheus.Gauge

	errorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	mc := &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kunci_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kunci_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds, renewal and replay included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kunci_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		renewalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kunci_renewals_total",
				Help: "Total number of credential renewals by result",
			},
			[]string{"result"},
		),
		renewalDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kunci_renewal_duration_seconds",
				Help:    "Duration of credential renewals in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		waiterQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kunci_waiter_queue_depth",
				Help: "Number of requests waiting for an in-flight renewal",
			},
		),
		waitersResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kunci_waiters_resolved_total",
				Help: "Total number of queued requests resolved, by outcome",
			},
			[]string{"outcome"},
		),
		transformErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kunci_transform_errors_total",
				Help: "Total number of failed encryption transforms",
			},
			[]string{"direction"},
		),
		rateLimiterTokens: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kunci_rate_limiter_tokens",
				Help: "Tokens left in the outgoing rate limiter",
			},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kunci_errors_total",
				Help: "Total number of errors returned to callers",
			},
			[]string{"type", "method", "endpoint"},
		),
	}
	if reg, ok := registry.(*prometheus.Registry); ok {
		mc.registry = reg
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRenewal counts a renewal attempt and observes its duration.
func (mc *MetricsCollector) RecordRenewal(result string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.renewalsTotal.WithLabelValues(result).Inc()
	mc.renewalDuration.Observe(duration.Seconds())
}

// RecordWaiterQueueDepth sets the waiter queue gauge.
func (mc *MetricsCollector) RecordWaiterQueueDepth(depth int) {
	if mc == nil {
		return
	}

	mc.waiterQueueDepth.Set(float64(depth))
}

// RecordWaiterResolved counts a drained waiter.
func (mc *MetricsCollector) RecordWaiterResolved(outcome string) {
	if mc == nil {
		return
	}

	mc.waitersResolved.WithLabelValues(outcome).Inc()
}

// RecordTransformError counts a failed request or response transform.
func (mc *MetricsCollector) RecordTransformError(direction string) {
	if mc == nil {
		return
	}

	mc.transformErrors.WithLabelValues(direction).Inc()
}

// RecordRateLimiterTokens sets the rate limiter gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(tokens float64) {
	if mc == nil {
		return
	}

	mc.rateLimiterTokens.Set(tokens)
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// GetRegistry exposes the underlying prometheus registry, nil when the
// collector was built on a Registerer that is not a *prometheus.Registry.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	return mc.registry
}

// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Middleware calls are expected to be much faster than the full round trip.
var middlewareBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 5}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	MiddlewareDuration *prometheus.HistogramVec
	MiddlewareVerdicts *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeware_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kubeware_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds, middleware chain included.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubeware_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kubeware_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeware_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		MiddlewareDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kubeware_middleware_call_duration_seconds",
			Help:    "Latency of one middleware call in seconds.",
			Buckets: middlewareBuckets,
		}, []string{"middleware", "phase"}),

		MiddlewareVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubeware_middleware_verdicts_total",
			Help: "Middleware call outcomes by verdict (SUCCESS, CONTINUE, STOP, unreachable, protocol_error).",
		}, []string{"middleware", "phase", "verdict"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.MiddlewareDuration,
		m.MiddlewareVerdicts,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// adminRoutes lists the gateway's own routes. They get their own label;
// everything else is proxied and shares the "proxy" label.
var adminRoutes = []string{"/_kubeware/healthz", "/_kubeware/status", "/_kubeware/metrics"}

// NormalizePath returns a bounded route label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range adminRoutes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	if strings.HasPrefix(path, "/_kubeware/") {
		return "admin"
	}
	return "proxy"
}

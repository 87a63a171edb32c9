// Package observability wires Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"designgraph/application/ports"
)

// Collector holds all Prometheus metrics for the application. Each collector
// owns its registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Graph metrics
	Patches       *prometheus.CounterVec
	PatchDuration prometheus.Histogram

	// Policy metrics
	PolicyLookups    *prometheus.CounterVec
	PolicyDogpile    prometheus.Counter
	PolicyInflight   prometheus.Gauge
	PolicyFailClosed prometheus.Counter
	PolicyDecisions  *prometheus.CounterVec

	Approvals         *prometheus.CounterVec
	EventPublishFails prometheus.Counter
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patches_total",
			Help:      "Patch applications by outcome",
		}, []string{"outcome"}),
		PatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "patch_duration_seconds",
			Help:      "Time spent applying a patch",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		PolicyLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_lookups_total",
			Help:      "Policy lookups by tier and result",
		}, []string{"tier", "result"}),
		PolicyDogpile: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_dogpile_total",
			Help:      "Lookups that joined an in-flight load for the same tenant",
		}),
		PolicyInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "policy_loads_inflight",
			Help:      "Policy source loads currently running",
		}),
		PolicyFailClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_fail_closed_total",
			Help:      "Decisions denied because no policy could be loaded",
		}),
		PolicyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_decisions_total",
			Help:      "Policy decisions by result and reason",
		}, []string{"result", "reason"}),
		Approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Approval records by resulting status",
		}, []string{"status"}),
		EventPublishFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Domain events that could not be published",
		}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.Patches,
		c.PatchDuration,
		c.PolicyLookups,
		c.PolicyDogpile,
		c.PolicyInflight,
		c.PolicyFailClosed,
		c.PolicyDecisions,
		c.Approvals,
		c.EventPublishFails,
	)
	return c
}

var _ ports.MetricsCollector = (*Collector)(nil)

// Registry exposes the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// IncrementCounter routes a named counter to its vector. Unknown names are
// dropped.
func (c *Collector) IncrementCounter(name string, tags map[string]string) {
	switch name {
	case ports.MetricPatches:
		c.Patches.WithLabelValues(tags["outcome"]).Inc()
	case ports.MetricPolicyLookups:
		c.PolicyLookups.WithLabelValues(tags["tier"], tags["result"]).Inc()
	case ports.MetricPolicyDogpile:
		c.PolicyDogpile.Inc()
	case ports.MetricPolicyFailClosed:
		c.PolicyFailClosed.Inc()
	case ports.MetricPolicyDecisions:
		c.PolicyDecisions.WithLabelValues(tags["result"], tags["reason"]).Inc()
	case ports.MetricApprovals:
		c.Approvals.WithLabelValues(tags["status"]).Inc()
	case ports.MetricEventPublishFails:
		c.EventPublishFails.Inc()
	}
}

// RecordDuration observes a named duration in seconds
func (c *Collector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	switch name {
	case ports.MetricPatchDuration:
		c.PatchDuration.Observe(duration.Seconds())
	}
}

// SetGauge sets a named gauge
func (c *Collector) SetGauge(name string, value float64, tags map[string]string) {
	switch name {
	case ports.MetricPolicyInflight:
		c.PolicyInflight.Set(value)
	}
}

// RecordHTTPRequest records one served request
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

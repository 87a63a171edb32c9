package ports

import "time"

// MetricsCollector records named measurements. The Prometheus collector in
// infrastructure/observability routes names to its vectors; unknown names
// are dropped.
type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
}

// Metric names. Tag keys are listed where a metric takes any.
const (
	// outcome
	MetricPatches       = "patches"
	MetricPatchDuration = "patch_duration"

	// tier, result
	MetricPolicyLookups = "policy_lookups"
	// concurrent misses for one tenant
	MetricPolicyDogpile    = "policy_dogpile"
	MetricPolicyInflight   = "policy_loads_inflight"
	MetricPolicyFailClosed = "policy_fail_closed"
	// result, reason
	MetricPolicyDecisions = "policy_decisions"

	// status
	MetricApprovals = "approvals"

	MetricEventPublishFails = "event_publish_failures"
)

// NoOpMetrics discards everything
type NoOpMetrics struct{}

func (NoOpMetrics) IncrementCounter(string, map[string]string)             {}
func (NoOpMetrics) RecordDuration(string, time.Duration, map[string]string) {}
func (NoOpMetrics) SetGauge(string, float64, map[string]string)            {}

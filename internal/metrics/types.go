// Package metrics defines the data model for collected and derived
// Lambda metrics and implements the derivation engine.
package metrics

import "time"

// Derived metric names.
const (
	MetricErrorRate         = "error_rate"
	MetricMemoryUtilization = "memory_utilization"
	MetricCostGBSeconds     = "cost_gb_seconds"
	MetricHealthScore       = "health_score"
)

// Raw metric names as emitted into sink records.
const (
	SampleInvocations        = "invocations"
	SampleErrors             = "errors"
	SampleDurationAvgMS      = "duration_avg_ms"
	SampleDurationP95MS      = "duration_p95_ms"
	SampleThrottles          = "throttles"
	SampleConcurrentMax      = "concurrent_executions_max"
	SampleIteratorAgeMaxMS   = "iterator_age_max_ms"
	SampleMemoryConfiguredMB = "memory_configured_mb"
)

// MonitoredAccount identifies one account/region to poll and the role to
// assume there. Static configuration, immutable during a run.
type MonitoredAccount struct {
	AccountID string `json:"accountId"`
	Region    string `json:"region"`
	RoleARN   string `json:"roleArn"`
}

// MetricSample is a single raw metric observation for one function.
type MetricSample struct {
	FunctionName string    `json:"functionName"`
	AccountID    string    `json:"accountId"`
	Region       string    `json:"region"`
	MetricName   string    `json:"metricName"`
	Timestamp    time.Time `json:"timestamp"`
	Value        float64   `json:"value"`
	Unit         string    `json:"unit"`
}

// DerivedMetric is a computed indicator for one function in one window.
// Append-only: never mutated once produced.
type DerivedMetric struct {
	FunctionName string    `json:"functionName"`
	AccountID    string    `json:"accountId"`
	Region       string    `json:"region"`
	MetricName   string    `json:"metricName"`
	Timestamp    time.Time `json:"timestamp"`
	Value        float64   `json:"value"`
}

// FunctionWindow holds the raw statistics collected for one function over
// one collection window, plus the function attributes needed to derive
// cost and health indicators.
type FunctionWindow struct {
	FunctionName string    `json:"functionName"`
	AccountID    string    `json:"accountId"`
	Region       string    `json:"region"`
	Runtime      string    `json:"runtime,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
	MemoryMB     int32     `json:"memoryMb"`
	TimeoutSec   int32     `json:"timeoutSec"`
	WindowStart  time.Time `json:"windowStart"`
	WindowEnd    time.Time `json:"windowEnd"`

	Invocations      float64 `json:"invocations"`
	Errors           float64 `json:"errors"`
	DurationAvgMS    float64 `json:"durationAvgMs"`
	DurationP95MS    float64 `json:"durationP95Ms"`
	Throttles        float64 `json:"throttles"`
	ConcurrentMax    float64 `json:"concurrentExecutionsMax"`
	IteratorAgeMaxMS float64 `json:"iteratorAgeMaxMs,omitempty"`
	// HasIteratorAge is set only for stream-triggered functions that
	// reported an IteratorAge datapoint in the window.
	HasIteratorAge bool `json:"hasIteratorAge,omitempty"`
	// MemoryUsedMaxMB comes from the function's max-memory-used metric when
	// one is published; HasMemoryUsed guards the derivation.
	MemoryUsedMaxMB float64 `json:"memoryUsedMaxMb,omitempty"`
	HasMemoryUsed   bool    `json:"hasMemoryUsed,omitempty"`
}

// Samples flattens the window into raw MetricSample records for the sinks.
func (w FunctionWindow) Samples() []MetricSample {
	s := func(name string, value float64, unit string) MetricSample {
		return MetricSample{
			FunctionName: w.FunctionName,
			AccountID:    w.AccountID,
			Region:       w.Region,
			MetricName:   name,
			Timestamp:    w.WindowEnd,
			Value:        value,
			Unit:         unit,
		}
	}

	samples := []MetricSample{
		s(SampleInvocations, w.Invocations, "Count"),
		s(SampleErrors, w.Errors, "Count"),
		s(SampleDurationAvgMS, w.DurationAvgMS, "Milliseconds"),
		s(SampleDurationP95MS, w.DurationP95MS, "Milliseconds"),
		s(SampleThrottles, w.Throttles, "Count"),
		s(SampleConcurrentMax, w.ConcurrentMax, "Count"),
		s(SampleMemoryConfiguredMB, float64(w.MemoryMB), "Megabytes"),
	}

	if w.HasIteratorAge {
		samples = append(samples, s(SampleIteratorAgeMaxMS, w.IteratorAgeMaxMS, "Milliseconds"))
	}

	return samples
}

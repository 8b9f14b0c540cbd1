// Package alert evaluates derived metrics against configured thresholds
// and tracks per-metric alert state across invocations.
package alert

import (
	"time"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/metrics"
)

// Severity is the alerting state of one (account, function, metric).
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Threshold holds the warning and critical bounds for one metric.
type Threshold struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// Event is a single alert or recovery notification to dispatch.
type Event struct {
	FunctionName   string    `json:"functionName"`
	AccountID      string    `json:"accountId"`
	MetricName     string    `json:"metricName"`
	Severity       Severity  `json:"severity"`
	ObservedValue  float64   `json:"observedValue"`
	ThresholdValue float64   `json:"thresholdValue"`
	Timestamp      time.Time `json:"timestamp"`
	// Recovery marks the transition back to normal after an alerting state.
	Recovery bool `json:"recovery,omitempty"`
}

// Key identifies the alert state entry for this event. PagerDuty uses it
// as the dedup key so recoveries resolve the incident the breach opened.
func (e Event) Key() string {
	return e.AccountID + "/" + e.FunctionName + "/" + e.MetricName
}

// Observation is one derived metric value to evaluate.
type Observation struct {
	FunctionName string
	AccountID    string
	MetricName   string
	Value        float64
	Timestamp    time.Time
}

// LowerIsWorse reports whether breaches of the metric are downward.
// health_score degrades toward zero; everything else grows when unhealthy.
func LowerIsWorse(metricName string) bool {
	return metricName == metrics.MetricHealthScore
}

func classify(value float64, th Threshold, lowerWorse bool) Severity {
	if lowerWorse {
		switch {
		case value <= th.Critical:
			return SeverityCritical
		case value <= th.Warning:
			return SeverityWarning
		}
		return SeverityNormal
	}

	switch {
	case value >= th.Critical:
		return SeverityCritical
	case value >= th.Warning:
		return SeverityWarning
	}
	return SeverityNormal
}

func thresholdValue(th Threshold, severity Severity) float64 {
	if severity == SeverityCritical {
		return th.Critical
	}
	return th.Warning
}

package metrics

// HealthWeights controls how much each component subtracts from the
// health score. Weights that sum to 100 keep the score naturally bounded
// to [0, 100]; other sums are clamped.
type HealthWeights struct {
	Error    float64 `json:"error"`
	Duration float64 `json:"duration"`
	Memory   float64 `json:"memory"`
}

// DefaultHealthWeights returns the documented default weighting: errors
// weigh most, then proximity to the configured timeout, then memory headroom.
func DefaultHealthWeights() HealthWeights {
	return HealthWeights{Error: 50, Duration: 30, Memory: 20}
}

// Derive computes the derived metrics for one function window.
//
// A window with zero invocations is fully healthy: error_rate is 0 and
// health_score is 100. memory_utilization is produced only when the
// account publishes a max-memory-used metric for the function.
func Derive(w FunctionWindow, weights HealthWeights) []DerivedMetric {
	d := func(name string, value float64) DerivedMetric {
		return DerivedMetric{
			FunctionName: w.FunctionName,
			AccountID:    w.AccountID,
			Region:       w.Region,
			MetricName:   name,
			Timestamp:    w.WindowEnd,
			Value:        value,
		}
	}

	errorRate := errorRate(w)
	cost := (float64(w.MemoryMB) / 1024) * (w.DurationAvgMS / 1000) * w.Invocations

	derived := []DerivedMetric{
		d(MetricErrorRate, errorRate),
		d(MetricCostGBSeconds, cost),
	}

	memUtil, hasMemUtil := memoryUtilization(w)
	if hasMemUtil {
		derived = append(derived, d(MetricMemoryUtilization, memUtil))
	}

	derived = append(derived, d(MetricHealthScore, healthScore(w, weights)))

	return derived
}

func errorRate(w FunctionWindow) float64 {
	if w.Invocations <= 0 {
		return 0
	}
	return w.Errors / w.Invocations * 100
}

func memoryUtilization(w FunctionWindow) (float64, bool) {
	if !w.HasMemoryUsed || w.MemoryMB <= 0 {
		return 0, false
	}
	return w.MemoryUsedMaxMB / float64(w.MemoryMB) * 100, true
}

// healthScore is a bounded 0-100 composite. Each component is normalized
// to [0, 1] and subtracts up to its weight from 100.
func healthScore(w FunctionWindow, weights HealthWeights) float64 {
	if w.Invocations <= 0 {
		return 100
	}

	errComponent := clamp01(errorRate(w) / 100)

	var durComponent float64
	if w.TimeoutSec > 0 {
		durComponent = clamp01(w.DurationAvgMS / (float64(w.TimeoutSec) * 1000))
	}

	var memComponent float64
	if memUtil, ok := memoryUtilization(w); ok {
		memComponent = clamp01(memUtil / 100)
	}

	score := 100 -
		weights.Error*errComponent -
		weights.Duration*durComponent -
		weights.Memory*memComponent

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package report summarizes one monitoring run and publishes the summary
// to EventBridge for downstream automation and meta-alerting.
package report

import (
	"time"
)

// AccountFailure records why one account was skipped during a run.
type AccountFailure struct {
	AccountID string `json:"accountId"`
	// Stage names the pipeline step that failed: assume-role, collect,
	// evaluate or dispatch.
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// RunReport is the summary of one monitoring run across all accounts.
type RunReport struct {
	StartedAt         time.Time        `json:"startedAt"`
	FinishedAt        time.Time        `json:"finishedAt"`
	AccountsMonitored int              `json:"accountsMonitored"`
	AccountsFailed    int              `json:"accountsFailed"`
	FunctionsSeen     int              `json:"functionsSeen"`
	AlertsDispatched  int              `json:"alertsDispatched"`
	NotifyFailures    int              `json:"notifyFailures"`
	SinkFailures      int              `json:"sinkFailures"`
	Failures          []AccountFailure `json:"failures,omitempty"`
	// Degraded marks runs whose account failure ratio crossed the
	// meta-alert threshold.
	Degraded bool `json:"degraded"`
}

// FailureRatio returns the fraction of accounts that failed this run.
func (r *RunReport) FailureRatio() float64 {
	if r.AccountsMonitored == 0 {
		return 0
	}
	return float64(r.AccountsFailed) / float64(r.AccountsMonitored)
}

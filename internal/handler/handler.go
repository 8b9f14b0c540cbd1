// Package handler adapts the monitoring runner to Lambda invocations.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/metrics"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/monitor"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/report"
)

// Runner drives one monitoring run.
type Runner interface {
	Run(ctx context.Context) (*report.RunReport, error)
}

// Handler routes the incoming payload: the scheduled event starts a
// monitoring run, a {"diagnostic": true} payload only probes account
// credentials and reports the configured channels and sinks.
type Handler struct {
	runner   Runner
	provider monitor.ConfigProvider
	accounts []metrics.MonitoredAccount
	channels []string
	sinks    []string
	logger   *slog.Logger
}

// NewHandler creates a Handler. channels and sinks are the names of the
// configured notification channels and metric sinks, echoed back by
// diagnostic runs.
func NewHandler(
	runner Runner,
	provider monitor.ConfigProvider,
	accounts []metrics.MonitoredAccount,
	channels, sinks []string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		runner:   runner,
		provider: provider,
		accounts: accounts,
		channels: channels,
		sinks:    sinks,
		logger:   logger,
	}
}

// AccountCheck is the diagnostic result for one account.
type AccountCheck struct {
	AccountID string `json:"accountId"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// DiagnosticReport summarizes a diagnostic invocation. No notifications
// are sent and no alert state is touched while producing it.
type DiagnosticReport struct {
	Accounts []AccountCheck `json:"accounts"`
	Channels []string       `json:"channels"`
	Sinks    []string       `json:"sinks"`
	Healthy  bool           `json:"healthy"`
}

// HandleRequest dispatches on the payload shape. A run where every
// account failed returns an error so the invocation shows up as failed
// and Lambda's error alarms fire; partial failures are data in the
// report, not errors.
func (h *Handler) HandleRequest(ctx context.Context, payload json.RawMessage) (any, error) {
	var probe struct {
		Diagnostic bool `json:"diagnostic"`
	}
	// The scheduled event carries no diagnostic field; a parse failure
	// means a scheduled payload shape we do not inspect further.
	_ = json.Unmarshal(payload, &probe)

	if probe.Diagnostic {
		return h.diagnose(ctx), nil
	}

	rep, err := h.runner.Run(ctx)
	if err != nil {
		return nil, err
	}

	if rep.AccountsMonitored > 0 && rep.AccountsFailed == rep.AccountsMonitored {
		return rep, fmt.Errorf("all %d monitored accounts failed", rep.AccountsMonitored)
	}

	return rep, nil
}

func (h *Handler) diagnose(ctx context.Context) *DiagnosticReport {
	rep := &DiagnosticReport{
		Accounts: make([]AccountCheck, 0, len(h.accounts)),
		Channels: h.channels,
		Sinks:    h.sinks,
		Healthy:  true,
	}

	for _, account := range h.accounts {
		check := AccountCheck{AccountID: account.AccountID, OK: true}

		if _, err := h.provider.Config(ctx, account); err != nil {
			check.OK = false
			check.Error = err.Error()
			rep.Healthy = false

			h.logger.ErrorContext(ctx, "diagnostic credential check failed",
				slog.String("accountId", account.AccountID),
				slog.Any("error", err))
		}

		rep.Accounts = append(rep.Accounts, check)
	}

	return rep
}

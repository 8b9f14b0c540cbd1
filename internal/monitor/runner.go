// Package monitor orchestrates one monitoring run: fan out across
// accounts, collect and derive metrics, evaluate alerts, dispatch
// notifications and persist the batch.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/alert"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/config"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/metrics"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/report"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/sink"
)

var tracer = otel.Tracer("github.com/ab0utbla-k/lambda-fleet-monitor/internal/monitor")

// Stage names recorded in account failures.
const (
	StageAssumeRole = "assume-role"
	StageCollect    = "collect"
	StageEvaluate   = "evaluate"
)

// ConfigProvider yields an account-scoped aws.Config with assumed-role
// credentials.
type ConfigProvider interface {
	Config(ctx context.Context, account metrics.MonitoredAccount) (aws.Config, error)
}

// Collector fetches one window of metrics for one account.
type Collector interface {
	Collect(ctx context.Context, account metrics.MonitoredAccount) ([]metrics.FunctionWindow, error)
}

// CollectorFactory builds an account-scoped Collector from the
// assumed-role config.
type CollectorFactory func(cfg aws.Config) Collector

// Evaluator turns derived metric observations into alert events.
type Evaluator interface {
	Evaluate(ctx context.Context, observations []alert.Observation) ([]alert.Event, error)
}

// Dispatcher delivers one alert event to all channels and reports how
// many channels failed.
type Dispatcher interface {
	Dispatch(ctx context.Context, event alert.Event) int
}

// SinkStore persists one batch of documents to all sinks and reports how
// many sinks failed.
type SinkStore interface {
	Store(ctx context.Context, docs []sink.Document) int
}

// ReportPublisher publishes the run summary.
type ReportPublisher interface {
	Publish(ctx context.Context, rep *report.RunReport) error
}

// Runner drives one monitoring run across all configured accounts.
type Runner struct {
	cfg          *config.Config
	provider     ConfigProvider
	newCollector CollectorFactory
	evaluator    Evaluator
	dispatcher   Dispatcher
	sinks        SinkStore
	reporter     ReportPublisher
	logger       *slog.Logger

	now func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(
	cfg *config.Config,
	provider ConfigProvider,
	newCollector CollectorFactory,
	evaluator Evaluator,
	dispatcher Dispatcher,
	sinks SinkStore,
	reporter ReportPublisher,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		cfg:          cfg,
		provider:     provider,
		newCollector: newCollector,
		evaluator:    evaluator,
		dispatcher:   dispatcher,
		sinks:        sinks,
		reporter:     reporter,
		logger:       logger,
		now:          time.Now,
	}
}

type accountResult struct {
	account        metrics.MonitoredAccount
	docs           []sink.Document
	functions      int
	alerts         int
	notifyFailures int
	failure        *report.AccountFailure
}

// Run monitors every account once. One account per goroutine, each
// bounded by an equal share of the run deadline so a stuck account can
// never starve the rest or the final persistence step. A failed account
// is recorded and skipped; the run itself only degrades, never aborts.
func (r *Runner) Run(ctx context.Context) (*report.RunReport, error) {
	ctx, span := tracer.Start(ctx, "monitor.run")
	defer span.End()
	span.SetAttributes(attribute.Int("run.accounts", len(r.cfg.Accounts)))

	startedAt := r.now()

	share := r.cfg.RunDeadline
	if n := len(r.cfg.Accounts); n > 0 {
		share = r.cfg.RunDeadline / time.Duration(n)
	}

	results := make([]accountResult, len(r.cfg.Accounts))

	var wg sync.WaitGroup
	for i, account := range r.cfg.Accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()

			accountCtx, cancel := context.WithTimeout(ctx, share)
			defer cancel()

			results[i] = r.runAccount(accountCtx, account)
		}()
	}
	wg.Wait()

	rep := &report.RunReport{
		StartedAt:         startedAt,
		AccountsMonitored: len(r.cfg.Accounts),
	}

	var batch []sink.Document
	for _, res := range results {
		if res.failure != nil {
			rep.AccountsFailed++
			rep.Failures = append(rep.Failures, *res.failure)
			continue
		}
		rep.FunctionsSeen += res.functions
		rep.AlertsDispatched += res.alerts
		rep.NotifyFailures += res.notifyFailures
		batch = append(batch, res.docs...)
	}

	rep.SinkFailures = r.sinks.Store(ctx, batch)
	rep.FinishedAt = r.now()
	rep.Degraded = rep.AccountsFailed > 0 && rep.FailureRatio() >= r.cfg.MetaAlertFailureRatio

	if err := r.reporter.Publish(ctx, rep); err != nil {
		r.logger.ErrorContext(ctx, "cannot publish run report", slog.Any("error", err))
	}

	r.logger.InfoContext(ctx, "monitoring run finished",
		slog.Int("accounts", rep.AccountsMonitored),
		slog.Int("accountsFailed", rep.AccountsFailed),
		slog.Int("functions", rep.FunctionsSeen),
		slog.Int("alerts", rep.AlertsDispatched),
		slog.Bool("degraded", rep.Degraded))

	return rep, nil
}

func (r *Runner) runAccount(ctx context.Context, account metrics.MonitoredAccount) accountResult {
	ctx, span := tracer.Start(ctx, "monitor.account")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", account.AccountID))

	res := accountResult{account: account}

	awsCfg, err := r.provider.Config(ctx, account)
	if err != nil {
		r.logger.ErrorContext(ctx, "cannot assume monitoring role",
			slog.String("accountId", account.AccountID),
			slog.Any("error", err))
		res.failure = &report.AccountFailure{
			AccountID: account.AccountID,
			Stage:     StageAssumeRole,
			Error:     err.Error(),
		}
		return res
	}

	windows, err := r.newCollector(awsCfg).Collect(ctx, account)
	if err != nil {
		r.logger.ErrorContext(ctx, "cannot collect metrics",
			slog.String("accountId", account.AccountID),
			slog.Any("error", err))
		res.failure = &report.AccountFailure{
			AccountID: account.AccountID,
			Stage:     StageCollect,
			Error:     err.Error(),
		}
		return res
	}

	res.functions = len(windows)

	var observations []alert.Observation
	for _, w := range windows {
		derived := metrics.Derive(w, r.cfg.HealthWeights)

		res.docs = append(res.docs, sink.NewDocument(w, derived))

		for _, d := range derived {
			observations = append(observations, alert.Observation{
				FunctionName: d.FunctionName,
				AccountID:    d.AccountID,
				MetricName:   d.MetricName,
				Value:        d.Value,
				Timestamp:    d.Timestamp,
			})
		}
	}

	events, err := r.evaluator.Evaluate(ctx, observations)
	if err != nil {
		r.logger.ErrorContext(ctx, "cannot evaluate alerts",
			slog.String("accountId", account.AccountID),
			slog.Any("error", err))
		res.failure = &report.AccountFailure{
			AccountID: account.AccountID,
			Stage:     StageEvaluate,
			Error:     err.Error(),
		}
		return res
	}

	for _, event := range events {
		res.notifyFailures += r.dispatcher.Dispatch(ctx, event)
	}
	res.alerts = len(events)

	return res
}

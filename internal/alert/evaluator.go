package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/ab0utbla-k/lambda-fleet-monitor/internal/alert")

// ErrConditionFailed indicates the state entry changed under us; a
// concurrent invocation already handled the transition.
var ErrConditionFailed = errors.New("alert state version conflict")

// State is the persisted alerting state of one (account, function, metric).
type State struct {
	Severity   Severity
	NotifiedAt time.Time
	// Version drives the conditional write; zero means no entry exists yet.
	Version int64
}

// StateStore persists alert state between invocations. Put must be
// conditional on the version read by Get and fail with ErrConditionFailed
// on a lost update.
type StateStore interface {
	Get(ctx context.Context, key string) (State, bool, error)
	Put(ctx context.Context, key string, state State, expectedVersion int64) error
}

// Evaluator runs the Normal -> Warning -> Critical state machine per
// (account, function, metric) and emits Events for transitions that
// warrant a notification.
type Evaluator struct {
	thresholds map[string]Threshold
	store      StateStore
	cooldown   time.Duration
	logger     *slog.Logger

	now func() time.Time
}

// NewEvaluator creates an Evaluator. The cooldown is the minimum interval
// between repeated notifications at the same severity, typically the
// schedule interval multiplied by a suppression factor.
func NewEvaluator(
	thresholds map[string]Threshold,
	store StateStore,
	cooldown time.Duration,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
		store:      store,
		cooldown:   cooldown,
		logger:     logger,
		now:        time.Now,
	}
}

// Evaluate classifies each observation and returns the alert events to
// dispatch. Rules:
//   - only the highest breached severity fires (critical wins over warning)
//   - an event fires when severity increases, or on return to normal after
//     an alerting state (recovery)
//   - repeated breaches at the same severity inside the cooldown window are
//     coalesced; after the window, they re-notify
//   - a lost conditional write drops the event: the concurrent invocation
//     that won the write already notified
func (e *Evaluator) Evaluate(ctx context.Context, observations []Observation) ([]Event, error) {
	ctx, span := tracer.Start(ctx, "alert.evaluate")
	defer span.End()
	span.SetAttributes(attribute.Int("alert.observations", len(observations)))

	var events []Event

	for _, obs := range observations {
		event, err := e.evaluateOne(ctx, obs)
		if err != nil {
			return events, err
		}
		if event != nil {
			events = append(events, *event)
		}
	}

	span.SetAttributes(attribute.Int("alert.events", len(events)))

	return events, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, obs Observation) (*Event, error) {
	th, ok := e.thresholds[obs.MetricName]
	if !ok {
		return nil, nil
	}

	severity := classify(obs.Value, th, LowerIsWorse(obs.MetricName))

	key := obs.AccountID + "/" + obs.FunctionName + "/" + obs.MetricName

	prev, found, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cannot read alert state for %q: %w", key, err)
	}
	if !found {
		prev = State{Severity: SeverityNormal}
	}

	switch {
	case severity.rank() > prev.Severity.rank():
		return e.transition(ctx, key, obs, severity, th, prev, false)

	case severity == SeverityNormal && prev.Severity != SeverityNormal:
		return e.transition(ctx, key, obs, severity, th, prev, true)

	case severity != SeverityNormal && severity == prev.Severity:
		if e.now().Sub(prev.NotifiedAt) < e.cooldown {
			// Coalesced: same severity inside the cooldown window.
			return nil, nil
		}
		return e.transition(ctx, key, obs, severity, th, prev, false)

	case severity != SeverityNormal && severity.rank() < prev.Severity.rank():
		// Downgrade without recovery: record the new severity silently so a
		// later return to normal emits exactly one recovery event.
		next := State{Severity: severity, NotifiedAt: prev.NotifiedAt, Version: prev.Version + 1}
		if err := e.putState(ctx, key, next, prev.Version); err != nil && !errors.Is(err, ErrConditionFailed) {
			return nil, err
		}
		return nil, nil
	}

	return nil, nil
}

func (e *Evaluator) transition(
	ctx context.Context,
	key string,
	obs Observation,
	severity Severity,
	th Threshold,
	prev State,
	recovery bool,
) (*Event, error) {
	next := State{
		Severity:   severity,
		NotifiedAt: e.now(),
		Version:    prev.Version + 1,
	}

	if err := e.putState(ctx, key, next, prev.Version); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			e.logger.InfoContext(ctx, "alert state updated concurrently; dropping event",
				slog.String("key", key))
			return nil, nil
		}
		return nil, err
	}

	thValue := thresholdValue(th, severity)
	if recovery {
		// A recovery references the threshold it recovered across.
		thValue = thresholdValue(th, prev.Severity)
	}

	return &Event{
		FunctionName:   obs.FunctionName,
		AccountID:      obs.AccountID,
		MetricName:     obs.MetricName,
		Severity:       severity,
		ObservedValue:  obs.Value,
		ThresholdValue: thValue,
		Timestamp:      obs.Timestamp,
		Recovery:       recovery,
	}, nil
}

func (e *Evaluator) putState(ctx context.Context, key string, state State, expectedVersion int64) error {
	if err := e.store.Put(ctx, key, state, expectedVersion); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return err
		}
		return fmt.Errorf("cannot write alert state for %q: %w", key, err)
	}
	return nil
}

// Package sink persists collected metric windows to the configured
// durable stores.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/metrics"
)

var tracer = otel.Tracer("github.com/ab0utbla-k/lambda-fleet-monitor/internal/sink")

// Document is one function's metric window flattened for storage. Raw
// samples and derived metrics share the Metrics map keyed by metric name.
type Document struct {
	FunctionName string             `json:"functionName"`
	AccountID    string             `json:"accountId"`
	Region       string             `json:"region"`
	Runtime      string             `json:"runtime,omitempty"`
	MemoryMB     int32              `json:"memoryMb"`
	Timestamp    time.Time          `json:"timestamp"`
	Metrics      map[string]float64 `json:"metrics"`
}

// ID returns the deterministic document identifier. Re-running a window
// overwrites the previous document instead of duplicating it.
func (d Document) ID() string {
	return fmt.Sprintf("%s-%s-%d", d.AccountID, d.FunctionName, d.Timestamp.Unix())
}

// NewDocument flattens one window and its derived metrics into a Document.
func NewDocument(w metrics.FunctionWindow, derived []metrics.DerivedMetric) Document {
	values := make(map[string]float64, len(derived)+8)

	for _, s := range w.Samples() {
		values[s.MetricName] = s.Value
	}
	for _, d := range derived {
		values[d.MetricName] = d.Value
	}

	return Document{
		FunctionName: w.FunctionName,
		AccountID:    w.AccountID,
		Region:       w.Region,
		Runtime:      w.Runtime,
		MemoryMB:     w.MemoryMB,
		Timestamp:    w.WindowEnd,
		Metrics:      values,
	}
}

// Sink stores a batch of documents.
type Sink interface {
	// Name identifies the sink in logs and run reports.
	Name() string
	// Store persists the batch. Partial writes are the sink's concern;
	// callers treat any error as a whole-batch failure.
	Store(ctx context.Context, docs []Document) error
}

// Multi fans one batch out to every configured sink. A sink failure never
// blocks the remaining sinks.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMulti creates a Multi over the given sinks.
func NewMulti(sinks []Sink, logger *slog.Logger) *Multi {
	return &Multi{
		sinks:  sinks,
		logger: logger,
	}
}

// Store writes the batch to all sinks and returns the number of sinks
// that failed. Failures are logged per sink.
func (m *Multi) Store(ctx context.Context, docs []Document) int {
	if len(docs) == 0 {
		return 0
	}

	ctx, span := tracer.Start(ctx, "sink.store")
	defer span.End()
	span.SetAttributes(attribute.Int("sink.documents", len(docs)))

	var failed int

	for _, s := range m.sinks {
		if err := s.Store(ctx, docs); err != nil {
			failed++
			m.logger.Error("cannot store metrics batch",
				slog.String("sink", s.Name()),
				slog.Int("documents", len(docs)),
				slog.Any("error", err))
		}
	}

	span.SetAttributes(attribute.Int("sink.failed", failed))

	return failed
}

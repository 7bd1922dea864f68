// Package observe provides application-wide observability primitives for
// voxflow: OpenTelemetry metrics, tracing helpers, and the provider setup
// that bridges metrics to a Prometheus /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxflow/voxflow/pkg/pipeline"
	"github.com/voxflow/voxflow/pkg/turn"
)

// meterName is the instrumentation scope name used for all voxflow metrics.
const meterName = "github.com/voxflow/voxflow"

// Metrics holds all OpenTelemetry metric instruments for the engine. All
// fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks external-call latency per pipeline stage. Use
	// with attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// FramesDelivered counts frames injected at the input boundary. Use
	// with attribute.String("frame", ...).
	FramesDelivered metric.Int64Counter

	// Interruptions counts interruption sweeps raised by tasks.
	Interruptions metric.Int64Counter

	// TurnDecisions counts turn-analyzer decisions. Use with
	// attribute.String("decision", ...).
	TurnDecisions metric.Int64Counter

	// ActiveTasks tracks the number of running pipeline tasks.
	ActiveTasks metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline stage latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("voxflow.stage.duration",
		metric.WithDescription("Latency of external calls by pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesDelivered, err = m.Int64Counter("voxflow.frames.delivered",
		metric.WithDescription("Total frames delivered at the input boundary by frame kind."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxflow.interruptions",
		metric.WithDescription("Total interruption sweeps raised by tasks."),
	); err != nil {
		return nil, err
	}
	if met.TurnDecisions, err = m.Int64Counter("voxflow.turn.decisions",
		metric.WithDescription("Total end-of-turn decisions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveTasks, err = m.Int64UpDownCounter("voxflow.active_tasks",
		metric.WithDescription("Number of running pipeline tasks."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Compile-time assertion that Metrics satisfies the task recorder contract.
var _ pipeline.MetricsRecorder = (*Metrics)(nil)

// RecordFrame implements [pipeline.MetricsRecorder].
func (m *Metrics) RecordFrame(ctx context.Context, name string) {
	m.FramesDelivered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("frame", name)),
	)
}

// RecordStage implements [pipeline.MetricsRecorder].
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordInterruption implements [pipeline.MetricsRecorder].
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// RecordTurnDecision counts one turn-analyzer decision.
func (m *Metrics) RecordTurnDecision(ctx context.Context, d turn.Decision) {
	m.TurnDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("decision", d.String())),
	)
}

// TaskStarted increments the running-task gauge; call the returned function
// when the task finishes.
func (m *Metrics) TaskStarted(ctx context.Context) func() {
	m.ActiveTasks.Add(ctx, 1)
	return func() { m.ActiveTasks.Add(ctx, -1) }
}

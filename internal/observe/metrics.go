// Package observe provides observability primitives for voxhall:
// OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter is wired in by [InitProvider] so metrics can be scraped via the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxhall metrics.
const meterName = "github.com/voxhall/voxhall"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks per-segment transcription latency.
	ASRDuration metric.Float64Histogram

	// LLMFirstTokenDuration tracks time to the first streamed token.
	LLMFirstTokenDuration metric.Float64Histogram

	// LLMDuration tracks total generation latency per turn.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks per-sentence synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsCompleted counts turns by terminal state. Use with attribute:
	//   attribute.String("state", "completed"|"cancelled"|"failed")
	TurnsCompleted metric.Int64Counter

	// BargeIns counts speech-start interruptions of an active reply.
	BargeIns metric.Int64Counter

	// FramesDropped counts audio windows discarded under backpressure.
	FramesDropped metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("class", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live dialog sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRDuration, err = m.Float64Histogram("voxhall.asr.duration",
		metric.WithDescription("Latency of per-segment transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMFirstTokenDuration, err = m.Float64Histogram("voxhall.llm.first_token.duration",
		metric.WithDescription("Latency to the first streamed LLM token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("voxhall.llm.duration",
		metric.WithDescription("Total LLM generation latency per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxhall.tts.duration",
		metric.WithDescription("Latency of per-sentence speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnsCompleted, err = m.Int64Counter("voxhall.turns",
		metric.WithDescription("Total turns by terminal state."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxhall.barge_ins",
		metric.WithDescription("Total barge-in interruptions of active replies."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxhall.frames_dropped",
		metric.WithDescription("Total audio windows dropped under backpressure."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxhall.provider.errors",
		metric.WithDescription("Total provider errors by kind and class."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxhall.active_sessions",
		metric.WithDescription("Number of live dialog sessions."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordTurn records a turn reaching the given terminal state.
func (m *Metrics) RecordTurn(ctx context.Context, state string) {
	m.TurnsCompleted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state)),
	)
}

// RecordProviderError records a provider error with the standard attribute
// set. kind is the capability ("asr", "llm", "tts"); class is the error
// classification ("timeout", "transient", "unavailable").
func (m *Metrics) RecordProviderError(ctx context.Context, kind, class string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("class", class),
		),
	)
}

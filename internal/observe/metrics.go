// Package observe provides application-wide observability primitives for
// voxkiosk: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxkiosk metrics.
const meterName = "github.com/voxkiosk/voxkiosk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// PreprocessDuration tracks denoise and speaker-isolation latency.
	PreprocessDuration metric.Float64Histogram

	// ASRDuration tracks speech recognition latency.
	ASRDuration metric.Float64Histogram

	// IntentDuration tracks intent classification latency, both passes
	// included.
	IntentDuration metric.Float64Histogram

	// TTSDuration tracks prompt synthesis latency.
	TTSDuration metric.Float64Histogram

	// UtteranceDuration tracks end-to-end latency from closed utterance to
	// spoken response.
	UtteranceDuration metric.Float64Histogram

	// --- Distribution histograms ---

	// RecognitionConfidence tracks per-utterance recognition confidence in
	// [0, 1].
	RecognitionConfidence metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// DroppedFrames counts audio frames evicted from full intake queues.
	DroppedFrames metric.Int64Counter

	// Utterances counts processed utterances. Use with attribute:
	//   attribute.String("intent", ...)
	Utterances metric.Int64Counter

	// SupersededUtterances counts utterances cancelled or replaced by a
	// newer one from the same session.
	SupersededUtterances metric.Int64Counter

	// Payments counts payment attempts. Use with attribute:
	//   attribute.String("status", ...)
	Payments metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live kiosk sessions.
	ActiveSessions metric.Int64UpDownCounter

	// PendingConfirmations tracks sessions currently awaiting a yes/no
	// answer.
	PendingConfirmations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// confidenceBuckets defines histogram bucket boundaries for the [0, 1]
// confidence range.
var confidenceBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PreprocessDuration, err = m.Float64Histogram("voxkiosk.preprocess.duration",
		metric.WithDescription("Latency of denoising and speaker isolation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ASRDuration, err = m.Float64Histogram("voxkiosk.asr.duration",
		metric.WithDescription("Latency of speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IntentDuration, err = m.Float64Histogram("voxkiosk.intent.duration",
		metric.WithDescription("Latency of intent classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxkiosk.tts.duration",
		metric.WithDescription("Latency of prompt synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("voxkiosk.utterance.duration",
		metric.WithDescription("End-to-end latency from closed utterance to spoken response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionConfidence, err = m.Float64Histogram("voxkiosk.recognition.confidence",
		metric.WithDescription("Per-utterance recognition confidence."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxkiosk.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("voxkiosk.audio.dropped_frames",
		metric.WithDescription("Total audio frames evicted from full intake queues."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxkiosk.utterances",
		metric.WithDescription("Total processed utterances by resolved intent."),
	); err != nil {
		return nil, err
	}
	if met.SupersededUtterances, err = m.Int64Counter("voxkiosk.utterances.superseded",
		metric.WithDescription("Total utterances cancelled or replaced by a newer one."),
	); err != nil {
		return nil, err
	}
	if met.Payments, err = m.Int64Counter("voxkiosk.payments",
		metric.WithDescription("Total payment attempts by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxkiosk.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxkiosk.active_sessions",
		metric.WithDescription("Number of live kiosk sessions."),
	); err != nil {
		return nil, err
	}
	if met.PendingConfirmations, err = m.Int64UpDownCounter("voxkiosk.pending_confirmations",
		metric.WithDescription("Number of sessions awaiting a yes/no answer."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxkiosk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance records a processed utterance with its resolved intent.
func (m *Metrics) RecordUtterance(ctx context.Context, intent string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("intent", intent)),
	)
}

// RecordPayment records a payment attempt outcome.
func (m *Metrics) RecordPayment(ctx context.Context, status string) {
	m.Payments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

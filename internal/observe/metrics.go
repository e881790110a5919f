// Package observe provides the observability primitives for launch-control:
// OpenTelemetry metric instruments, tracing helpers, and the HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through the Prometheus bridge installed by [Setup], so the standard
// /metrics endpoint serves them. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all launch-control metrics.
const meterName = "github.com/jmcdice/launch-control"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture side ---

	// FramesCaptured counts audio frames delivered by the capture stream.
	FramesCaptured metric.Int64Counter

	// CaptureWarnings counts frames that arrived with a non-zero stream
	// status (overflow, underflow).
	CaptureWarnings metric.Int64Counter

	// UtterancesDetected counts speech segments completed by the detector.
	UtterancesDetected metric.Int64Counter

	// UtterancesDropped counts segments discarded before transcription.
	// Use with attribute: attribute.String("reason", ...) — "queue_full"
	// is the only producer-side reason today.
	UtterancesDropped metric.Int64Counter

	// UtteranceDuration tracks the audio length of completed segments.
	UtteranceDuration metric.Float64Histogram

	// --- Transcription side ---

	// Transcriptions counts transcription attempts. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("outcome", "ok"|"empty"|"error")
	Transcriptions metric.Int64Counter

	// TranscriptionDuration tracks backend transcription latency. Use with
	// attribute: attribute.String("backend", ...).
	TranscriptionDuration metric.Float64Histogram

	// SinkFailures counts errors returned by the transcript sink.
	SinkFailures metric.Int64Counter

	// --- Queue ---

	// QueueDepth tracks the number of utterances waiting in the handoff
	// queue. Add +1 on enqueue, -1 on dequeue.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// transcription round-trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// durationBuckets defines histogram bucket boundaries (in seconds) sized for
// speech segment lengths, which run from sub-second callouts up to the
// max-duration cutoff.
var durationBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	var (
		met  Metrics
		errs []error
	)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	seconds := func(name, desc string, buckets []float64) metric.Float64Histogram {
		hOpts := []metric.Float64HistogramOption{
			metric.WithDescription(desc),
			metric.WithUnit("s"),
		}
		if len(buckets) > 0 {
			hOpts = append(hOpts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		h, err := meter.Float64Histogram(name, hOpts...)
		errs = append(errs, err)
		return h
	}

	met.FramesCaptured = counter("launchcontrol.frames.captured",
		"Total audio frames delivered by the capture stream.")
	met.CaptureWarnings = counter("launchcontrol.capture.warnings",
		"Total frames delivered with a driver anomaly flag.")
	met.UtterancesDetected = counter("launchcontrol.utterances.detected",
		"Total speech segments completed by the detector.")
	met.UtterancesDropped = counter("launchcontrol.utterances.dropped",
		"Total segments discarded before transcription, by reason.")
	met.Transcriptions = counter("launchcontrol.transcriptions",
		"Total transcription attempts by backend and outcome.")
	met.SinkFailures = counter("launchcontrol.sink.failures",
		"Total errors returned by the transcript sink.")

	met.UtteranceDuration = seconds("launchcontrol.utterance.duration",
		"Audio length of completed speech segments.", durationBuckets)
	met.TranscriptionDuration = seconds("launchcontrol.transcription.duration",
		"Latency of backend transcription calls.", latencyBuckets)
	met.HTTPRequestDuration = seconds("launchcontrol.http.request.duration",
		"HTTP request latency by method and path.", nil)

	var err error
	met.QueueDepth, err = meter.Int64UpDownCounter("launchcontrol.queue.depth",
		metric.WithDescription("Utterances currently waiting in the handoff queue."))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &met, nil
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

// RecordTranscription records one transcription attempt with the standard
// attribute set. outcome is "ok", "empty", or "error".
func (m *Metrics) RecordTranscription(ctx context.Context, backend, outcome string) {
	m.Transcriptions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordDrop records one dropped segment with the standard reason attribute.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.UtterancesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// Package receiver implements the capture-to-transcript pipeline controller.
//
// A [Controller] owns the full audio path: it opens a capture stream, feeds
// every frame through the segment detector, hands completed utterances to the
// bounded handoff queue, and drains that queue through the transcription
// backend into the configured [Sink]. Start acquires resources in dependency
// order and rolls back on failure; Stop releases them in reverse.
//
// Two goroutines touch a running Controller: the stream's frame-delivery
// goroutine (detector state, enqueue) and the drain loop (backend calls,
// sink). They share nothing but the queue, which transfers utterance
// ownership. Per-utterance failures of any kind are logged and counted, never
// fatal; only Start can fail.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jmcdice/launch-control/internal/handoff"
	"github.com/jmcdice/launch-control/internal/observe"
	"github.com/jmcdice/launch-control/internal/segment"
	"github.com/jmcdice/launch-control/internal/transcript"
	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/transcribe"
)

// ErrStartup reports that Start failed while acquiring resources. Everything
// acquired before the failure has been released. Configuration problems are
// reported as [transcribe.ErrConfiguration] instead.
var ErrStartup = errors.New("receiver: startup failed")

// DefaultLevelCheck is the capture length of the startup input-level probe.
const DefaultLevelCheck = 2 * time.Second

// statsWindow is the number of recent transcription latency samples retained
// for percentile reporting.
const statsWindow = 100

// captureWarnInterval rate-limits the log line for driver anomaly flags; the
// counter still sees every occurrence.
const captureWarnInterval = time.Second

// Sink consumes one final transcript per completed, non-empty utterance. It
// runs on the drain goroutine; a slow sink delays the next transcription but
// never capture itself.
type Sink func(ctx context.Context, text string) error

// Config carries the capture and pipeline parameters for a [Controller].
type Config struct {
	// Stream is the capture format and device passed to the audio source.
	Stream audio.StreamConfig

	// Detector configures speech segmentation over the captured frames.
	Detector segment.Config

	// QueueSize bounds the handoff queue between detection and
	// transcription. Must be at least 1.
	QueueSize int

	// BackendName labels logs, spans, and metric attributes. It does not
	// select the backend; the caller constructs that.
	BackendName string

	// LevelCheck is the capture length of the advisory input-level probe run
	// during Start. Zero skips the probe. [DefaultLevelCheck] is the usual
	// production value.
	LevelCheck time.Duration

	// DebugDir, when non-empty, enables per-utterance debug artifacts
	// (audio_<ts>.wav and trans_<ts>.txt) under this directory.
	DebugDir string
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithCorrector installs a vocabulary corrector applied to every transcript
// before the sink. A nil or empty-vocabulary corrector is a no-op.
func WithCorrector(corr *transcript.Corrector) Option {
	return func(c *Controller) {
		c.corrector = corr
	}
}

// Controller drives the capture, segmentation, handoff, and transcription
// pipeline. Create one with [New]; it is inert until [Controller.Start].
//
// Start and Stop serialise against each other and may be called from any
// goroutine.
type Controller struct {
	cfg     Config
	source  audio.Source
	backend transcribe.Backend
	sink    Sink

	log       *slog.Logger
	metrics   *observe.Metrics
	corrector *transcript.Corrector
	stats     *Stats
	debug     *debugWriter

	detector *segment.Detector

	// lastCaptureWarn is touched only by the frame-delivery goroutine.
	lastCaptureWarn time.Time

	mu          sync.Mutex
	running     bool
	stream      audio.Stream
	queue       *handoff.Queue[audio.Utterance]
	drainCancel context.CancelFunc
	drainDone   chan struct{}
}

// New validates cfg and assembles a [Controller]. source, backend, and sink
// are required. No resources are acquired until Start.
func New(cfg Config, source audio.Source, backend transcribe.Backend, sink Sink, opts ...Option) (*Controller, error) {
	if source == nil {
		return nil, errors.New("receiver: source is required")
	}
	if backend == nil {
		return nil, errors.New("receiver: backend is required")
	}
	if sink == nil {
		return nil, errors.New("receiver: sink is required")
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("receiver: queue size must be at least 1, got %d", cfg.QueueSize)
	}

	c := &Controller{
		cfg:     cfg,
		source:  source,
		backend: backend,
		sink:    sink,
		stats:   NewStats(statsWindow),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	det, err := segment.New(cfg.Detector, c.log)
	if err != nil {
		return nil, err
	}
	c.detector = det

	if cfg.DebugDir != "" {
		c.debug = newDebugWriter(cfg.DebugDir, c.log)
	}
	return c, nil
}

// Running reports whether the controller has been started and not yet stopped.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stats returns a point-in-time snapshot of pipeline counters and recent
// transcription latency percentiles.
func (c *Controller) Stats() Snapshot {
	return c.stats.Snapshot()
}

// Start brings the pipeline up: backend initialisation, the advisory
// input-level probe, the drain goroutine, and finally the capture stream.
// ctx bounds the startup work only; the running pipeline outlives it and
// stops via [Controller.Stop].
//
// On failure everything already acquired is released and the returned error
// wraps [ErrStartup] — except configuration problems, which surface the
// backend's [transcribe.ErrConfiguration] unchanged. Starting a running
// controller is an error.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("receiver: already started")
	}

	if err := c.backend.Initialize(ctx); err != nil {
		if errors.Is(err, transcribe.ErrConfiguration) {
			return fmt.Errorf("receiver: backend initialize: %w", err)
		}
		return fmt.Errorf("receiver: backend initialize: %w", errors.Join(ErrStartup, err))
	}

	if c.cfg.LevelCheck > 0 {
		c.checkInputLevel(ctx)
	}

	queue, err := handoff.New[audio.Utterance](c.cfg.QueueSize)
	if err != nil {
		c.cleanupBackend()
		return fmt.Errorf("receiver: %w", errors.Join(ErrStartup, err))
	}
	c.queue = queue
	c.detector.Reset()

	drainCtx, cancel := context.WithCancel(context.Background())
	c.drainCancel = cancel
	c.drainDone = make(chan struct{})
	go c.drainLoop(drainCtx)

	stream, err := c.source.Open(ctx, c.cfg.Stream, c.handleFrame)
	if err != nil {
		cancel()
		<-c.drainDone
		c.queue.Close()
		c.cleanupBackend()
		return fmt.Errorf("receiver: open stream: %w", errors.Join(ErrStartup, err))
	}
	c.stream = stream
	c.running = true

	c.log.Info("audio stream started",
		"device", c.cfg.Stream.Device,
		"sample_rate", c.cfg.Stream.SampleRate,
		"channels", c.cfg.Stream.Channels,
		"frame_len", c.cfg.Stream.FrameLen,
		"backend", c.cfg.BackendName,
	)
	return nil
}

// Stop tears the pipeline down: shutdown signal, capture stream, drain loop,
// backend. Residual queued utterances are discarded. Stop is idempotent and
// safe to call on a controller that never started or whose Start failed.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	c.drainCancel()

	var errs []error
	if err := c.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	c.stream = nil

	<-c.drainDone

	if n := c.queue.Len(); n > 0 {
		c.log.Debug("discarding queued utterances", "count", n)
		c.metrics.QueueDepth.Add(context.Background(), int64(-n))
	}
	c.queue.Close()

	if err := c.backend.Cleanup(); err != nil {
		errs = append(errs, fmt.Errorf("backend cleanup: %w", err))
	}

	s := c.stats.Snapshot()
	c.log.Info("audio receiver stopped",
		"frames", s.Frames,
		"utterances", s.Detected,
		"dropped", s.Dropped,
		"transcribed", s.Transcribed,
		"empty", s.Empty,
		"failures", s.Failures,
		"latency_p50", s.Transcription.P50,
		"latency_p95", s.Transcription.P95,
	)

	if len(errs) > 0 {
		return fmt.Errorf("receiver: stop: %w", errors.Join(errs...))
	}
	return nil
}

// cleanupBackend releases the backend during a Start rollback. Failures are
// only logged; the rollback continues.
func (c *Controller) cleanupBackend() {
	if err := c.backend.Cleanup(); err != nil {
		c.log.Warn("backend cleanup during rollback failed", "err", err)
	}
}

// handleFrame is the capture callback. It runs on the stream's delivery
// goroutine at the frame cadence and must stay non-blocking: detector update,
// non-blocking enqueue, counters. Nothing here takes c.mu.
func (c *Controller) handleFrame(frame audio.Frame, status audio.StreamStatus) {
	ctx := context.Background()

	c.stats.IncrFrames()
	c.metrics.FramesCaptured.Add(ctx, 1)

	if status != 0 {
		c.metrics.CaptureWarnings.Add(ctx, 1)
		if now := time.Now(); now.Sub(c.lastCaptureWarn) >= captureWarnInterval {
			c.lastCaptureWarn = now
			c.log.Warn("audio stream status", "status", status.String())
		}
	}

	utt, ok := c.detector.ProcessFrame(frame)
	if !ok {
		return
	}

	c.stats.IncrDetected()
	c.metrics.UtterancesDetected.Add(ctx, 1)
	c.metrics.UtteranceDuration.Record(ctx, utt.Duration().Seconds())

	if c.queue.TryEnqueue(utt) {
		c.metrics.QueueDepth.Add(ctx, 1)
		c.log.Debug("utterance queued", "duration", utt.Duration(), "queued", c.queue.Len())
	} else {
		c.stats.IncrDropped()
		c.metrics.RecordDrop(ctx, "queue_full")
		c.log.Warn("handoff queue full, dropping utterance", "duration", utt.Duration())
	}
}

// drainLoop consumes the handoff queue until ctx is cancelled or the queue
// closes. One utterance is processed at a time; backend concurrency is
// bounded to 1 by construction.
func (c *Controller) drainLoop(ctx context.Context) {
	defer close(c.drainDone)
	for {
		utt, err := c.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		c.metrics.QueueDepth.Add(ctx, -1)
		c.processUtterance(ctx, utt)
	}
}

// processUtterance runs one utterance through the backend and forwards the
// result. Every failure mode is contained here: errors and empty results are
// logged and counted, the loop moves on, the utterance is never retried.
func (c *Controller) processUtterance(ctx context.Context, utt audio.Utterance) {
	sctx, span := observe.StartSpan(ctx, "transcribe.utterance",
		trace.WithAttributes(
			attribute.String("backend", c.cfg.BackendName),
			attribute.Float64("audio.duration_s", utt.Duration().Seconds()),
		),
	)
	start := time.Now()
	result, err := c.backend.Transcribe(sctx, utt)
	elapsed := time.Since(start)
	observe.EndSpan(span, err)

	log := observe.Logger(sctx, c.log)

	c.stats.RecordTranscription(elapsed)
	c.metrics.TranscriptionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("backend", c.cfg.BackendName)))

	if err != nil {
		c.stats.IncrFailures()
		c.metrics.RecordTranscription(ctx, c.cfg.BackendName, "error")
		log.Error("transcription failed",
			"backend", c.cfg.BackendName,
			"audio_duration", utt.Duration(),
			"err", err,
		)
		return
	}

	text := ""
	if result != nil {
		text = strings.TrimSpace(result.Text)
	}
	if text == "" {
		c.stats.IncrEmpty()
		c.metrics.RecordTranscription(ctx, c.cfg.BackendName, "empty")
		log.Debug("no speech recognised", "audio_duration", utt.Duration())
		return
	}

	c.stats.IncrTranscribed()
	c.metrics.RecordTranscription(ctx, c.cfg.BackendName, "ok")

	if c.corrector != nil && c.corrector.Enabled() {
		corrected, corrections := c.corrector.Correct(text)
		if len(corrections) > 0 {
			log.Debug("vocabulary corrections applied", "count", len(corrections))
		}
		text = corrected
	}

	log.Debug("transcribed", "text", text, "latency", elapsed)

	if err := c.sink(ctx, text); err != nil {
		c.stats.IncrSinkFailures()
		c.metrics.SinkFailures.Add(ctx, 1)
		log.Error("sink failed", "err", err)
	}

	if c.debug != nil {
		c.debug.save(utt, text)
	}
}

// Package app wires all launch-control subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the capture pipeline and the HTTP surface and blocks
// until the context is cancelled, and Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithSource,
// WithBackend, WithSink). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcdice/launch-control/internal/config"
	"github.com/jmcdice/launch-control/internal/health"
	"github.com/jmcdice/launch-control/internal/observe"
	"github.com/jmcdice/launch-control/internal/receiver"
	"github.com/jmcdice/launch-control/internal/resilience"
	"github.com/jmcdice/launch-control/internal/transcript"
	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/audio/ffmpeg"
	"github.com/jmcdice/launch-control/pkg/transcribe"

	// Registered transcription backends.
	_ "github.com/jmcdice/launch-control/pkg/transcribe/chirp"
	_ "github.com/jmcdice/launch-control/pkg/transcribe/deepgram"
	_ "github.com/jmcdice/launch-control/pkg/transcribe/openai"
	_ "github.com/jmcdice/launch-control/pkg/transcribe/whispercpp"
)

// httpShutdownGrace bounds how long in-flight HTTP requests may run once the
// service is asked to stop.
const httpShutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes and orchestrates the capture pipeline.
type App struct {
	cfg     *config.Config
	version string

	source  audio.Source
	backend transcribe.Backend
	sink    receiver.Sink

	levelCheck time.Duration

	recv    *receiver.Controller
	metrics *observe.Metrics
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects an audio source instead of constructing the ffmpeg one.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithBackend injects a transcription backend instead of creating one from
// the registry.
func WithBackend(b transcribe.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithSink injects the transcript destination instead of the default
// log-and-append sink.
func WithSink(s receiver.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithLevelCheck overrides the startup input-level probe length. Zero skips
// the probe entirely; tests and headless deployments want that.
func WithLevelCheck(d time.Duration) Option {
	return func(a *App) { a.levelCheck = d }
}

// WithVersion records the build version surfaced on /healthz and in the
// startup log.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. cfg must already be
// validated by the config loader. Use Option functions to inject test
// doubles for any subsystem.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:        cfg,
		levelCheck: receiver.DefaultLevelCheck,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.metrics = m

	// ── 2. Transcription backend ─────────────────────────────────────────
	if a.backend == nil {
		settings := cfg.Transcription.Settings(cfg.Audio.StreamConfig())
		backend, err := transcribe.New(cfg.Transcription.Backend, settings)
		if err != nil {
			return nil, fmt.Errorf("app: init backend: %w", err)
		}
		a.backend = backend

		if fbs := cfg.Transcription.Fallbacks; len(fbs) > 0 {
			chain := resilience.NewChain(cfg.Transcription.Backend, backend, resilience.BreakerConfig{})
			for _, fb := range fbs {
				fset := fb.Settings(cfg.Audio.StreamConfig(), cfg.Transcription.Language)
				fbackend, err := transcribe.New(fb.Backend, fset)
				if err != nil {
					return nil, fmt.Errorf("app: init fallback backend: %w", err)
				}
				chain.Add(fb.Backend, fbackend)
			}
			a.backend = chain
			slog.Info("transcription failover enabled",
				"primary", cfg.Transcription.Backend,
				"fallbacks", len(fbs))
		}
	}

	// ── 3. Vocabulary corrector ──────────────────────────────────────────
	corrector := transcript.NewCorrector(cfg.Transcription.Vocabulary)
	if corrector.Enabled() {
		slog.Info("vocabulary correction enabled", "terms", len(cfg.Transcription.Vocabulary))
	}

	// ── 4. Audio source ──────────────────────────────────────────────────
	if a.source == nil {
		var fopts []ffmpeg.Option
		if cfg.Audio.FFmpegPath != "" {
			fopts = append(fopts, ffmpeg.WithBinary(cfg.Audio.FFmpegPath))
		}
		if cfg.Audio.CaptureFormat != "" {
			fopts = append(fopts, ffmpeg.WithCaptureFormat(cfg.Audio.CaptureFormat))
		}
		a.source = ffmpeg.New(fopts...)
	}

	// ── 5. Transcript sink ───────────────────────────────────────────────
	if a.sink == nil {
		sink, err := newTranscriptSink(cfg.Transcripts.Dir)
		if err != nil {
			return nil, fmt.Errorf("app: init transcript sink: %w", err)
		}
		a.sink = sink
	}

	// ── 6. Receiver ──────────────────────────────────────────────────────
	rcfg := receiver.Config{
		Stream:      cfg.Audio.StreamConfig(),
		Detector:    cfg.Audio.DetectorConfig(),
		QueueSize:   cfg.Audio.QueueSize,
		BackendName: cfg.Transcription.Backend,
		LevelCheck:  a.levelCheck,
	}
	if cfg.Debug.Enabled {
		rcfg.DebugDir = cfg.Debug.Dir
	}
	recv, err := receiver.New(rcfg, a.source, a.backend, a.sink,
		receiver.WithMetrics(m),
		receiver.WithCorrector(corrector),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init receiver: %w", err)
	}
	a.recv = recv
	a.closers = append(a.closers, recv.Stop)

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	a.server = a.buildServer()

	return a, nil
}

// buildServer assembles the metrics/health/stats endpoint with tracing and
// request metrics applied to every route.
func (a *App) buildServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /stats", a.handleStats)

	h := health.New(a.version,
		health.Checker{Name: "receiver", Check: func(context.Context) error {
			if !a.recv.Running() {
				return errors.New("not running")
			}
			return nil
		}},
	)
	h.Register(mux)

	return &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// handleStats serves the receiver's pipeline counters as JSON.
func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.recv.Stats()); err != nil {
		slog.Warn("stats encode failed", "err", err)
	}
}

// Run starts the capture pipeline and the HTTP surface, then blocks until
// ctx is cancelled or a component fails. The receiver keeps running after
// Run returns; Shutdown stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.recv.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http endpoint listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		return a.server.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown stops the capture pipeline and releases all resources acquired by
// New. Safe to call more than once; only the first call does work. ctx bounds
// the teardown: once it expires, remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		for _, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("app: shutdown interrupted: %w", err)
				}
				return
			}
			if err := closer(); err != nil {
				slog.Warn("shutdown closer failed", "err", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	})
	return firstErr
}

// Stats exposes the receiver's counters for the startup summary and tests.
func (a *App) Stats() receiver.Snapshot {
	return a.recv.Stats()
}

// Command launch-control captures microphone audio, segments it into
// utterances with an RMS voice-activity detector and transcribes each
// utterance through a configurable speech-to-text backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmcdice/launch-control/internal/app"
	"github.com/jmcdice/launch-control/internal/config"
	"github.com/jmcdice/launch-control/internal/observe"
	"github.com/jmcdice/launch-control/pkg/transcribe"
)

// version is stamped at build time via -ldflags "-X main.version=v1.2.3".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "force debug logging regardless of the configured level")
	showVersion := flag.Bool("version", false, "print the version and exit")
	listBackends := flag.Bool("list-backends", false, "print the linked transcription backends and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("launch-control %s\n", version)
		return 0
	}
	if *listBackends {
		for _, name := range transcribe.Backends() {
			fmt.Println(name)
		}
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "launch-control: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "launch-control: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := cfg.LogLevel.Level()
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("launch-control starting",
		"version", version,
		"config", *configPath,
		"backend", cfg.Transcription.Backend,
		"listen_addr", cfg.ListenAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.Setup(ctx, observe.Options{
		Service: "launch-control",
		Version: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       launch-control  startup         ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	backend := cfg.Transcription.Backend
	if cfg.Transcription.Model != "" {
		backend += " / " + cfg.Transcription.Model
	}
	printRow("Backend", backend)
	printRow("Device", cfg.Audio.Device)
	printRow("Capture", fmt.Sprintf("%d Hz, %d ch", cfg.Audio.SampleRate, cfg.Audio.Channels))
	printRow("Trigger RMS", fmt.Sprintf("%g", cfg.Audio.Threshold))
	printRow("Listen addr", cfg.ListenAddr)
	if cfg.Debug.Enabled {
		printRow("Debug capture", cfg.Debug.Dir)
	} else {
		printRow("Debug capture", "(disabled)")
	}
	if cfg.Transcripts.Dir != "" {
		printRow("Transcript log", cfg.Transcripts.Dir)
	} else {
		printRow("Transcript log", "(console only)")
	}
	if n := len(cfg.Transcription.Vocabulary); n > 0 {
		printRow("Vocabulary", fmt.Sprintf("%d terms", n))
	} else {
		printRow("Vocabulary", "(none)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 20 {
		value = value[:19] + "…"
	}
	fmt.Printf("║  %-14s: %-20s ║\n", label, value)
}

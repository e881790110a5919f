package receiver_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmcdice/launch-control/internal/receiver"
	"github.com/jmcdice/launch-control/internal/segment"
	"github.com/jmcdice/launch-control/internal/transcript"
	"github.com/jmcdice/launch-control/pkg/audio"
	audiomock "github.com/jmcdice/launch-control/pkg/audio/mock"
	"github.com/jmcdice/launch-control/pkg/transcribe"
	backendmock "github.com/jmcdice/launch-control/pkg/transcribe/mock"
)

const (
	testSampleRate = 16000
	testFrameLen   = 1600 // 100ms per frame
)

func testConfig() receiver.Config {
	return receiver.Config{
		Stream: audio.StreamConfig{
			SampleRate: testSampleRate,
			Channels:   1,
			FrameLen:   testFrameLen,
		},
		Detector: segment.Config{
			SampleRate:       testSampleRate,
			Channels:         1,
			FrameLen:         testFrameLen,
			Threshold:        0.01,
			SilenceThreshold: 200 * time.Millisecond,
			MinDuration:      200 * time.Millisecond,
			MaxDuration:      5 * time.Second,
		},
		QueueSize:   4,
		BackendName: "mock",
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func frameAt(level float32) audio.Frame {
	samples := make([]float32, testFrameLen)
	for i := range samples {
		samples[i] = level
	}
	return audio.Frame{Samples: samples, SampleRate: testSampleRate, Channels: 1}
}

// emitUtterance pushes enough speech and trailing silence through the source
// to complete exactly one utterance: three frames above threshold, then two
// below to satisfy the silence run.
func emitUtterance(src *audiomock.Source) {
	for i := 0; i < 3; i++ {
		src.Emit(frameAt(0.1), 0)
	}
	for i := 0; i < 2; i++ {
		src.Emit(frameAt(0), 0)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	backend := &backendmock.Backend{}
	sink := func(context.Context, string) error { return nil }

	if _, err := receiver.New(testConfig(), nil, backend, sink); err == nil {
		t.Error("nil source: want error")
	}
	if _, err := receiver.New(testConfig(), src, nil, sink); err == nil {
		t.Error("nil backend: want error")
	}
	if _, err := receiver.New(testConfig(), src, backend, nil); err == nil {
		t.Error("nil sink: want error")
	}

	cfg := testConfig()
	cfg.QueueSize = 0
	if _, err := receiver.New(cfg, src, backend, sink); err == nil {
		t.Error("zero queue size: want error")
	}

	cfg = testConfig()
	cfg.Detector.Threshold = 0
	if _, err := receiver.New(cfg, src, backend, sink); err == nil {
		t.Error("invalid detector config: want error")
	}
}

func TestController_StartStopLifecycle(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	backend := &backendmock.Backend{}
	sink := func(context.Context, string) error { return nil }

	c, err := receiver.New(testConfig(), src, backend, sink, receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c.Running() {
		t.Error("Running before Start = true, want false")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Running() {
		t.Error("Running after Start = false, want true")
	}
	if backend.InitializeCallCount != 1 {
		t.Errorf("InitializeCallCount = %d, want 1", backend.InitializeCallCount)
	}
	if len(src.OpenCalls) != 1 {
		t.Fatalf("OpenCalls = %d, want 1", len(src.OpenCalls))
	}
	if got := src.OpenCalls[0].Config.SampleRate; got != testSampleRate {
		t.Errorf("opened sample rate = %d, want %d", got, testSampleRate)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.Running() {
		t.Error("Running after Stop = true, want false")
	}
	if !src.LastStream().Closed() {
		t.Error("stream not closed after Stop")
	}
	if backend.CleanupCallCount != 1 {
		t.Errorf("CleanupCallCount = %d, want 1", backend.CleanupCallCount)
	}
}

func TestController_SecondStartFails(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	backend := &backendmock.Backend{}
	c, err := receiver.New(testConfig(), src, backend,
		func(context.Context, string) error { return nil },
		receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start: want error, got nil")
	}
}

func TestController_BackendInitFailure(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	backend := &backendmock.Backend{InitializeErr: errors.New("service unreachable")}
	c, err := receiver.New(testConfig(), src, backend,
		func(context.Context, string) error { return nil },
		receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.Start(context.Background())
	if err == nil {
		t.Fatal("Start: want error, got nil")
	}
	if !errors.Is(err, receiver.ErrStartup) {
		t.Errorf("error %v does not wrap ErrStartup", err)
	}
	if len(src.OpenCalls) != 0 {
		t.Errorf("stream opened despite backend failure: %d calls", len(src.OpenCalls))
	}
	if c.Running() {
		t.Error("Running after failed Start = true, want false")
	}
	// Stop after a failed Start must be a no-op.
	if err := c.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestController_ConfigurationErrorPassesThrough(t *testing.T) {
	t.Parallel()

	backend := &backendmock.Backend{
		InitializeErr: fmt.Errorf("chirp: %w", transcribe.ErrConfiguration),
	}
	c, err := receiver.New(testConfig(), &audiomock.Source{}, backend,
		func(context.Context, string) error { return nil },
		receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.Start(context.Background())
	if !errors.Is(err, transcribe.ErrConfiguration) {
		t.Errorf("error %v does not wrap transcribe.ErrConfiguration", err)
	}
	if errors.Is(err, receiver.ErrStartup) {
		t.Errorf("configuration error %v should not wrap ErrStartup", err)
	}
}

func TestController_StreamOpenFailureRollsBack(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{OpenError: errors.New("device busy")}
	backend := &backendmock.Backend{}
	c, err := receiver.New(testConfig(), src, backend,
		func(context.Context, string) error { return nil },
		receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.Start(context.Background())
	if !errors.Is(err, receiver.ErrStartup) {
		t.Errorf("error %v does not wrap ErrStartup", err)
	}
	if backend.CleanupCallCount != 1 {
		t.Errorf("CleanupCallCount = %d, want 1 (rollback)", backend.CleanupCallCount)
	}
	if c.Running() {
		t.Error("Running after failed Start = true, want false")
	}
}

func TestController_StopBeforeStart(t *testing.T) {
	t.Parallel()

	backend := &backendmock.Backend{}
	c, err := receiver.New(testConfig(), &audiomock.Source{}, backend,
		func(context.Context, string) error { return nil },
		receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
	if backend.CleanupCallCount != 0 {
		t.Errorf("CleanupCallCount = %d, want 0", backend.CleanupCallCount)
	}
}

func TestController_StopIdempotent(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	backend := &backendmock.Backend{}
	c, err := receiver.New(testConfig(), src, backend,
		func(context.Context, string) error { return nil },
		receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if backend.CleanupCallCount != 1 {
		t.Errorf("CleanupCallCount = %d, want 1", backend.CleanupCallCount)
	}
}

func TestPipeline_TranscribesUtteranceToSink(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	backend := &backendmock.Backend{
		Results: []*transcribe.Result{{Text: "  go for launch  "}},
	}
	texts := make(chan string, 1)
	sink := func(_ context.Context, text string) error {
		texts <- text
		return nil
	}

	c, err := receiver.New(testConfig(), src, backend, sink, receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	emitUtterance(src)

	select {
	case got := <-texts:
		if got != "go for launch" {
			t.Errorf("sink text = %q, want %q", got, "go for launch")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink was never called")
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap := c.Stats()
	if snap.Detected != 1 {
		t.Errorf("Detected = %d, want 1", snap.Detected)
	}
	if snap.Transcribed != 1 {
		t.Errorf("Transcribed = %d, want 1", snap.Transcribed)
	}
	if snap.Frames != 5 {
		t.Errorf("Frames = %d, want 5", snap.Frames)
	}
}

func TestPipeline_EmptyResultsSkipSink(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	// First utterance yields whitespace, second exhausts the script and
	// returns (nil, nil). Neither may reach the sink.
	backend := &backendmock.Backend{
		Results: []*transcribe.Result{{Text: "   "}},
	}
	var sinkCalls atomic.Int32
	sink := func(context.Context, string) error {
		sinkCalls.Add(1)
		return nil
	}

	c, err := receiver.New(testConfig(), src, backend, sink, receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	emitUtterance(src)
	emitUtterance(src)
	waitFor(t, func() bool { return backend.TranscribeCallCount() == 2 }, "both transcriptions")

	// Stop waits for in-flight processing, so sink counts are final after it.
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := sinkCalls.Load(); n != 0 {
		t.Errorf("sink called %d times, want 0", n)
	}
	snap := c.Stats()
	if snap.Empty != 2 {
		t.Errorf("Empty = %d, want 2", snap.Empty)
	}
	if snap.Transcribed != 0 {
		t.Errorf("Transcribed = %d, want 0", snap.Transcribed)
	}
}

func TestPipeline_TranscriptionErrorContinues(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	var calls atomic.Int32
	backend := &backendmock.Backend{
		TranscribeFunc: func(context.Context, audio.Utterance) (*transcribe.Result, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("backend unavailable")
			}
			return &transcribe.Result{Text: "nominal"}, nil
		},
	}
	texts := make(chan string, 1)
	sink := func(_ context.Context, text string) error {
		texts <- text
		return nil
	}

	c, err := receiver.New(testConfig(), src, backend, sink, receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	emitUtterance(src)
	emitUtterance(src)

	select {
	case got := <-texts:
		if got != "nominal" {
			t.Errorf("sink text = %q, want %q", got, "nominal")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not survive the transcription error")
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap := c.Stats()
	if snap.Failures != 1 {
		t.Errorf("Failures = %d, want 1", snap.Failures)
	}
	if snap.Transcribed != 1 {
		t.Errorf("Transcribed = %d, want 1", snap.Transcribed)
	}
}

func TestPipeline_QueueFullDropsUtterance(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	release := make(chan struct{})
	backend := &backendmock.Backend{
		TranscribeFunc: func(context.Context, audio.Utterance) (*transcribe.Result, error) {
			<-release
			return nil, nil
		},
	}

	cfg := testConfig()
	cfg.QueueSize = 1
	c, err := receiver.New(cfg, src, backend,
		func(context.Context, string) error { return nil },
		receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First utterance is dequeued and parks inside the backend, leaving the
	// queue empty. The second fills the single slot. The third must drop.
	emitUtterance(src)
	waitFor(t, func() bool { return backend.TranscribeCallCount() == 1 }, "first dequeue")
	emitUtterance(src)
	emitUtterance(src)

	if got := c.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if got := c.Stats().Detected; got != 3 {
		t.Errorf("Detected = %d, want 3", got)
	}

	close(release)
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPipeline_CorrectorApplied(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	backend := &backendmock.Backend{
		Results: []*transcribe.Result{{Text: "passing maks q"}},
	}
	texts := make(chan string, 1)
	sink := func(_ context.Context, text string) error {
		texts <- text
		return nil
	}

	corr := transcript.NewCorrector([]string{"Max Q", "Starhopper"})
	c, err := receiver.New(testConfig(), src, backend, sink,
		receiver.WithLogger(quietLogger()),
		receiver.WithCorrector(corr))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	emitUtterance(src)

	select {
	case got := <-texts:
		if got != "passing Max Q" {
			t.Errorf("sink text = %q, want %q", got, "passing Max Q")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink was never called")
	}
}

func TestPipeline_WritesDebugArtifacts(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	backend := &backendmock.Backend{
		Results: []*transcribe.Result{{Text: "telemetry nominal"}},
	}
	texts := make(chan string, 1)
	sink := func(_ context.Context, text string) error {
		texts <- text
		return nil
	}

	cfg := testConfig()
	cfg.DebugDir = t.TempDir()
	c, err := receiver.New(cfg, src, backend, sink, receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	emitUtterance(src)
	select {
	case <-texts:
	case <-time.After(2 * time.Second):
		t.Fatal("sink was never called")
	}
	// Stop waits for the drain loop, and the debug write happens before the
	// loop moves on, so artifacts are on disk once Stop returns.
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	wavs, err := filepath.Glob(filepath.Join(cfg.DebugDir, "audio_*.wav"))
	if err != nil || len(wavs) != 1 {
		t.Fatalf("audio artifacts = %v (err %v), want exactly one", wavs, err)
	}
	wav, err := os.ReadFile(wavs[0])
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if len(wav) <= 44 || string(wav[:4]) != "RIFF" {
		t.Errorf("wav artifact malformed: %d bytes, prefix %q", len(wav), wav[:4])
	}

	txts, err := filepath.Glob(filepath.Join(cfg.DebugDir, "trans_*.txt"))
	if err != nil || len(txts) != 1 {
		t.Fatalf("transcript artifacts = %v (err %v), want exactly one", txts, err)
	}
	text, err := os.ReadFile(txts[0])
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if got := strings.TrimSpace(string(text)); got != "telemetry nominal" {
		t.Errorf("transcript artifact = %q, want %q", got, "telemetry nominal")
	}
}

func TestController_LevelCheckProbesBeforeMainStream(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	backend := &backendmock.Backend{}
	cfg := testConfig()
	cfg.LevelCheck = 50 * time.Millisecond

	c, err := receiver.New(cfg, src, backend,
		func(context.Context, string) error { return nil },
		receiver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()

	// Feed the probe stream enough samples to satisfy the 50ms target.
	waitFor(t, func() bool { return src.LastStream() != nil }, "probe stream")
	src.Emit(frameAt(0.05), 0)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
	defer c.Stop()

	if len(src.Streams) != 2 {
		t.Fatalf("streams opened = %d, want 2 (probe + capture)", len(src.Streams))
	}
	if !src.Streams[0].Closed() {
		t.Error("probe stream left open")
	}
	if src.Streams[1].Closed() {
		t.Error("capture stream closed prematurely")
	}
}

func TestController_CaptureStatusWarningRateLimited(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	src := &audiomock.Source{}
	backend := &backendmock.Backend{}
	c, err := receiver.New(testConfig(), src, backend,
		func(context.Context, string) error { return nil },
		receiver.WithLogger(log))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	// Two flagged frames in quick succession must produce a single warning;
	// the second lands inside the rate-limit window.
	src.Emit(frameAt(0), audio.StatusInputOverflow)
	src.Emit(frameAt(0), audio.StatusInputOverflow)

	if got := strings.Count(buf.String(), "audio stream status"); got != 1 {
		t.Errorf("status warnings logged = %d, want 1\nlog:\n%s", got, buf.String())
	}
	if !strings.Contains(buf.String(), "INPUT_OVERFLOW") {
		t.Errorf("warning does not name the status flag:\n%s", buf.String())
	}
}

// Package ffmpeg provides an [audio.Source] backed by an ffmpeg child process
// reading from an OS capture device.
//
// ffmpeg opens the device with the configured capture demuxer (alsa, pulse,
// avfoundation, dshow, …), decodes to raw 16-bit signed little-endian PCM on
// stdout, and this package slices that byte stream into fixed-length
// normalised frames delivered on a dedicated goroutine. Running capture
// through a child process keeps the binary free of CGO audio bindings while
// supporting every platform ffmpeg does.
//
// Usage:
//
//	src := ffmpeg.New(ffmpeg.WithCaptureFormat("alsa"))
//	stream, err := src.Open(ctx, audio.StreamConfig{
//	    SampleRate: 16000, Channels: 1, FrameLen: 1600, Device: "default",
//	}, onFrame)
//	defer stream.Close()
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/jmcdice/launch-control/pkg/audio"
)

const (
	defaultBinary = "ffmpeg"

	// defaultCaptureFormat is the ffmpeg input demuxer used when none is
	// configured. "alsa" covers the common Linux deployment; macOS needs
	// "avfoundation", Windows "dshow".
	defaultCaptureFormat = "alsa"
)

// Compile-time assertion that Source implements audio.Source.
var _ audio.Source = (*Source)(nil)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithBinary sets the path of the ffmpeg executable. Defaults to "ffmpeg"
// resolved via PATH.
func WithBinary(path string) Option {
	return func(s *Source) {
		s.binary = path
	}
}

// WithCaptureFormat sets the ffmpeg input demuxer used to open the capture
// device (e.g., "alsa", "pulse", "avfoundation", "dshow"). Defaults to "alsa".
func WithCaptureFormat(format string) Option {
	return func(s *Source) {
		s.format = format
	}
}

// WithLogger sets the logger used for capture diagnostics. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Source) {
		s.log = log
	}
}

// Source implements audio.Source by spawning one ffmpeg process per opened
// stream. Multiple streams may be open simultaneously as long as the OS
// allows concurrent access to the selected devices.
type Source struct {
	binary string
	format string
	log    *slog.Logger
}

// New creates an ffmpeg-backed Source. Functional options may be provided to
// override defaults.
func New(opts ...Option) *Source {
	s := &Source{
		binary: defaultBinary,
		format: defaultCaptureFormat,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open implements audio.Source. It starts the capture process and launches
// the frame-delivery goroutine. Cancelling ctx closes the stream as if Close
// had been called.
func (s *Source) Open(ctx context.Context, cfg audio.StreamConfig, cb audio.FrameCallback) (audio.Stream, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.FrameLen <= 0 {
		return nil, fmt.Errorf("ffmpeg: invalid stream config: rate=%d channels=%d frameLen=%d",
			cfg.SampleRate, cfg.Channels, cfg.FrameLen)
	}
	if cb == nil {
		return nil, errors.New("ffmpeg: frame callback must not be nil")
	}

	device := cfg.Device
	if device == "" {
		device = "default"
	}

	args := []string{
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-f", s.format,
		"-i", device,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprintf("%d", cfg.Channels),
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-flush_packets", "1",
		"pipe:1",
	}

	cmd := exec.Command(s.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start capture process: %w", err)
	}

	s.log.Debug("capture process started",
		"binary", s.binary,
		"format", s.format,
		"device", device,
		"sampleRate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frameLen", cfg.FrameLen,
	)

	st := &stream{
		cfg:    cfg,
		cb:     cb,
		cmd:    cmd,
		stdout: stdout,
		log:    s.log,
		done:   make(chan struct{}),
	}

	st.wg.Add(1)
	go st.readLoop()

	// Tie the stream lifetime to ctx without making the read loop poll it.
	go func() {
		select {
		case <-ctx.Done():
			_ = st.Close()
		case <-st.done:
		}
	}()

	return st, nil
}

// stream is a live ffmpeg capture session. All frame parsing state is
// confined to the readLoop goroutine.
type stream struct {
	cfg    audio.StreamConfig
	cb     audio.FrameCallback
	cmd    *exec.Cmd
	stdout io.ReadCloser
	log    *slog.Logger

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Close implements audio.Stream. It kills the capture process, which unblocks
// the read loop, and waits for delivery to finish. Calling Close more than
// once is safe and returns nil.
func (st *stream) Close() error {
	st.once.Do(func() {
		close(st.done)
		// Killing the process closes the pipe and unblocks ReadFull. Exit
		// status errors are expected here and not reported.
		if st.cmd.Process != nil {
			_ = st.cmd.Process.Kill()
		}
		_ = st.cmd.Wait()
		st.wg.Wait()
	})
	return nil
}

// readLoop slices the process stdout into fixed-length frames and delivers
// them to the callback. The sample buffer is reused between invocations, so
// the callback must copy anything it retains.
func (st *stream) readLoop() {
	defer st.wg.Done()
	st.run(st.stdout)
}

// run contains the parsing logic, separated from process plumbing so that
// tests can feed it an arbitrary byte stream.
func (st *stream) run(r io.Reader) {
	frameSamples := st.cfg.FrameLen * st.cfg.Channels
	frameBytes := frameSamples * 2
	frameDur := time.Duration(st.cfg.FrameLen) * time.Second / time.Duration(st.cfg.SampleRate)

	raw := make([]byte, frameBytes)
	samples := make([]float32, frameSamples)

	var elapsed time.Duration
	for {
		n, err := io.ReadFull(r, raw)
		if err != nil {
			if n > 0 {
				// Trailing partial frame: pad with silence and flag it.
				for i := n; i < frameBytes; i++ {
					raw[i] = 0
				}
				audio.DecodePCM16Into(samples, raw)
				st.deliver(samples, elapsed, audio.StatusInputUnderflow)
			}
			select {
			case <-st.done:
				// Expected: Close killed the process.
			default:
				st.log.Warn("capture stream ended", "error", err, "captured", elapsed.String())
			}
			return
		}

		audio.DecodePCM16Into(samples, raw)
		st.deliver(samples, elapsed, 0)
		elapsed += frameDur
	}
}

func (st *stream) deliver(samples []float32, ts time.Duration, status audio.StreamStatus) {
	select {
	case <-st.done:
		return
	default:
	}
	st.cb(audio.Frame{
		Samples:    samples,
		SampleRate: st.cfg.SampleRate,
		Channels:   st.cfg.Channels,
		Timestamp:  ts,
	}, status)
}

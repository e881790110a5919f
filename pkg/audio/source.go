// Package audio defines the capture capability and sample-level primitives for
// the launch-control voice pipeline.
//
// The two primary abstractions are:
//
//   - [Source] — opens an input device and returns a [Stream].
//   - [Stream] — an active capture session delivering fixed-length [Frame]
//     values to a registered callback until closed.
//
// Implementations of these interfaces are provided by device-specific adapter
// packages (e.g., audio/ffmpeg for OS capture devices, audio/mock for tests).
// The interfaces carry no driver details, so the receiver never needs to
// know what is behind them.
//
// This package lives under pkg/ because external code (alternative capture
// adapters) is expected to implement [Source] and [Stream].
package audio

import "context"

// StreamStatus carries driver-side anomaly flags delivered alongside each
// frame. A zero value means the frame arrived cleanly; any set bit indicates
// a capture problem worth logging, though the frame itself is still usable.
type StreamStatus uint8

const (
	// StatusInputOverflow indicates the driver dropped input data because the
	// callback did not keep up.
	StatusInputOverflow StreamStatus = 1 << iota

	// StatusInputUnderflow indicates the driver delivered fewer samples than a
	// full frame (padded with silence).
	StatusInputUnderflow
)

// String returns the human-readable names of the set status flags, or "OK"
// when none are set.
func (s StreamStatus) String() string {
	if s == 0 {
		return "OK"
	}
	out := ""
	if s&StatusInputOverflow != 0 {
		out += "INPUT_OVERFLOW"
	}
	if s&StatusInputUnderflow != 0 {
		if out != "" {
			out += "|"
		}
		out += "INPUT_UNDERFLOW"
	}
	return out
}

// FrameCallback receives captured frames from a [Stream]. It is invoked on the
// stream's internal delivery goroutine at the frame cadence — it must not
// block, perform I/O, or allocate unboundedly, since stalling it stalls
// capture and overflows the device buffer. The frame's sample slice is only
// valid for the duration of the call.
type FrameCallback func(frame Frame, status StreamStatus)

// StreamConfig describes the capture format requested from a [Source].
type StreamConfig struct {
	// SampleRate is the capture sample rate in Hz. Common values: 16000, 44100, 48000.
	SampleRate int

	// Channels is the number of capture channels. 1 = mono (the usual choice
	// for speech pipelines).
	Channels int

	// FrameLen is the number of samples per channel delivered per callback
	// invocation. At 44100 Hz a FrameLen of 4410 yields one frame every 100 ms.
	FrameLen int

	// Device selects the input device. The value is interpreted by the
	// concrete Source (an ALSA name, an AVFoundation index, "default", …).
	Device string
}

// Stream represents an active capture session obtained from [Source.Open].
// Frames flow to the registered callback until Close is called or the open
// context is cancelled.
type Stream interface {
	// Close stops capture, releases the underlying device, and waits for the
	// delivery goroutine to finish. After Close returns no further callback
	// invocations occur. Calling Close more than once is safe and returns nil.
	Close() error
}

// Source is the entry point for an audio capture provider. Implementations
// wrap a concrete capture mechanism (an ffmpeg child process, a test script)
// and expose the uniform [Stream] abstraction.
//
// Implementations must be safe for concurrent use; multiple streams may be
// open simultaneously unless the underlying device forbids it.
type Source interface {
	// Open starts capturing with the given format and begins delivering frames
	// to cb. The supplied ctx governs the lifetime of the stream: cancelling it
	// stops delivery as if Close had been called. The caller owns the returned
	// Stream and must call Close when done.
	//
	// Returns an error if the device cannot be opened (unknown selector,
	// device busy, capture process failed to start, …).
	Open(ctx context.Context, cfg StreamConfig, cb FrameCallback) (Stream, error)
}

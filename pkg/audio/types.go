package audio

import "time"

// Frame represents a single fixed-length frame of captured audio flowing
// through the pipeline. Samples are signed amplitudes normalised to [-1, 1],
// interleaved when Channels > 1. Frames are the atomic unit of transport —
// produced by a [Source], analysed per frame by the segment detector.
//
// The sample slice may be reused by the producing stream after the frame
// callback returns; consumers that retain audio must copy it.
type Frame struct {
	// Samples holds the normalised amplitude values, Channels-interleaved.
	Samples []float32

	// SampleRate in Hz (e.g., 44100 for default capture, 16000 for STT-optimised input).
	SampleRate int

	// Channels: 1 for mono (the usual capture configuration), 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time covered by the frame. Returns 0 when the
// frame carries no format information.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samplesPerChannel := len(f.Samples) / f.Channels
	return time.Duration(samplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// Utterance is one complete detected speech segment: a contiguous sample
// sequence from onset (pre-roll included) to end-of-speech or max-duration
// cutoff. Ownership transfers with the value — once handed off, the producer
// retains no reference and never mutates it.
type Utterance struct {
	// Samples holds the full segment, Channels-interleaved, in [-1, 1].
	Samples []float32

	// SampleRate in Hz of the captured audio.
	SampleRate int

	// Channels of the captured audio. 1 for mono.
	Channels int
}

// Duration returns the play time covered by the utterance. Returns 0 when the
// utterance carries no format information.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 || u.Channels <= 0 {
		return 0
	}
	samplesPerChannel := len(u.Samples) / u.Channels
	return time.Duration(samplesPerChannel) * time.Second / time.Duration(u.SampleRate)
}

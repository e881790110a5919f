// Package segment implements the voice-activity segmentation state machine
// that turns a continuous stream of audio frames into discrete utterances.
//
// The detector is a two-state machine (Idle, Recording) driven by per-frame
// RMS energy against a fixed threshold, with temporal hysteresis: recording
// starts the moment a frame exceeds the threshold and stops only after a
// configured run of silence (or a hard maximum duration), and never before a
// configured minimum duration has accumulated. A segment whose above-threshold
// time never reaches the minimum is discarded as noise once the silence run
// confirms it ended, so keyboard clicks and door slams do not produce
// utterances. A rolling pre-roll buffer of recent frames is prepended to each
// utterance so that the onset of speech is not clipped.
//
// ProcessFrame is synchronous and designed for the capture callback path: it
// never blocks, performs no I/O, and allocates only the bounded copies it
// retains. A Detector is owned by a single goroutine; it is not safe for
// concurrent use.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcdice/launch-control/pkg/audio"
)

// State enumerates the detector's segmentation states.
type State int

const (
	// StateIdle means no speech is being captured; frames only feed the
	// pre-roll buffer.
	StateIdle State = iota

	// StateRecording means an utterance is being assembled.
	StateRecording
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	default:
		return "UNKNOWN"
	}
}

// Config holds the fixed parameters of a Detector. Thresholds and durations
// are resolved once at construction and never recomputed; there is no
// adaptive gain.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the incoming frames.
	SampleRate int

	// Channels is the channel count of the incoming frames. 1 for mono.
	Channels int

	// FrameLen is the nominal samples-per-channel per frame, used to size the
	// pre-roll buffer in whole frames.
	FrameLen int

	// Threshold is the RMS level above which a frame counts as speech, on the
	// normalised [0, 1] amplitude scale. Typical: 0.005–0.01.
	Threshold float64

	// SilenceThreshold is the run of consecutive silence that ends an
	// utterance once MinDuration has been met.
	SilenceThreshold time.Duration

	// MinDuration is the hard floor of accumulated recording time before any
	// utterance may complete, however the completion condition is met. It
	// doubles as the noise gate: a segment whose above-threshold time stays
	// under MinDuration is dropped instead of emitted.
	MinDuration time.Duration

	// MaxDuration forces utterance completion once this much audio has
	// accumulated, regardless of continued speech.
	MaxDuration time.Duration

	// PreRoll is the amount of pre-onset audio retained and prepended to each
	// utterance.
	PreRoll time.Duration
}

// Detector is the VAD/hysteresis state machine. All state is owned by the
// goroutine calling ProcessFrame.
type Detector struct {
	cfg Config
	log *slog.Logger

	state State

	// preRoll is a ring of the most recent frame copies, capacity
	// preRollCap frames; index zero is the oldest.
	preRoll    [][]float32
	preRollCap int

	recording   []float32
	accumulated time.Duration
	silence     time.Duration
	speech      time.Duration
}

// New creates a Detector for the given configuration. log may be nil, in
// which case slog.Default() is used.
func New(cfg Config, log *slog.Logger) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("segment: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("segment: channels must be positive, got %d", cfg.Channels)
	}
	if cfg.FrameLen <= 0 {
		return nil, fmt.Errorf("segment: frame length must be positive, got %d", cfg.FrameLen)
	}
	if cfg.Threshold <= 0 {
		return nil, errors.New("segment: threshold must be positive")
	}
	if cfg.SilenceThreshold < 0 || cfg.MinDuration < 0 || cfg.MaxDuration < 0 || cfg.PreRoll < 0 {
		return nil, errors.New("segment: durations must not be negative")
	}
	if log == nil {
		log = slog.Default()
	}

	// Pre-roll capacity in whole frames, rounded up so the configured
	// duration is always covered.
	preRollSamples := int(cfg.PreRoll * time.Duration(cfg.SampleRate) / time.Second)
	preRollCap := (preRollSamples + cfg.FrameLen - 1) / cfg.FrameLen

	return &Detector{
		cfg:        cfg,
		log:        log,
		preRoll:    make([][]float32, 0, preRollCap),
		preRollCap: preRollCap,
	}, nil
}

// State returns the current segmentation state.
func (d *Detector) State() State {
	return d.state
}

// Reset clears the pre-roll buffer and any in-progress utterance and returns
// the detector to Idle. Use this when the capture stream is interrupted or
// restarted so stale audio does not bleed into the next segment.
func (d *Detector) Reset() {
	d.state = StateIdle
	d.preRoll = d.preRoll[:0]
	d.recording = nil
	d.accumulated = 0
	d.silence = 0
	d.speech = 0
}

// ProcessFrame advances the state machine by one frame. It returns a
// finalized utterance and true when this frame completed a segment; ownership
// of the returned utterance transfers to the caller and the detector retains
// no reference to it.
//
// The frame's sample slice is copied where retained, so callers may reuse it.
func (d *Detector) ProcessFrame(frame audio.Frame) (audio.Utterance, bool) {
	rms := audio.RMS(frame.Samples)
	frameDur := frame.Duration()

	// Every frame enters the pre-roll ring, whatever the state.
	d.pushPreRoll(frame.Samples)

	switch d.state {
	case StateIdle:
		if rms > d.cfg.Threshold {
			d.startRecording(rms, frameDur)
		}
		return audio.Utterance{}, false

	case StateRecording:
		d.recording = append(d.recording, frame.Samples...)
		d.accumulated += frameDur
		if rms <= d.cfg.Threshold {
			d.silence += frameDur
		} else {
			d.silence = 0
			d.speech += frameDur
		}

		// The silence run has confirmed the segment ended, but it never
		// carried enough speech to count as an utterance.
		if d.silence >= d.cfg.SilenceThreshold && d.speech < d.cfg.MinDuration {
			d.discard()
			return audio.Utterance{}, false
		}

		if d.accumulated >= d.cfg.MinDuration &&
			(d.silence >= d.cfg.SilenceThreshold || d.accumulated >= d.cfg.MaxDuration) {
			return d.stopRecording(), true
		}
		return audio.Utterance{}, false
	}

	return audio.Utterance{}, false
}

// startRecording seeds the utterance buffer with the pre-roll contents in
// temporal order. The frame that triggered the transition is already in the
// ring, so it is included exactly once. The accumulated counter starts at
// zero: pre-roll audio does not count toward the minimum or maximum duration.
// The speech counter starts at one frame, crediting the trigger frame.
func (d *Detector) startRecording(rms float64, frameDur time.Duration) {
	d.state = StateRecording
	d.accumulated = 0
	d.silence = 0
	d.speech = frameDur

	total := 0
	for _, f := range d.preRoll {
		total += len(f)
	}
	d.recording = make([]float32, 0, total)
	for _, f := range d.preRoll {
		d.recording = append(d.recording, f...)
	}

	d.log.Debug("recording started", "rms", rms, "preRollFrames", len(d.preRoll))
}

// stopRecording finalizes the current utterance and returns to Idle.
func (d *Detector) stopRecording() audio.Utterance {
	u := audio.Utterance{
		Samples:    d.recording,
		SampleRate: d.cfg.SampleRate,
		Channels:   d.cfg.Channels,
	}
	d.recording = nil
	d.state = StateIdle

	d.log.Debug("recording stopped",
		"duration", d.accumulated.String(),
		"silence", d.silence.String(),
		"utterance", u.Duration().String(),
	)
	return u
}

// discard drops the current segment without emitting and returns to Idle.
// The pre-roll ring is left intact; it already holds the most recent frames.
func (d *Detector) discard() {
	d.log.Debug("segment discarded as noise",
		"speech", d.speech.String(),
		"minDuration", d.cfg.MinDuration.String(),
	)
	d.recording = nil
	d.state = StateIdle
	d.accumulated = 0
	d.silence = 0
	d.speech = 0
}

// pushPreRoll appends a copy of samples to the ring, evicting the oldest
// frame beyond capacity. The evicted slot's backing array is reused when it
// fits, keeping steady-state allocation per frame at zero.
func (d *Detector) pushPreRoll(samples []float32) {
	if d.preRollCap == 0 {
		return
	}
	if len(d.preRoll) < d.preRollCap {
		cp := make([]float32, len(samples))
		copy(cp, samples)
		d.preRoll = append(d.preRoll, cp)
		return
	}

	evicted := d.preRoll[0]
	copy(d.preRoll, d.preRoll[1:])
	if cap(evicted) >= len(samples) {
		evicted = evicted[:len(samples)]
		copy(evicted, samples)
	} else {
		evicted = make([]float32, len(samples))
		copy(evicted, samples)
	}
	d.preRoll[len(d.preRoll)-1] = evicted
}

package audio_test

import (
	"testing"
	"time"

	"github.com/jmcdice/launch-control/pkg/audio"
)

func TestFrameDuration(t *testing.T) {
	mono := audio.Frame{Samples: make([]float32, 1600), SampleRate: 16000, Channels: 1}
	if got := mono.Duration(); got != 100*time.Millisecond {
		t.Errorf("mono frame: got %v, want 100ms", got)
	}

	stereo := audio.Frame{Samples: make([]float32, 3200), SampleRate: 16000, Channels: 2}
	if got := stereo.Duration(); got != 100*time.Millisecond {
		t.Errorf("stereo frame: got %v, want 100ms", got)
	}

	var zero audio.Frame
	if got := zero.Duration(); got != 0 {
		t.Errorf("zero frame: got %v, want 0", got)
	}
}

func TestUtteranceDuration(t *testing.T) {
	u := audio.Utterance{Samples: make([]float32, 44100), SampleRate: 44100, Channels: 1}
	if got := u.Duration(); got != time.Second {
		t.Errorf("got %v, want 1s", got)
	}

	var zero audio.Utterance
	if got := zero.Duration(); got != 0 {
		t.Errorf("zero utterance: got %v, want 0", got)
	}
}

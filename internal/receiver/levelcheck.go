package receiver

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jmcdice/launch-control/pkg/audio"
)

// lowLevelRMS is the probe level below which the input is probably muted,
// disconnected, or pointed at the wrong device.
const lowLevelRMS = 0.001

// checkInputLevel opens a short-lived capture stream, accumulates roughly
// cfg.LevelCheck worth of samples, and logs the measured RMS against the
// detection threshold. Purely advisory: probe failures are logged and startup
// continues, since a quiet room and a dead microphone look the same from
// here.
func (c *Controller) checkInputLevel(ctx context.Context) {
	target := int(c.cfg.LevelCheck.Seconds()*float64(c.cfg.Stream.SampleRate)) * c.cfg.Stream.Channels
	if target <= 0 {
		return
	}

	var (
		mu         sync.Mutex
		sumSquares float64
		samples    int
		once       sync.Once
	)
	done := make(chan struct{})

	// The frame slice is only valid during the callback, so fold it into the
	// running sum instead of retaining it.
	collect := func(frame audio.Frame, _ audio.StreamStatus) {
		mu.Lock()
		for _, s := range frame.Samples {
			sumSquares += float64(s) * float64(s)
		}
		samples += len(frame.Samples)
		reached := samples >= target
		mu.Unlock()
		if reached {
			once.Do(func() { close(done) })
		}
	}

	stream, err := c.source.Open(ctx, c.cfg.Stream, collect)
	if err != nil {
		c.log.Warn("input level check skipped", "err", err)
		return
	}

	// Capture runs at wall-clock speed, so allow the probe duration plus
	// slack before giving up on a stalled device.
	timeout := time.NewTimer(c.cfg.LevelCheck + 2*time.Second)
	defer timeout.Stop()
	select {
	case <-done:
	case <-timeout.C:
	case <-ctx.Done():
	}

	if err := stream.Close(); err != nil {
		c.log.Warn("input level check stream close failed", "err", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if samples == 0 {
		c.log.Warn("input level check captured no samples, check capture device",
			"device", c.cfg.Stream.Device)
		return
	}
	rms := math.Sqrt(sumSquares / float64(samples))
	c.log.Info("input level measured",
		"rms", rms,
		"threshold", c.cfg.Detector.Threshold,
		"samples", samples,
	)
	if rms < lowLevelRMS {
		c.log.Warn("very low audio levels detected, check microphone", "rms", rms)
	} else {
		c.log.Info("audio input test passed")
	}
}

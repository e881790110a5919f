package receiver

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"
)

// Stats accumulates pipeline counters and a sliding window of transcription
// latencies. All methods are safe for concurrent use; the frame-delivery
// goroutine and the drain loop update disjoint counters but share the lock.
type Stats struct {
	mu            sync.Mutex
	transcription latencyBuffer

	frames       int64
	detected     int64
	dropped      int64
	transcribed  int64
	empty        int64
	failures     int64
	sinkFailures int64
}

// NewStats returns a collector retaining the last windowSize transcription
// latency samples for percentile reporting. A non-positive windowSize falls
// back to the default window.
func NewStats(windowSize int) *Stats {
	if windowSize < 1 {
		windowSize = statsWindow
	}
	return &Stats{transcription: newLatencyBuffer(windowSize)}
}

func (s *Stats) IncrFrames() {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *Stats) IncrDetected() {
	s.mu.Lock()
	s.detected++
	s.mu.Unlock()
}

func (s *Stats) IncrDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *Stats) IncrTranscribed() {
	s.mu.Lock()
	s.transcribed++
	s.mu.Unlock()
}

func (s *Stats) IncrEmpty() {
	s.mu.Lock()
	s.empty++
	s.mu.Unlock()
}

func (s *Stats) IncrFailures() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func (s *Stats) IncrSinkFailures() {
	s.mu.Lock()
	s.sinkFailures++
	s.mu.Unlock()
}

// RecordTranscription adds one backend round-trip latency to the window.
func (s *Stats) RecordTranscription(d time.Duration) {
	s.mu.Lock()
	s.transcription.add(d)
	s.mu.Unlock()
}

// LatencyPercentiles summarises the retained latency window.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
}

// MarshalJSON renders the percentiles as duration strings ("152ms") so the
// stats endpoint stays readable from curl.
func (p LatencyPercentiles) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		P50 string `json:"p50"`
		P95 string `json:"p95"`
	}{p.P50.String(), p.P95.String()})
}

// Snapshot is a point-in-time copy of the pipeline counters.
type Snapshot struct {
	Frames        int64              `json:"frames"`
	Detected      int64              `json:"utterances_detected"`
	Dropped       int64              `json:"utterances_dropped"`
	Transcribed   int64              `json:"transcribed"`
	Empty         int64              `json:"empty_results"`
	Failures      int64              `json:"transcription_failures"`
	SinkFailures  int64              `json:"sink_failures"`
	Transcription LatencyPercentiles `json:"transcription_latency"`
}

// Snapshot returns a consistent copy of all counters and percentiles.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Frames:        s.frames,
		Detected:      s.detected,
		Dropped:       s.dropped,
		Transcribed:   s.transcribed,
		Empty:         s.empty,
		Failures:      s.failures,
		SinkFailures:  s.sinkFailures,
		Transcription: s.transcription.percentiles(),
	}
}

// latencyBuffer is a fixed-size ring of duration samples. Once full, new
// samples overwrite the oldest.
type latencyBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{data: make([]time.Duration, size)}
}

func (b *latencyBuffer) add(d time.Duration) {
	b.data[b.pos] = d
	b.pos = (b.pos + 1) % len(b.data)
	if b.pos == 0 {
		b.full = true
	}
}

func (b *latencyBuffer) samples() []time.Duration {
	n := b.pos
	if b.full {
		n = len(b.data)
	}
	out := make([]time.Duration, n)
	copy(out, b.data[:n])
	return out
}

func (b *latencyBuffer) percentiles() LatencyPercentiles {
	s := b.samples()
	if len(s) == 0 {
		return LatencyPercentiles{}
	}
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return LatencyPercentiles{
		P50: percentile(s, 0.50),
		P95: percentile(s, 0.95),
	}
}

// percentile picks the nearest-rank value from an ascending-sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

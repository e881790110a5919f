// Package mock provides a test double for the transcribe.Backend interface.
//
// Use Backend to script transcription outcomes and inspect the utterances
// the caller delivered.
//
// Example:
//
//	b := &mock.Backend{
//	    Results: []*transcribe.Result{{Text: "go for launch"}},
//	}
//	// pass b wherever a transcribe.Backend is expected, then assert on
//	// b.TranscribeCalls after the code under test ran.
package mock

import (
	"context"
	"sync"

	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/transcribe"
)

// TranscribeCall records a single invocation of Backend.Transcribe.
type TranscribeCall struct {
	// Utterance is a copy of the utterance passed to Transcribe, samples
	// included, so assertions are immune to buffer reuse by the caller.
	Utterance audio.Utterance
}

// Backend is a mock implementation of transcribe.Backend. All fields are
// read under lock; the mock is safe to share between the test goroutine and
// the code under test.
type Backend struct {
	mu sync.Mutex

	// InitializeErr, if non-nil, is returned by Initialize.
	InitializeErr error

	// TranscribeFunc, if non-nil, handles every Transcribe call. It takes
	// precedence over TranscribeErr and Results.
	TranscribeFunc func(ctx context.Context, utt audio.Utterance) (*transcribe.Result, error)

	// TranscribeErr, if non-nil, is returned by every Transcribe call. It
	// takes precedence over Results.
	TranscribeErr error

	// Results are returned by successive Transcribe calls in order. Once
	// exhausted, further calls return (nil, nil).
	Results []*transcribe.Result

	// CleanupErr, if non-nil, is returned by Cleanup.
	CleanupErr error

	// InitializeCallCount is the number of Initialize calls.
	InitializeCallCount int

	// TranscribeCalls records every Transcribe call in order.
	TranscribeCalls []TranscribeCall

	// CleanupCallCount is the number of Cleanup calls.
	CleanupCallCount int

	resultIdx int
}

// Compile-time assertion that Backend implements transcribe.Backend.
var _ transcribe.Backend = (*Backend)(nil)

// Initialize records the call and returns InitializeErr.
func (b *Backend) Initialize(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.InitializeCallCount++
	return b.InitializeErr
}

// Transcribe records the call and returns the next scripted outcome.
func (b *Backend) Transcribe(ctx context.Context, utt audio.Utterance) (*transcribe.Result, error) {
	b.mu.Lock()
	samples := make([]float32, len(utt.Samples))
	copy(samples, utt.Samples)
	cp := utt
	cp.Samples = samples
	b.TranscribeCalls = append(b.TranscribeCalls, TranscribeCall{Utterance: cp})

	fn := b.TranscribeFunc
	err := b.TranscribeErr
	var res *transcribe.Result
	if fn == nil && err == nil && b.resultIdx < len(b.Results) {
		res = b.Results[b.resultIdx]
		b.resultIdx++
	}
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, utt)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Cleanup records the call and returns CleanupErr.
func (b *Backend) Cleanup() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CleanupCallCount++
	return b.CleanupErr
}

// TranscribeCallCount returns the number of Transcribe calls. Thread-safe.
func (b *Backend) TranscribeCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.TranscribeCalls)
}

// ResetCalls clears all recorded calls and rewinds the Results queue.
// Thread-safe.
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.InitializeCallCount = 0
	b.TranscribeCalls = nil
	b.CleanupCallCount = 0
	b.resultIdx = 0
}

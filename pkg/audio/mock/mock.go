// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	stream, err := src.Open(ctx, cfg, cb)
//	src.Emit(audio.Frame{Samples: samples, SampleRate: 16000, Channels: 1}, 0)
//	stream.Close()
package mock

import (
	"context"
	"sync"

	"github.com/jmcdice/launch-control/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream], created by [Source.Open].
// Set CloseError before use; inspect CallCountClose after.
type Stream struct {
	mu sync.Mutex

	// CloseError is returned by the first call to [Stream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	cb     audio.FrameCallback
	closed bool
}

// Close implements [audio.Stream]. Marks the stream closed so that subsequent
// [Source.Emit] calls skip its callback. Repeat calls are safe and return nil.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	return s.CloseError
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Emit delivers a frame directly to this stream's callback, regardless of
// closed state. Most tests should prefer [Source.Emit], which respects Close.
func (s *Stream) Emit(frame audio.Frame, status audio.StreamStatus) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(frame, status)
	}
}

// ─── Source ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Source.Open] invocation.
type OpenCall struct {
	// Config is the stream configuration passed to Open.
	Config audio.StreamConfig
}

// Source is a mock implementation of [audio.Source].
// Set the exported error field before use; inspect OpenCalls and Streams after.
type Source struct {
	mu sync.Mutex

	// OpenError, when non-nil, is returned by Open instead of a new stream.
	OpenError error

	// OpenCalls records all Open invocations in order.
	OpenCalls []OpenCall

	// Streams holds the mock streams handed out by Open, in creation order.
	Streams []*Stream
}

// Open implements [audio.Source]. Records the call, and unless OpenError is
// set, returns a fresh [Stream] wired to cb.
func (s *Source) Open(_ context.Context, cfg audio.StreamConfig, cb audio.FrameCallback) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{Config: cfg})
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	st := &Stream{cb: cb}
	s.Streams = append(s.Streams, st)
	return st, nil
}

// Emit delivers a frame to the callback of every stream that is still open.
// Use this in tests to simulate the capture driver producing audio.
func (s *Source) Emit(frame audio.Frame, status audio.StreamStatus) {
	s.mu.Lock()
	streams := make([]*Stream, len(s.Streams))
	copy(streams, s.Streams)
	s.mu.Unlock()
	for _, st := range streams {
		if !st.Closed() {
			st.Emit(frame, status)
		}
	}
}

// LastStream returns the most recently opened stream, or nil when Open has
// not been called successfully yet.
func (s *Source) LastStream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Streams) == 0 {
		return nil
	}
	return s.Streams[len(s.Streams)-1]
}

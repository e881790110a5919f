// Package transcribe defines the speech-to-text backend abstraction used by
// the capture pipeline, plus the registry through which concrete backends
// are selected by name.
//
// A Backend converts one finalized utterance at a time into text. Backends
// follow a strict lifecycle: Initialize is called exactly once before any
// Transcribe call, Transcribe is called serially from the receiver's drain
// loop, and Cleanup is called exactly once during shutdown. Implementations
// therefore do not need to be safe for concurrent use, though they must not
// retain the utterance's sample slice after Transcribe returns.
package transcribe

import (
	"context"
	"errors"

	"github.com/jmcdice/launch-control/pkg/audio"
)

// ErrConfiguration indicates that a backend cannot operate with the settings
// it was given (missing API key, unknown model, malformed endpoint). Errors
// wrapping it are fatal at startup; they are never produced per utterance.
var ErrConfiguration = errors.New("invalid backend configuration")

// Result is a completed transcription of a single utterance.
type Result struct {
	// Text is the transcribed text as returned by the service, trimmed of
	// leading and trailing whitespace.
	Text string

	// Confidence is the service-reported confidence in [0, 1]. Backends whose
	// API does not report one use 1.0.
	Confidence float64

	// Language is the BCP-47 tag the transcription was performed in.
	Language string

	// Metadata carries service-specific extras (request IDs, billed
	// duration) when the service reports any. Nil otherwise. The pipeline
	// never reads it; it exists for sinks and debugging.
	Metadata map[string]any
}

// Backend converts finalized utterances into text.
//
// Transcribe returns (nil, nil) when the service recognized no speech in the
// audio; that outcome is routine and not an error. A non-nil error means this
// utterance failed; callers log it and move on, the backend stays usable for
// the next utterance.
type Backend interface {
	// Initialize prepares the backend for use: validating settings that can
	// only be checked at runtime and establishing any long-lived connection.
	Initialize(ctx context.Context) error

	// Transcribe converts one utterance to text.
	Transcribe(ctx context.Context, utt audio.Utterance) (*Result, error)

	// Cleanup releases resources held by the backend. It is called once,
	// after the last Transcribe call has returned.
	Cleanup() error
}

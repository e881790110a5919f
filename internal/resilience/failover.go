// Package resilience provides failover across transcription backends.
//
// The central type is [Chain], a [transcribe.Backend] wrapping an ordered
// list of backends. Each entry is guarded by its own [Breaker], a three-state
// circuit breaker, so a backend that keeps failing is skipped for a cooldown
// period instead of adding its timeout to every utterance.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcdice/launch-control/pkg/audio"
	"github.com/jmcdice/launch-control/pkg/transcribe"
)

// ErrBackendsExhausted is returned by [Chain.Transcribe] when every backend
// in the chain failed or was cooling down behind an open breaker.
var ErrBackendsExhausted = errors.New("resilience: all backends failed")

// chainEntry pairs a named backend with the breaker guarding it.
type chainEntry struct {
	name    string
	backend transcribe.Backend
	breaker *Breaker
}

// Chain fails over across an ordered list of transcription backends. The
// primary is tried first; a later entry is consulted only when everything
// before it failed or sits behind an open breaker.
//
// Chain keeps the serial-call contract of the backends it wraps.
type Chain struct {
	entries []chainEntry
	breaker BreakerConfig
}

var _ transcribe.Backend = (*Chain)(nil)

// NewChain creates a chain with primary as the first entry. Fallbacks are
// appended with [Chain.Add]. All entries share the breaker tuning; Name is
// set per entry.
func NewChain(name string, primary transcribe.Backend, breaker BreakerConfig) *Chain {
	c := &Chain{breaker: breaker}
	c.Add(name, primary)
	return c
}

// Add appends a fallback backend. Entries are tried in insertion order.
func (c *Chain) Add(name string, b transcribe.Backend) {
	cfg := c.breaker
	cfg.Name = name
	c.entries = append(c.entries, chainEntry{
		name:    name,
		backend: b,
		breaker: NewBreaker(cfg),
	})
}

// Initialize initializes every backend in the chain. Any failure is fatal:
// backends already initialized are cleaned up again and the error is
// returned, so a misconfigured fallback surfaces at startup rather than at
// the moment it is first needed.
func (c *Chain) Initialize(ctx context.Context) error {
	for i, e := range c.entries {
		err := e.backend.Initialize(ctx)
		if err == nil {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if cerr := c.entries[j].backend.Cleanup(); cerr != nil {
				slog.Warn("cleanup after failed chain initialize",
					"backend", c.entries[j].name, "error", cerr)
			}
		}
		return fmt.Errorf("resilience: initialize %s: %w", e.name, err)
	}
	return nil
}

// Transcribe tries each backend in order until one answers. A (nil, nil)
// no-speech result is an answer, not a failure, and does not advance to the
// next entry. Entries behind an open breaker are skipped without being
// called. When every entry fails the last error is returned wrapped in
// [ErrBackendsExhausted].
func (c *Chain) Transcribe(ctx context.Context, utt audio.Utterance) (*transcribe.Result, error) {
	var lastErr error
	for i := range c.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := &c.entries[i]

		var res *transcribe.Result
		err := e.breaker.Do(func() error {
			var terr error
			res, terr = e.backend.Transcribe(ctx, utt)
			return terr
		})
		if err == nil {
			if i > 0 {
				slog.Info("utterance served by fallback backend", "backend", e.name)
			}
			return res, nil
		}

		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", e.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", e.name, "error", err)
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendsExhausted, lastErr)
}

// Cleanup cleans up every backend in the chain, joining any errors.
func (c *Chain) Cleanup() error {
	var errs []error
	for _, e := range c.entries {
		if err := e.backend.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("resilience: cleanup %s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

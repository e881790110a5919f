// Package transcript post-processes transcribed text before it reaches the
// sink. Speech recognisers reliably mangle domain vocabulary: callsigns,
// vehicle names, and procedure words come back as whatever common phrase
// sounds closest. The [Corrector] scans each transcript for n-gram windows
// that phonetically align with a configured vocabulary term and substitutes
// the canonical spelling, recording every substitution it applies.
//
// A Corrector built from an empty vocabulary passes text through untouched.
// Correctors are read-only after construction and safe for concurrent use.
package transcript

import (
	"strings"
	"unicode"

	"github.com/jmcdice/launch-control/internal/transcript/phonetic"
)

// Correction captures a single substitution applied to a transcript.
type Correction struct {
	// Original is the text as produced by the transcription backend.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the similarity score behind the substitution (0.0 to 1.0).
	Confidence float64
}

// Corrector applies vocabulary corrections to transcript text.
type Corrector struct {
	matcher *phonetic.Matcher
}

// NewCorrector builds a [Corrector] over the given vocabulary. Matcher
// options tune the similarity thresholds; see [phonetic.New]. An empty
// vocabulary yields a pass-through corrector.
func NewCorrector(vocabulary []string, opts ...phonetic.Option) *Corrector {
	return &Corrector{matcher: phonetic.New(vocabulary, opts...)}
}

// Enabled reports whether the corrector has any vocabulary to apply.
func (c *Corrector) Enabled() bool {
	return !c.matcher.Empty()
}

// Correct scans text for n-gram windows that align with a vocabulary term
// and substitutes the canonical spelling.
//
// The scan works on whitespace-separated tokens. At each position, windows
// from the longest term's word count down to a single word are tried and the
// longest match wins, so multi-word terms take precedence over partial
// single-word matches. Trailing punctuation on a window survives the
// substitution.
//
// The returned slice lists every substitution in order of appearance. A
// window that already reads exactly as its vocabulary term is not recorded.
// When nothing is substituted, text is returned unchanged (original spacing
// included) with a nil slice.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c.matcher.Empty() {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	maxWords := c.matcher.MaxWords()

	var out []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		// Clamp the window to the remaining tokens.
		maxN := maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			core, trail := splitTrailingPunct(window)

			term, conf, ok := c.matcher.Match(core)
			if !ok {
				continue
			}

			repl := strings.Fields(term)
			repl[len(repl)-1] += trail
			out = append(out, repl...)
			if term != core {
				corrections = append(corrections, Correction{
					Original:   core,
					Corrected:  term,
					Confidence: conf,
				})
			}
			i += n
			matched = true
			break
		}

		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// splitTrailingPunct separates the trailing punctuation run from s so the
// core text can be matched and the punctuation re-attached afterwards.
func splitTrailingPunct(s string) (core, trail string) {
	core = strings.TrimRightFunc(s, unicode.IsPunct)
	return core, s[len(core):]
}

// Package phonetic aligns misheard words with a fixed vocabulary using
// Double Metaphone encoding combined with Jaro-Winkler string similarity.
//
// A [Matcher] is built once from the configured vocabulary and reused for
// every transcript, so per-term work (tokenisation, code computation) happens
// at construction. Matching proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word of the input phrase. A vocabulary term whose code set shares
//     at least one code with the input becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the term with the
//     highest similarity wins, provided it clears the phonetic threshold.
//     When no phonetic candidate exists, a fallback pass accepts pure string
//     similarity above a stricter fuzzy threshold.
//
// Multi-word terms ("max q", "flight termination system") are supported.
// Similarity is the better of a full-string comparison and a comparison with
// all spaces removed, which catches words the recogniser split or joined.
// Individual tokens are never compared in isolation, so a one-letter token
// cannot pull an unrelated window into a match.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// term is one vocabulary entry with its precomputed matching data.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Matcher resolves phrases against a fixed vocabulary. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []term
	maxWords          int
}

// New builds a [Matcher] over the given vocabulary. Blank entries are
// skipped. Phonetic codes for every term are computed here so that
// [Matcher.Match] does no per-term encoding work.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}

	for _, v := range vocabulary {
		canonical := strings.TrimSpace(v)
		if canonical == "" {
			continue
		}
		lower := strings.ToLower(canonical)
		tokens := strings.Fields(lower)
		m.terms = append(m.terms, term{
			canonical: canonical,
			lower:     lower,
			tokens:    tokens,
			codes:     codesForTokens(tokens),
		})
		if len(tokens) > m.maxWords {
			m.maxWords = len(tokens)
		}
	}
	return m
}

// Empty reports whether the vocabulary contains no usable terms.
func (m *Matcher) Empty() bool {
	return len(m.terms) == 0
}

// MaxWords returns the word count of the longest vocabulary term. It bounds
// the n-gram window size when scanning a transcript. Returns 0 for an empty
// vocabulary.
func (m *Matcher) MaxWords() int {
	return m.maxWords
}

// Match attempts to find the vocabulary term most phonetically similar to
// phrase. phrase may be a single word or a space-separated n-gram.
//
// When matched is false, corrected equals phrase unchanged and confidence is
// 0. On a match, corrected carries the term's canonical spelling and casing.
func (m *Matcher) Match(phrase string) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if len(m.terms) == 0 || lower == "" {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	inputCodes := codesForTokens(tokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, t := range m.terms {
		score := bestSimilarity(tokens, t.tokens, lower, t.lower)

		if codesOverlap(inputCodes, t.codes) {
			if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{term: t.canonical, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= m.fuzzyThreshold && score > best.score {
			best = candidate{term: t.canonical, score: score, phonetic: false}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return phrase, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when a word is too short or contains
// no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the higher of two Jaro-Winkler comparisons between
// the input and a term: the full strings as spoken, and the strings with all
// spaces removed (for words the recogniser split or joined, such as
// "star hopper" against "starhopper").
func bestSimilarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		joinedInput := strings.Join(inputTokens, "")
		joinedTerm := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(joinedInput, joinedTerm, false); s > score {
			score = s
		}
	}
	return score
}

// Package phonetic matches misheard transcript tokens against the known
// kiosk vocabulary (menu item names and command words) using Double Metaphone
// phonetic encoding combined with Jaro-Winkler string similarity.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word in the input and for each vocabulary term. If any code from
//     the input overlaps with any code from a term, the term becomes a
//     phonetic candidate.
//
//  2. Jaro-Winkler ranking: Among phonetic candidates, the term with the
//     highest Jaro-Winkler similarity (computed on the original strings,
//     case-insensitive) is selected — provided its score exceeds the
//     configurable phonetic threshold.
//
// Double Metaphone only encodes Latin script, so for Korean vocabulary the
// code sets come up empty and matching rests entirely on the Jaro-Winkler
// fuzzy pass, which operates on the raw Hangul strings with a higher
// threshold. Romanized menu names ("빅맥"/"Big Mac" registered side by side)
// get the benefit of both stages.
//
// Multi-word terms (e.g., "더블 치즈버거 세트") are supported: the matcher
// computes codes per word and considers the best pairwise score across all
// word pairs when ranking candidates.
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
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher ranks transcript spans against a fixed vocabulary. All methods are
// safe for concurrent use — the Matcher is read-only after construction.
type Matcher struct {
	vocabulary        []string
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher over the given vocabulary. Default thresholds are
// 0.70 for phonetic matches and 0.85 for fuzzy fallback matches.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		vocabulary:        vocabulary,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the vocabulary term most similar to word.
//
// word may be a single word or a space-separated phrase. When matched is
// false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string) (corrected string, confidence float64, matched bool) {
	return m.match(word, false)
}

// match implements Match. When strict is set, the pairwise-token similarity
// strategy is disabled: a multi-token span then only matches a term when the
// whole span resembles the whole term, which is what transcript replacement
// needs (a single overlapping token must not swallow its neighbors).
func (m *Matcher) match(word string, strict bool) (corrected string, confidence float64, matched bool) {
	if len(m.vocabulary) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, term := range m.vocabulary {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		if termLower == wordLower {
			return term, 1, true
		}
		termTokens := strings.Fields(termLower)

		termCodes := codesForTokens(termTokens)
		phoneticMatch := codesOverlap(inputCodes, termCodes)
		jwScore := bestJWScore(wordTokens, termTokens, wordLower, termLower, strict)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{term: term, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{term: term, score: jwScore, phonetic: false}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// CorrectTranscript replaces recognizable spans of text with their canonical
// vocabulary terms. Spans of up to three consecutive tokens are tried
// longest-first so multi-word terms win over their fragments. The boolean
// result reports whether any replacement happened.
func (m *Matcher) CorrectTranscript(text string) (string, bool) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, false
	}

	var out []string
	changed := false
	for i := 0; i < len(tokens); {
		replaced := false
		for n := min(3, len(tokens)-i); n >= 1; n-- {
			span := strings.Join(tokens[i:i+n], " ")
			corrected, _, matched := m.match(span, true)
			if matched {
				out = append(out, corrected)
				if corrected != span {
					changed = true
				}
				i += n
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, tokens[i])
			i++
		}
	}
	return strings.Join(out, " "), changed
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (short words, no consonants, non-Latin script)
// are excluded.
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

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
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

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the term using three strategies: full strings, space-stripped strings
// and (unless strict) the best pairwise token score.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string, strict bool) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	if !strict {
		for _, it := range inputTokens {
			for _, et := range termTokens {
				if s := matchr.JaroWinkler(it, et, false); s > score {
					score = s
				}
			}
		}
	}

	return score
}

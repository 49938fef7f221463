// Package similarity implements the text normalization and trigram
// similarity used by the fuzzy lookup. The scoring follows the pg_trgm
// model: similarity is the Jaccard ratio of the padded trigram sets of
// the two normalized strings.
package similarity

import (
	"math"
	"strings"
	"unicode"
)

// Normalize canonicalizes reported titles and artist names before
// comparison: lower-case, bracketed and parenthetical segments removed,
// punctuation stripped, whitespace collapsed.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = stripBracketed(s)

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func stripBracketed(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	depth := 0
	for _, r := range s {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
				continue
			}
		}
		if depth == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Trigram returns the similarity of two strings in [0,1]. Inputs are
// normalized first; identical normalized strings score 1.
func Trigram(a, b string) float64 {
	a = Normalize(a)
	b = Normalize(b)
	if a == "" || b == "" {
		if a == b {
			return 1
		}
		return 0
	}
	if a == b {
		return 1
	}

	setA := trigramSet(a)
	setB := trigramSet(b)

	var shared int
	for gram := range setA {
		if _, ok := setB[gram]; ok {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// trigramSet pads each word with two leading and one trailing space the
// way pg_trgm does, then collects the distinct trigrams.
func trigramSet(s string) map[string]struct{} {
	grams := make(map[string]struct{})
	for _, word := range strings.Fields(s) {
		padded := "  " + word + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			grams[string(runes[i:i+3])] = struct{}{}
		}
	}
	return grams
}

// Cosine returns the cosine similarity of two equal-length vectors, or 0
// when either vector is empty or zero-magnitude.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

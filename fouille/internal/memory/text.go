package memory

import (
	"math"
	"strings"
	"unicode"
)

// Normalize collapses whitespace runs to single spaces and trims.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// dedupKey is the identity used by AppendUnique: normalized and case-folded.
func dedupKey(s string) string {
	return strings.ToLower(Normalize(s))
}

// Tokenize lowercases s and splits it into runs of letters and digits.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tfVector holds raw term counts and the Euclidean norm of the counts.
// Cosine similarity is scale-invariant, so normalizing counts to
// frequencies would not change any score.
type tfVector struct {
	counts map[string]float64
	norm   float64
}

func termFrequencies(text string) tfVector {
	toks := Tokenize(text)
	v := tfVector{counts: make(map[string]float64, len(toks))}
	for _, t := range toks {
		v.counts[t]++
	}
	var sq float64
	for _, c := range v.counts {
		sq += c * c
	}
	v.norm = math.Sqrt(sq)
	return v
}

// cosine returns the cosine similarity of two TF vectors, 0 when either is
// empty.
func cosine(a, b tfVector) float64 {
	if a.norm == 0 || b.norm == 0 {
		return 0
	}
	if len(b.counts) < len(a.counts) {
		a, b = b, a
	}
	var dot float64
	for k, va := range a.counts {
		dot += va * b.counts[k]
	}
	return dot / (a.norm * b.norm)
}

// Similarity is the TF cosine similarity of two texts.
func Similarity(a, b string) float64 {
	return cosine(termFrequencies(a), termFrequencies(b))
}

package similarity

import (
	"math"
	"strings"
	"unicode"

	"github.com/ritzau/insight-graph/pkg/model"
)

var stopwords = map[string]bool{
	"a": true, "about": true, "across": true, "after": true, "all": true, "also": true,
	"an": true, "and": true, "are": true, "around": true, "as": true, "at": true,
	"be": true, "been": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "into": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "our": true, "over": true,
	"per": true, "show": true, "than": true, "that": true, "the": true, "their": true,
	"this": true, "to": true, "was": true, "were": true, "which": true, "while": true,
	"who": true, "will": true, "with": true,
}

// Tokenize lowercases text and splits it into content terms. Single-rune
// tokens, pure numbers and stopwords are dropped.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := words[:0]
	for _, w := range words {
		if len([]rune(w)) < 2 || stopwords[w] || isNumber(w) {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// Words splits text into lowercase alphanumeric words without dropping
// anything. Used for keyword and phrase matching.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Vector is a term-frequency vector.
type Vector map[string]float64

// Norm returns the Euclidean length of v.
func (v Vector) Norm() float64 {
	sum := 0.0
	for _, f := range v {
		sum += f * f
	}
	return math.Sqrt(sum)
}

// TermVector builds the term-frequency vector of a node's content and tags.
func TermVector(n *model.Node) Vector {
	v := make(Vector)
	for _, t := range Tokenize(n.Content) {
		v[t]++
	}
	for _, tag := range n.Tags {
		for _, t := range Tokenize(tag) {
			v[t]++
		}
	}
	return v
}

// Cosine returns the cosine similarity of a and b. The second result is
// false when either vector is empty, meaning the signal is absent.
func Cosine(a, b Vector) (float64, bool) {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0, false
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	dot := 0.0
	for t, f := range a {
		dot += f * b[t]
	}
	return clamp01(dot / (na * nb)), true
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

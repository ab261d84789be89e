package vectorstore

import (
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"
)

// SparseDimensions bounds the feature-hashing space for sparse vectors.
const SparseDimensions = 1 << 18

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// Tokenize splits source text into lowercased, code-aware tokens: words are
// split on non-alphanumeric boundaries, then each word is split again on
// camelCase/PascalCase/snake_case boundaries, and tokens under 2 characters
// are dropped.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			lower := strings.ToLower(t)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, SplitCamelCase(part)...)
			}
		}
		return result
	}
	return SplitCamelCase(token)
}

// SplitCamelCase splits a camelCase/PascalCase identifier into its
// constituent words, keeping runs of uppercase letters (acronyms) together.
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// BuildSparseVector derives a feature-hashed, term-frequency-weighted
// sparse vector from text: each token is hashed into [0, SparseDimensions)
// and its weight is its term frequency within text, giving a minimal
// dependency-free BM25-like sparse representation for hybrid search.
func BuildSparseVector(text string) SparseVector {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return SparseVector{}
	}

	counts := make(map[uint32]float32, len(tokens))
	for _, tok := range tokens {
		idx := hashToken(tok)
		counts[idx]++
	}

	sv := SparseVector{
		Indices: make([]uint32, 0, len(counts)),
		Values:  make([]float32, 0, len(counts)),
	}
	for idx, count := range counts {
		sv.Indices = append(sv.Indices, idx)
		sv.Values = append(sv.Values, count)
	}
	return sv
}

func hashToken(tok string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tok))
	return h.Sum32() % SparseDimensions
}

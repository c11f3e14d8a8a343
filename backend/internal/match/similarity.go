package match

import (
	"math"
	"regexp"
	"strings"
)

// ============================================================================
// Similarity Primitives
// ============================================================================

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeName normalizes free-text names for comparison: lowercase, trim,
// collapse internal whitespace, strip trailing punctuation.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimRight(s, ".,!?;:")
	return s
}

// NormalizeIdentifier normalizes structured identifiers (license plates,
// serial numbers, VINs) by stripping every non-alphanumeric character and
// upper-casing. Intentionally stricter than free-text normalization.
func NormalizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// digitsOnly strips everything but digits; used for phone comparison.
func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// emailDomain returns the lower-cased domain part of an email address,
// or "" when the value does not look like one.
func emailDomain(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// StringSimilarity returns normalized edit similarity in [0, 1]:
// 1 - (editDistance / max(len1, len2)). Two empty strings score 0 so that
// absent values never count as a match.
func StringSimilarity(a, b string) float64 {
	aRunes := []rune(a)
	bRunes := []rune(b)
	longest := len(aRunes)
	if len(bRunes) > longest {
		longest = len(bRunes)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshteinDistance(aRunes, bRunes)
	return 1 - float64(dist)/float64(longest)
}

// levenshteinDistance computes edit distance over rune slices with a
// two-row DP table.
func levenshteinDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Iterate over the shorter string as columns
	if len(a) > len(b) {
		a, b = b, a
	}

	prevRow := make([]int, len(a)+1)
	currRow := make([]int, len(a)+1)
	for i := 0; i <= len(a); i++ {
		prevRow[i] = i
	}

	for i := 1; i <= len(b); i++ {
		currRow[0] = i
		for j := 1; j <= len(a); j++ {
			cost := 1
			if b[i-1] == a[j-1] {
				cost = 0
			}
			currRow[j] = minInt(
				currRow[j-1]+1,    // insertion
				prevRow[j]+1,      // deletion
				prevRow[j-1]+cost, // substitution
			)
		}
		prevRow, currRow = currRow, prevRow
	}

	return prevRow[len(a)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// CosineSimilarity computes the cosine similarity between two embedding
// vectors. Returns 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ============================================================================
// Property Access Helpers
// ============================================================================

// propString fetches a property as a trimmed string; "" when absent or
// not string-like.
func propString(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return ""
	}
}

// firstProp returns the first non-empty string value among keys.
func firstProp(props map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := propString(props, key); s != "" {
			return s
		}
	}
	return ""
}

// propVector fetches an embedding vector from a property map, tolerating
// the element types the graph driver and JSON decoding produce.
func propVector(props map[string]any, key string) []float64 {
	v, ok := props[key]
	if !ok || v == nil {
		return nil
	}
	switch vec := v.(type) {
	case []float64:
		return vec
	case []float32:
		out := make([]float64, len(vec))
		for i, f := range vec {
			out[i] = float64(f)
		}
		return out
	case []any:
		out := make([]float64, 0, len(vec))
		for _, e := range vec {
			switch f := e.(type) {
			case float64:
				out = append(out, f)
			case float32:
				out = append(out, float64(f))
			case int64:
				out = append(out, float64(f))
			default:
				return nil
			}
		}
		return out
	default:
		return nil
	}
}

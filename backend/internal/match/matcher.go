// Package match decides whether two property sets describe the same
// real-world entity of a declared type. Matching is a pure decision over
// the two maps: identity short-circuit first, then the type's ordered
// strategy cascade, then a cosine-similarity fallback over embeddings.
package match

import (
	"sort"

	"go.uber.org/zap"
)

// identityKeys are extraction-time identifier properties. A shared value
// under any of these keys is the cheapest and most certain signal and
// dominates every heuristic below it.
var identityKeys = []string{"external_id", "source_id", "extraction_id", "id"}

const (
	// DefaultVectorThreshold applies to types without an explicit entry.
	DefaultVectorThreshold = 0.8
	// IdentityVectorThreshold applies to identity-sensitive types such as
	// Person, where common names make vector conflation expensive.
	IdentityVectorThreshold = 0.85

	// suggestionFloor is the lowest name similarity that still produces a
	// verification suggestion when nothing matched outright.
	suggestionFloor = 0.7
)

// Matcher holds the per-type strategy registry and vector thresholds.
// Safe for concurrent use once built.
type Matcher struct {
	logger           *zap.Logger
	strategies       map[string][]Strategy
	fallback         []Strategy
	vectorThresholds map[string]float64
	vectorDefault    float64
}

// NewMatcher builds a Matcher with the built-in cascades registered.
func NewMatcher(logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		logger:     logger,
		strategies: defaultStrategies(),
		fallback:   fallbackStrategies(),
		vectorThresholds: map[string]float64{
			"Person": IdentityVectorThreshold,
		},
		vectorDefault: DefaultVectorThreshold,
	}
}

// Register replaces the strategy cascade for a type. Order is preserved;
// the first strategy returning true wins.
func (m *Matcher) Register(typeName string, strategies ...Strategy) {
	m.strategies[typeName] = strategies
}

// SetVectorThreshold overrides the cosine-similarity threshold for a type.
func (m *Matcher) SetVectorThreshold(typeName string, threshold float64) {
	m.vectorThresholds[typeName] = threshold
}

// SetDefaultVectorThreshold overrides the threshold used by types without
// an explicit entry.
func (m *Matcher) SetDefaultVectorThreshold(threshold float64) {
	m.vectorDefault = threshold
}

// VectorThreshold returns the effective cosine threshold for a type.
func (m *Matcher) VectorThreshold(typeName string) float64 {
	if t, ok := m.vectorThresholds[typeName]; ok {
		return t
	}
	return m.vectorDefault
}

// Match reports whether existing and candidate describe the same entity
// of the given type. Pure: no storage access, no side effects beyond
// diagnostic logging.
func (m *Matcher) Match(typeName string, existing, candidate map[string]any) bool {
	// 1. Identity short-circuit on a shared extraction-time identifier.
	if sharedIdentity(existing, candidate) {
		m.logger.Debug("matched on shared identifier", zap.String("type", typeName))
		return true
	}

	// 2. Type-specific cascade, in declared order.
	strategies, ok := m.strategies[typeName]
	if !ok {
		strategies = m.fallback
	}
	for _, s := range strategies {
		if m.runStrategy(typeName, s, existing, candidate) {
			m.logger.Debug("matched by strategy",
				zap.String("type", typeName),
				zap.String("strategy", s.Name),
			)
			return true
		}
	}

	// 3. Vector fallback when both sides carry embeddings.
	if score, ok := m.vectorScore(existing, candidate); ok {
		if score >= m.VectorThreshold(typeName) {
			m.logger.Debug("matched by embedding similarity",
				zap.String("type", typeName),
				zap.Float64("score", score),
			)
			return true
		}
	}

	// 4. No match.
	return false
}

// runStrategy executes one strategy, converting a panic on malformed
// property values into "no match from this strategy" so a bad record can
// never abort the cascade.
func (m *Matcher) runStrategy(typeName string, s Strategy, existing, candidate map[string]any) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("matching strategy failed",
				zap.String("type", typeName),
				zap.String("strategy", s.Name),
				zap.Any("panic", r),
			)
			matched = false
		}
	}()
	return s.Fn(existing, candidate)
}

func (m *Matcher) vectorScore(existing, candidate map[string]any) (float64, bool) {
	a := propVector(existing, "embedding")
	b := propVector(candidate, "embedding")
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	return CosineSimilarity(a, b), true
}

func sharedIdentity(existing, candidate map[string]any) bool {
	for _, key := range identityKeys {
		a := propString(existing, key)
		b := propString(candidate, key)
		if a != "" && a == b {
			return true
		}
	}
	return false
}

// ============================================================================
// Resolution Against a Candidate Set
// ============================================================================

// Existing is one already-persisted node offered to the matcher.
type Existing struct {
	ID    string
	Props map[string]any
}

// Suggestion is a near-miss surfaced for human verification.
type Suggestion struct {
	NodeID string  `json:"node_id"`
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Method string  `json:"method"`
}

// Resolution is the outcome of resolving one candidate record against the
// existing nodes of its type. Ambiguity is a normal result state, not an
// error: Matched false with suggestions means a human should decide.
type Resolution struct {
	Matched     bool
	MatchedID   string
	Ambiguous   bool
	Suggestions []Suggestion
}

// ResolveAgainst runs Match over each existing node in order and returns
// the first hit. When nothing matches, near-miss candidates in
// [suggestionFloor, 1) by name similarity or below-threshold embedding
// similarity become ranked suggestions.
func (m *Matcher) ResolveAgainst(typeName string, candidate map[string]any, existing []Existing) Resolution {
	for _, node := range existing {
		if m.Match(typeName, node.Props, candidate) {
			return Resolution{Matched: true, MatchedID: node.ID}
		}
	}

	var suggestions []Suggestion
	for _, node := range existing {
		score, method := m.suggestionScore(node.Props, candidate)
		if score >= suggestionFloor {
			suggestions = append(suggestions, Suggestion{
				NodeID: node.ID,
				Name:   nameOf(node.Props),
				Score:  score,
				Method: method,
			})
		}
	}
	sort.Slice(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})

	return Resolution{
		Ambiguous:   len(suggestions) > 0,
		Suggestions: suggestions,
	}
}

// suggestionScore rates how close a non-matching pair came, preferring
// the stronger of name similarity and embedding similarity.
func (m *Matcher) suggestionScore(existingProps, candidateProps map[string]any) (float64, string) {
	score := nameSimilarity(existingProps, candidateProps)
	method := "name-similarity"
	if vec, ok := m.vectorScore(existingProps, candidateProps); ok && vec > score {
		score = vec
		method = "vector"
	}
	return score, method
}

package importer

import (
	"context"

	"github.com/kenmgrimm/archimedes-sub002/backend/internal/match"
)

// Statement is a subject/predicate/object triple queued against a
// deferred candidate, replayed once the candidate's identity is decided.
type Statement struct {
	Subject    string         `json:"subject"`
	Predicate  string         `json:"predicate"`
	Object     string         `json:"object"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ResolutionPolicy decides what happens to a candidate entity no existing
// node matched. The default creates the node immediately; the
// verification policy defers ambiguous candidates to a human decision.
type ResolutionPolicy interface {
	// ResolveUnmatched reports whether the candidate should be deferred
	// instead of created now. res carries the near-miss suggestions.
	ResolveUnmatched(ctx context.Context, source string, entity Entity, res match.Resolution) (bool, error)

	// QueueStatement records a relationship touching a deferred candidate
	// under that candidate's name.
	QueueStatement(ctx context.Context, source, candidateName string, stmt Statement) error
}

// AutoCreate is the default policy: every unmatched candidate becomes a
// new node in the same batch.
type AutoCreate struct{}

// ResolveUnmatched never defers.
func (AutoCreate) ResolveUnmatched(context.Context, string, Entity, match.Resolution) (bool, error) {
	return false, nil
}

// QueueStatement is never reached when nothing defers.
func (AutoCreate) QueueStatement(context.Context, string, string, Statement) error {
	return nil
}

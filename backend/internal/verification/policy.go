package verification

import (
	"context"
	"strings"

	"github.com/kenmgrimm/archimedes-sub002/backend/internal/importer"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/match"
)

// Policy routes ambiguous candidates into the verification queue instead
// of creating them. Clean no-matches still auto-create; only near-misses
// wait for a human.
type Policy struct {
	svc *Service
}

var _ importer.ResolutionPolicy = (*Policy)(nil)

// NewPolicy adapts the service to the importer's resolution hook.
func NewPolicy(svc *Service) *Policy {
	return &Policy{svc: svc}
}

// ResolveUnmatched defers the candidate when the matcher surfaced
// near-miss suggestions, opening (or refreshing) its pending request.
func (p *Policy) ResolveUnmatched(ctx context.Context, source string, entity importer.Entity, res match.Resolution) (bool, error) {
	if !res.Ambiguous {
		return false, nil
	}
	name := candidateName(entity)
	if name == "" {
		return false, nil
	}
	_, err := p.svc.Open(ctx, OpenParams{
		Source:        source,
		CandidateName: name,
		EntityType:    entity.Type,
		Suggestions:   res.Suggestions,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// QueueStatement appends the triple to the candidate's pending request.
func (p *Policy) QueueStatement(ctx context.Context, source, candidate string, stmt importer.Statement) error {
	_, err := p.svc.Open(ctx, OpenParams{
		Source:        source,
		CandidateName: candidate,
		Statements:    []importer.Statement{stmt},
	})
	return err
}

func candidateName(entity importer.Entity) string {
	if name := strings.TrimSpace(entity.Name); name != "" {
		return name
	}
	for _, key := range []string{"name", "title"} {
		if s, ok := entity.Properties[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

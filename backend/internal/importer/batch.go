package importer

import (
	"fmt"
	"strings"

	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
)

// Entity is one extracted candidate record prior to graph placement.
type Entity struct {
	Type       string         `json:"type"`
	Name       string         `json:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relationship references its endpoints the way the extraction service
// does: by entity name from the same batch, or by an existing node id.
type Relationship struct {
	Type       string         `json:"type"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Batch is one logically atomic extraction pass. Source tags where the
// content came from; verification requests opened for this batch carry it.
type Batch struct {
	Source        string         `json:"source,omitempty"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// Options control one import pass.
type Options struct {
	// ClearDatabase wipes the graph before importing. Reseed flows only.
	ClearDatabase bool `json:"clear_database"`
	// ValidateSchema runs taxonomy required/enum validation per entity.
	ValidateSchema bool `json:"validate_schema"`
}

// ItemError records one soft per-item failure. The batch continues past
// these; the caller decides whether partial success is acceptable.
type ItemError struct {
	Kind   string `json:"kind"`
	Index  int    `json:"index"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// Result aggregates one import pass.
type Result struct {
	EntitiesCreated      int         `json:"entities_created"`
	EntitiesUpdated      int         `json:"entities_updated"`
	EntitiesDeferred     int         `json:"entities_deferred,omitempty"`
	RelationshipsCreated int         `json:"relationships_created"`
	StatementsQueued     int         `json:"statements_queued,omitempty"`
	Errors               []ItemError `json:"errors,omitempty"`
}

func (r *Result) addError(kind string, index int, name, reason string) {
	r.Errors = append(r.Errors, ItemError{Kind: kind, Index: index, Name: name, Reason: reason})
}

// validateShape fail-fasts on a structurally malformed batch before any
// storage is touched.
func validateShape(batch *Batch) error {
	if batch == nil || (len(batch.Entities) == 0 && len(batch.Relationships) == 0) {
		return apperrors.NewValidationError("batch", "must contain at least one entity or relationship")
	}
	for i, entity := range batch.Entities {
		if strings.TrimSpace(entity.Type) == "" {
			return apperrors.NewValidationError(fmt.Sprintf("entities[%d].type", i), "entity type is required")
		}
	}
	for i, rel := range batch.Relationships {
		if strings.TrimSpace(rel.Type) == "" {
			return apperrors.NewValidationError(fmt.Sprintf("relationships[%d].type", i), "relationship type is required")
		}
		if strings.TrimSpace(rel.Source) == "" {
			return apperrors.NewValidationError(fmt.Sprintf("relationships[%d].source", i), "relationship source is required")
		}
		if strings.TrimSpace(rel.Target) == "" {
			return apperrors.NewValidationError(fmt.Sprintf("relationships[%d].target", i), "relationship target is required")
		}
	}
	return nil
}

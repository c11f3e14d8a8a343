// Package verification holds the human-in-the-loop side of entity
// resolution: durable requests for candidates the matcher could not place
// confidently, the approve/reject/merge state machine that resolves them,
// and the entity-merge operation with its audit trail.
package verification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kenmgrimm/archimedes-sub002/backend/internal/importer"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/match"
)

// Verification request statuses. Pending is the only non-terminal state.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusMerged   = "merged"
)

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusApproved || status == StatusRejected || status == StatusMerged
}

// VerificationRequest is one unresolved entity-identity decision. At most
// one pending request exists per (content_source, candidate_name) pair;
// terminal requests are never mutated again.
type VerificationRequest struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ContentSource  string         `gorm:"type:text;not null;default:'';index:idx_verification_candidate,priority:1" json:"content_source"`
	CandidateName  string         `gorm:"type:text;not null;index:idx_verification_candidate,priority:2" json:"candidate_name"`
	EntityType     string         `gorm:"type:text;not null;default:''" json:"entity_type"`
	Status         string         `gorm:"type:text;not null;default:'pending';index" json:"status"`
	Statements     datatypes.JSON `json:"statements,omitempty"`
	Suggestions    datatypes.JSON `json:"suggestions,omitempty"`
	ResolvedNodeID *string        `gorm:"type:text" json:"resolved_node_id,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (VerificationRequest) TableName() string { return "verification_requests" }

// BeforeCreate assigns the id here instead of in the database so sqlite
// and postgres behave the same.
func (r *VerificationRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// DecodedStatements unpacks the queued statements column.
func (r *VerificationRequest) DecodedStatements() ([]importer.Statement, error) {
	if len(r.Statements) == 0 {
		return nil, nil
	}
	var stmts []importer.Statement
	if err := json.Unmarshal(r.Statements, &stmts); err != nil {
		return nil, err
	}
	return stmts, nil
}

// DecodedSuggestions unpacks the ranked suggestions column.
func (r *VerificationRequest) DecodedSuggestions() ([]match.Suggestion, error) {
	if len(r.Suggestions) == 0 {
		return nil, nil
	}
	var suggestions []match.Suggestion
	if err := json.Unmarshal(r.Suggestions, &suggestions); err != nil {
		return nil, err
	}
	return suggestions, nil
}

// MergeRecord is the append-only audit trail of entity merges. A nil
// SourceNodeID records a merge of a purely conceptual candidate that
// never existed as a node.
type MergeRecord struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SourceNodeID       *string   `gorm:"type:text;index" json:"source_node_id,omitempty"`
	TargetNodeID       string    `gorm:"type:text;not null;index" json:"target_node_id"`
	RelationshipsMoved int       `gorm:"not null;default:0" json:"relationships_moved"`
	CreatedAt          time.Time `gorm:"not null" json:"created_at"`
}

func (MergeRecord) TableName() string { return "merge_records" }

func (m *MergeRecord) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func encodeJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// Nil slices marshal to "null"; store an empty list instead.
	if string(b) == "null" {
		return datatypes.JSON("[]"), nil
	}
	return datatypes.JSON(b), nil
}

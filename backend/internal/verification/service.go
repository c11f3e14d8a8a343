package verification

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kenmgrimm/archimedes-sub002/backend/internal/graph"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/importer"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/match"
	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/logger"
)

// Actions accepted by Process.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionMerge   = "merge"
)

// Service runs the verification workflow against the durable request
// store and the graph. Each resolving action attaches statements in one
// graph transaction and only then flips the request status, so a graph
// failure leaves the request pending and nothing half-applied.
type Service struct {
	db     *gorm.DB
	graph  graph.Store
	logger *zap.Logger
}

// NewService wires the workflow.
func NewService(db *gorm.DB, store graph.Store) *Service {
	return &Service{
		db:     db,
		graph:  store,
		logger: logger.Get(),
	}
}

// OpenParams describes the candidate a request is opened for.
type OpenParams struct {
	Source        string
	CandidateName string
	EntityType    string
	Statements    []importer.Statement
	Suggestions   []match.Suggestion
}

// Open finds or creates the pending request for (source, candidate name).
// An existing pending request absorbs the new statements and gets its
// suggestions refreshed; a second open request for the pair is never
// created.
func (s *Service) Open(ctx context.Context, params OpenParams) (*VerificationRequest, error) {
	name := strings.TrimSpace(params.CandidateName)
	if name == "" {
		return nil, apperrors.NewValidationError("candidate_name", "is required")
	}

	var req VerificationRequest
	err := s.db.WithContext(ctx).
		Where("content_source = ? AND candidate_name = ? AND status = ?", params.Source, name, StatusPending).
		First(&req).Error

	if err == nil {
		if len(params.Statements) > 0 {
			existing, derr := req.DecodedStatements()
			if derr != nil {
				return nil, apperrors.NewVerificationFailed(req.ID.String(), "open", derr)
			}
			encoded, eerr := encodeJSON(append(existing, params.Statements...))
			if eerr != nil {
				return nil, apperrors.NewVerificationFailed(req.ID.String(), "open", eerr)
			}
			req.Statements = encoded
		}
		if len(params.Suggestions) > 0 {
			encoded, eerr := encodeJSON(params.Suggestions)
			if eerr != nil {
				return nil, apperrors.NewVerificationFailed(req.ID.String(), "open", eerr)
			}
			req.Suggestions = encoded
		}
		if req.EntityType == "" {
			req.EntityType = params.EntityType
		}
		if serr := s.db.WithContext(ctx).Save(&req).Error; serr != nil {
			return nil, apperrors.NewVerificationFailed(req.ID.String(), "open", serr)
		}
		return &req, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewVerificationFailed("", "open", err)
	}

	statements, err := encodeJSON(params.Statements)
	if err != nil {
		return nil, apperrors.NewVerificationFailed("", "open", err)
	}
	suggestions, err := encodeJSON(params.Suggestions)
	if err != nil {
		return nil, apperrors.NewVerificationFailed("", "open", err)
	}

	req = VerificationRequest{
		ContentSource: params.Source,
		CandidateName: name,
		EntityType:    params.EntityType,
		Status:        StatusPending,
		Statements:    statements,
		Suggestions:   suggestions,
	}
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return nil, apperrors.NewVerificationFailed("", "open", err)
	}

	s.logger.Info("Verification request opened",
		zap.String("request_id", req.ID.String()),
		zap.String("candidate", name),
		zap.String("source", params.Source),
	)
	return &req, nil
}

// Get loads one request.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*VerificationRequest, error) {
	var req VerificationRequest
	err := s.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFound("verification request", id.String())
	}
	if err != nil {
		return nil, apperrors.NewVerificationFailed(id.String(), "get", err)
	}
	return &req, nil
}

// ByStatus lists requests, newest first. An empty status lists all.
func (s *Service) ByStatus(ctx context.Context, status string) ([]VerificationRequest, error) {
	query := s.db.WithContext(ctx).Order("created_at desc")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var reqs []VerificationRequest
	if err := query.Find(&reqs).Error; err != nil {
		return nil, apperrors.NewVerificationFailed("", "list", err)
	}
	return reqs, nil
}

// ProcessParams carry the per-action inputs for Process.
type ProcessParams struct {
	// EntityID attaches an approve to an existing node.
	EntityID string `json:"entity_id,omitempty"`
	// TargetEntityID is the node a merge resolves the candidate to.
	TargetEntityID string `json:"target_entity_id,omitempty"`
}

// Process resolves one pending request. Terminal requests reject the call
// with a ValidationError and stay untouched.
func (s *Service) Process(ctx context.Context, id uuid.UUID, action string, params ProcessParams) (*VerificationRequest, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, apperrors.NewValidationError("status", "request already "+req.Status)
	}

	switch action {
	case ActionApprove:
		return s.processApprove(ctx, req, params.EntityID)
	case ActionReject:
		return s.processReject(ctx, req)
	case ActionMerge:
		return s.processMerge(ctx, req, params.TargetEntityID)
	default:
		return nil, apperrors.NewValidationError("action", "must be approve, reject, or merge")
	}
}

func (s *Service) processApprove(ctx context.Context, req *VerificationRequest, entityID string) (*VerificationRequest, error) {
	tx, err := s.graph.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var nodeID string
	if entityID != "" {
		node, nerr := tx.NodeByID(ctx, entityID)
		if nerr != nil {
			return nil, nerr
		}
		nodeID = node.ID
	} else {
		typeName := req.EntityType
		if typeName == "" {
			typeName = "Entity"
		}
		node, cerr := tx.CreateNode(ctx, typeName, map[string]any{
			"name":     req.CandidateName,
			"verified": true,
		})
		if cerr != nil {
			return nil, cerr
		}
		nodeID = node.ID
	}

	if err := s.replayStatements(ctx, tx, req, nodeID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return s.finalize(ctx, req, StatusApproved, &nodeID)
}

func (s *Service) processReject(ctx context.Context, req *VerificationRequest) (*VerificationRequest, error) {
	// Queued statements are discarded with the candidate.
	req.Statements = nil
	return s.finalize(ctx, req, StatusRejected, nil)
}

func (s *Service) processMerge(ctx context.Context, req *VerificationRequest, targetID string) (*VerificationRequest, error) {
	if targetID == "" {
		return nil, apperrors.NewValidationError("target_entity_id", "is required for merge")
	}

	tx, err := s.graph.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	target, err := tx.NodeByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if err := s.replayStatements(ctx, tx, req, target.ID); err != nil {
		return nil, err
	}

	// The candidate may already exist as its own node under the same
	// name; merging the request means it is an alias of the target, so
	// that duplicate is folded in too.
	moved := 0
	var sourceID *string
	duplicate, err := tx.FindNodeByName(ctx, req.EntityType, req.CandidateName)
	if err != nil {
		return nil, err
	}
	if duplicate != nil && duplicate.ID != target.ID {
		moved, err = tx.ReassignEdges(ctx, duplicate.ID, target.ID)
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteNode(ctx, duplicate.ID); err != nil {
			return nil, err
		}
		sourceID = &duplicate.ID
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	record := MergeRecord{
		SourceNodeID:       sourceID,
		TargetNodeID:       target.ID,
		RelationshipsMoved: moved,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, apperrors.NewVerificationFailed(req.ID.String(), ActionMerge, err)
	}

	return s.finalize(ctx, req, StatusMerged, &target.ID)
}

// finalize flips the status. The guard on the current status makes a
// concurrent double-process lose cleanly instead of overwriting.
func (s *Service) finalize(ctx context.Context, req *VerificationRequest, status string, nodeID *string) (*VerificationRequest, error) {
	updates := map[string]any{
		"status":           status,
		"resolved_node_id": nodeID,
		"statements":       req.Statements,
	}
	result := s.db.WithContext(ctx).
		Model(&VerificationRequest{}).
		Where("id = ? AND status = ?", req.ID, StatusPending).
		Updates(updates)
	if result.Error != nil {
		return nil, apperrors.NewVerificationFailed(req.ID.String(), status, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NewValidationError("status", "request is no longer pending")
	}

	req.Status = status
	req.ResolvedNodeID = nodeID

	s.logger.Info("Verification request resolved",
		zap.String("request_id", req.ID.String()),
		zap.String("candidate", req.CandidateName),
		zap.String("status", status),
	)
	return req, nil
}

// replayStatements attaches the queued triples with the candidate's side
// bound to nodeID. Statements whose other endpoint cannot be found are
// logged and skipped; they do not fail the action.
func (s *Service) replayStatements(ctx context.Context, tx graph.Tx, req *VerificationRequest, nodeID string) error {
	stmts, err := req.DecodedStatements()
	if err != nil {
		return apperrors.NewVerificationFailed(req.ID.String(), "replay", err)
	}

	candidate := strings.ToLower(strings.TrimSpace(req.CandidateName))
	for _, stmt := range stmts {
		srcID, err := s.resolveStatementEndpoint(ctx, tx, candidate, nodeID, stmt.Subject)
		if err != nil {
			return err
		}
		tgtID, err := s.resolveStatementEndpoint(ctx, tx, candidate, nodeID, stmt.Object)
		if err != nil {
			return err
		}
		if srcID == "" || tgtID == "" {
			s.logger.Warn("Skipping statement with unresolved endpoint",
				zap.String("request_id", req.ID.String()),
				zap.String("subject", stmt.Subject),
				zap.String("predicate", stmt.Predicate),
				zap.String("object", stmt.Object),
			)
			continue
		}
		if _, err := tx.MergeEdge(ctx, graph.Edge{
			Type:     stmt.Predicate,
			SourceID: srcID,
			TargetID: tgtID,
			Props:    stmt.Properties,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) resolveStatementEndpoint(ctx context.Context, tx graph.Tx, candidate, nodeID, ref string) (string, error) {
	if strings.ToLower(strings.TrimSpace(ref)) == candidate {
		return nodeID, nil
	}
	node, err := tx.FindNodeByName(ctx, "", ref)
	if err != nil {
		return "", err
	}
	if node != nil {
		return node.ID, nil
	}
	node, err = tx.NodeByID(ctx, ref)
	if err != nil {
		if apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
			return "", nil
		}
		return "", err
	}
	return node.ID, nil
}

// Merge folds the source node into the target: every edge re-pointed,
// the source deleted, one MergeRecord written. Retrying a merge whose
// source is already gone is a no-op success.
func (s *Service) Merge(ctx context.Context, sourceID *string, targetID string) (*MergeRecord, error) {
	if strings.TrimSpace(targetID) == "" {
		return nil, apperrors.NewValidationError("target_id", "is required")
	}
	if sourceID != nil && *sourceID == targetID {
		return nil, apperrors.NewValidationError("source_id", "cannot merge an entity into itself")
	}

	if _, err := s.graph.NodeByID(ctx, targetID); err != nil {
		return nil, err
	}

	if sourceID == nil {
		// Conceptual merge: nothing in the graph to move, still audited.
		record := &MergeRecord{TargetNodeID: targetID}
		if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
			return nil, apperrors.NewVerificationFailed("", ActionMerge, err)
		}
		return record, nil
	}

	if _, err := s.graph.NodeByID(ctx, *sourceID); err != nil {
		if !apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
			return nil, err
		}
		// Source already gone; a completed earlier attempt answers the
		// retry. No second record is written.
		var prior MergeRecord
		ferr := s.db.WithContext(ctx).
			Where("source_node_id = ? AND target_node_id = ?", *sourceID, targetID).
			Order("created_at desc").
			First(&prior).Error
		if ferr == nil {
			return &prior, nil
		}
		if !errors.Is(ferr, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewVerificationFailed("", ActionMerge, ferr)
		}
		return &MergeRecord{SourceNodeID: sourceID, TargetNodeID: targetID}, nil
	}

	tx, err := s.graph.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	moved, err := tx.ReassignEdges(ctx, *sourceID, targetID)
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteNode(ctx, *sourceID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	record := &MergeRecord{
		SourceNodeID:       sourceID,
		TargetNodeID:       targetID,
		RelationshipsMoved: moved,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, apperrors.NewVerificationFailed("", ActionMerge, err)
	}

	s.logger.Info("Entities merged",
		zap.String("source_id", *sourceID),
		zap.String("target_id", targetID),
		zap.Int("relationships_moved", moved),
	)
	return record, nil
}

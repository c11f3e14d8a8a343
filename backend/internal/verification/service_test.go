package verification

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/kenmgrimm/archimedes-sub002/backend/internal/graph"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/importer"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/match"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/config"
	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
)

func testService(t *testing.T) (*Service, *graph.MemoryStore) {
	t.Helper()
	cfg := &config.Config{
		VerificationDBDriver: "sqlite",
		VerificationDBDSN:    filepath.Join(t.TempDir(), "verification.db"),
	}
	db, err := OpenDB(cfg)
	if err != nil {
		t.Fatalf("open verification db: %v", err)
	}
	store := graph.NewMemoryStore()
	return NewService(db, store), store
}

func seedNode(t *testing.T, store *graph.MemoryStore, typeName string, props map[string]any) string {
	t.Helper()
	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	node, err := tx.CreateNode(ctx, typeName, props)
	if err != nil {
		t.Fatalf("create %s node: %v", typeName, err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit seed: %v", err)
	}
	return node.ID
}

func seedEdge(t *testing.T, store *graph.MemoryStore, edgeType, sourceID, targetID string) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if _, err := tx.MergeEdge(ctx, graph.Edge{Type: edgeType, SourceID: sourceID, TargetID: targetID}); err != nil {
		t.Fatalf("merge edge: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit seed edge: %v", err)
	}
}

func mergeRecordCount(t *testing.T, svc *Service) int64 {
	t.Helper()
	var count int64
	if err := svc.db.Model(&MergeRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count merge records: %v", err)
	}
	return count
}

func TestOpenIsUniquePerSourceAndCandidate(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	first, err := svc.Open(ctx, OpenParams{
		Source:        "note-1",
		CandidateName: "Acme Corp",
		EntityType:    "Organization",
		Statements: []importer.Statement{
			{Subject: "John Smith", Predicate: "WORKS_AT", Object: "Acme Corp"},
		},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	second, err := svc.Open(ctx, OpenParams{
		Source:        "note-1",
		CandidateName: "Acme Corp",
		Statements: []importer.Statement{
			{Subject: "Acme Corp", Predicate: "LOCATED_IN", Object: "Springfield"},
		},
		Suggestions: []match.Suggestion{
			{NodeID: "node-9", Name: "Acme Corporation", Score: 0.82, Method: "fuzzy_name"},
		},
	})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected the pending request to be reused, got %s and %s", first.ID, second.ID)
	}
	stmts, err := second.DecodedStatements()
	if err != nil {
		t.Fatalf("decode statements: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 accumulated statements, got %d", len(stmts))
	}
	suggestions, err := second.DecodedSuggestions()
	if err != nil {
		t.Fatalf("decode suggestions: %v", err)
	}
	if len(suggestions) != 1 || suggestions[0].Name != "Acme Corporation" {
		t.Fatalf("expected refreshed suggestions, got %+v", suggestions)
	}

	// A different source gets its own request.
	other, err := svc.Open(ctx, OpenParams{Source: "note-2", CandidateName: "Acme Corp"})
	if err != nil {
		t.Fatalf("open other source: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("expected a new request for a different source")
	}
}

func TestOpenRequiresCandidateName(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.Open(context.Background(), OpenParams{Source: "note-1", CandidateName: "   "})
	if !apperrors.IsErrorType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProcessApproveAttachesToExistingEntity(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	orgID := seedNode(t, store, "Organization", map[string]any{"name": "Acme Corporation"})
	johnID := seedNode(t, store, "Person", map[string]any{"name": "John Smith"})

	req, err := svc.Open(ctx, OpenParams{
		Source:        "note-1",
		CandidateName: "Acme Corp",
		EntityType:    "Organization",
		Statements: []importer.Statement{
			{Subject: "John Smith", Predicate: "WORKS_AT", Object: "Acme Corp"},
		},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	resolved, err := svc.Process(ctx, req.ID, ActionApprove, ProcessParams{EntityID: orgID})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resolved.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", resolved.Status)
	}
	if resolved.ResolvedNodeID == nil || *resolved.ResolvedNodeID != orgID {
		t.Fatalf("expected resolved node %s, got %v", orgID, resolved.ResolvedNodeID)
	}

	edges := store.Edges()
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge after approve, got %d", len(edges))
	}
	e := edges[0]
	if e.Type != "WORKS_AT" || e.SourceID != johnID || e.TargetID != orgID {
		t.Fatalf("unexpected edge %+v", e)
	}
}

func TestProcessApproveCreatesNodeWhenNoneGiven(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	req, err := svc.Open(ctx, OpenParams{
		Source:        "note-1",
		CandidateName: "Quantum Dynamics",
		EntityType:    "Organization",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	resolved, err := svc.Process(ctx, req.ID, ActionApprove, ProcessParams{})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resolved.ResolvedNodeID == nil {
		t.Fatal("expected a resolved node id")
	}

	node, err := store.NodeByID(ctx, *resolved.ResolvedNodeID)
	if err != nil {
		t.Fatalf("load created node: %v", err)
	}
	if node.Type != "Organization" {
		t.Fatalf("expected Organization node, got %s", node.Type)
	}
	if node.Props["name"] != "Quantum Dynamics" {
		t.Fatalf("expected candidate name on node, got %v", node.Props["name"])
	}
	if node.Props["verified"] != true {
		t.Fatalf("expected verified flag, got %v", node.Props["verified"])
	}
}

func TestProcessRejectDiscardsStatements(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	req, err := svc.Open(ctx, OpenParams{
		Source:        "note-1",
		CandidateName: "Acme Corp",
		Statements: []importer.Statement{
			{Subject: "John Smith", Predicate: "WORKS_AT", Object: "Acme Corp"},
		},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	resolved, err := svc.Process(ctx, req.ID, ActionReject, ProcessParams{})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if resolved.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", resolved.Status)
	}
	if resolved.ResolvedNodeID != nil {
		t.Fatalf("expected no resolved node, got %v", *resolved.ResolvedNodeID)
	}
	if len(store.Edges()) != 0 {
		t.Fatal("reject must not touch the graph")
	}

	reloaded, err := svc.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	stmts, err := reloaded.DecodedStatements()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stmts) != 0 {
		t.Fatalf("expected discarded statements, got %d", len(stmts))
	}
}

func TestProcessMergeThenRejectIsRefused(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	acmeID := seedNode(t, store, "Organization", map[string]any{"name": "Acme Corporation"})
	johnID := seedNode(t, store, "Person", map[string]any{"name": "John Smith"})

	req, err := svc.Open(ctx, OpenParams{
		Source:        "note-1",
		CandidateName: "Acme Corp",
		EntityType:    "Organization",
		Statements: []importer.Statement{
			{Subject: "John Smith", Predicate: "WORKS_AT", Object: "Acme Corp"},
		},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	resolved, err := svc.Process(ctx, req.ID, ActionMerge, ProcessParams{TargetEntityID: acmeID})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if resolved.Status != StatusMerged {
		t.Fatalf("expected merged, got %s", resolved.Status)
	}
	if resolved.ResolvedNodeID == nil || *resolved.ResolvedNodeID != acmeID {
		t.Fatalf("expected resolution to %s, got %v", acmeID, resolved.ResolvedNodeID)
	}

	edges := store.Edges()
	if len(edges) != 1 || edges[0].Type != "WORKS_AT" || edges[0].SourceID != johnID || edges[0].TargetID != acmeID {
		t.Fatalf("expected queued statement re-attached to target, got %+v", edges)
	}

	// The request is terminal now; a late reject must not change anything.
	_, err = svc.Process(ctx, req.ID, ActionReject, ProcessParams{})
	if !apperrors.IsErrorType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("expected validation error on terminal request, got %v", err)
	}
	reloaded, err := svc.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != StatusMerged {
		t.Fatalf("terminal status changed to %s", reloaded.Status)
	}
	if len(store.Edges()) != 1 {
		t.Fatal("late reject must not touch the graph")
	}
}

func TestProcessMergeFoldsDuplicateNode(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	targetID := seedNode(t, store, "Organization", map[string]any{"name": "Acme Corporation"})
	duplicateID := seedNode(t, store, "Organization", map[string]any{"name": "Acme Corp"})
	widgetID := seedNode(t, store, "Organization", map[string]any{"name": "Widget Co"})
	seedEdge(t, store, "SUPPLIES", widgetID, duplicateID)

	req, err := svc.Open(ctx, OpenParams{
		Source:        "note-1",
		CandidateName: "Acme Corp",
		EntityType:    "Organization",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := svc.Process(ctx, req.ID, ActionMerge, ProcessParams{TargetEntityID: targetID}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if _, err := store.NodeByID(ctx, duplicateID); !apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("expected duplicate node deleted, got %v", err)
	}
	edges := store.Edges()
	if len(edges) != 1 || edges[0].SourceID != widgetID || edges[0].TargetID != targetID {
		t.Fatalf("expected duplicate's edge re-pointed at target, got %+v", edges)
	}

	var record MergeRecord
	if err := svc.db.First(&record).Error; err != nil {
		t.Fatalf("load merge record: %v", err)
	}
	if record.SourceNodeID == nil || *record.SourceNodeID != duplicateID {
		t.Fatalf("expected merge record source %s, got %v", duplicateID, record.SourceNodeID)
	}
	if record.TargetNodeID != targetID || record.RelationshipsMoved != 1 {
		t.Fatalf("unexpected merge record %+v", record)
	}
}

func TestProcessValidation(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	req, err := svc.Open(ctx, OpenParams{Source: "note-1", CandidateName: "Acme Corp"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := svc.Process(ctx, req.ID, ActionMerge, ProcessParams{}); !apperrors.IsErrorType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("merge without target: expected validation error, got %v", err)
	}
	if _, err := svc.Process(ctx, req.ID, "promote", ProcessParams{}); !apperrors.IsErrorType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("unknown action: expected validation error, got %v", err)
	}
	if _, err := svc.Process(ctx, uuid.New(), ActionReject, ProcessParams{}); !apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("unknown id: expected not found, got %v", err)
	}
}

func TestMergeMovesEdgesAndIsIdempotent(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	sourceID := seedNode(t, store, "Organization", map[string]any{"name": "Initech"})
	targetID := seedNode(t, store, "Organization", map[string]any{"name": "Initech Inc"})
	personID := seedNode(t, store, "Person", map[string]any{"name": "Peter Gibbons"})
	seedEdge(t, store, "WORKS_AT", personID, sourceID)

	record, err := svc.Merge(ctx, &sourceID, targetID)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if record.RelationshipsMoved != 1 {
		t.Fatalf("expected 1 relationship moved, got %d", record.RelationshipsMoved)
	}
	if _, err := store.NodeByID(ctx, sourceID); !apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("expected source deleted, got %v", err)
	}
	edges := store.Edges()
	if len(edges) != 1 || edges[0].TargetID != targetID {
		t.Fatalf("expected edge re-pointed at target, got %+v", edges)
	}
	if got := mergeRecordCount(t, svc); got != 1 {
		t.Fatalf("expected 1 merge record, got %d", got)
	}

	// Retrying after the source is gone answers with the earlier record
	// instead of failing or double-counting.
	again, err := svc.Merge(ctx, &sourceID, targetID)
	if err != nil {
		t.Fatalf("retry merge: %v", err)
	}
	if again.ID != record.ID {
		t.Fatalf("expected the original merge record, got %s and %s", record.ID, again.ID)
	}
	if got := mergeRecordCount(t, svc); got != 1 {
		t.Fatalf("retry must not write a second record, got %d", got)
	}
}

func TestMergeGuards(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	id := seedNode(t, store, "Organization", map[string]any{"name": "Acme Corporation"})

	if _, err := svc.Merge(ctx, &id, id); !apperrors.IsErrorType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("self merge: expected validation error, got %v", err)
	}
	if _, err := svc.Merge(ctx, &id, "missing-target"); !apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("missing target: expected not found, got %v", err)
	}
	if _, err := svc.Merge(ctx, nil, ""); !apperrors.IsErrorType(err, apperrors.ErrorTypeValidation) {
		t.Fatalf("blank target: expected validation error, got %v", err)
	}
}

func TestMergeConceptualSource(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	targetID := seedNode(t, store, "Organization", map[string]any{"name": "Acme Corporation"})

	record, err := svc.Merge(ctx, nil, targetID)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if record.SourceNodeID != nil {
		t.Fatalf("expected nil source, got %v", *record.SourceNodeID)
	}
	if record.TargetNodeID != targetID || record.RelationshipsMoved != 0 {
		t.Fatalf("unexpected record %+v", record)
	}
	if got := mergeRecordCount(t, svc); got != 1 {
		t.Fatalf("expected the conceptual merge audited, got %d records", got)
	}
}

func TestPolicyDefersOnlyAmbiguousCandidates(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	policy := NewPolicy(svc)

	entity := importer.Entity{Type: "Person", Name: "Michelle Brown"}

	deferred, err := policy.ResolveUnmatched(ctx, "note-7", entity, match.Resolution{})
	if err != nil {
		t.Fatalf("resolve clean miss: %v", err)
	}
	if deferred {
		t.Fatal("a candidate without suggestions must not be deferred")
	}

	res := match.Resolution{
		Ambiguous: true,
		Suggestions: []match.Suggestion{
			{NodeID: "node-1", Name: "Michael Brown", Score: 0.81, Method: "fuzzy_name"},
		},
	}
	deferred, err = policy.ResolveUnmatched(ctx, "note-7", entity, res)
	if err != nil {
		t.Fatalf("resolve ambiguous: %v", err)
	}
	if !deferred {
		t.Fatal("an ambiguous candidate must be deferred")
	}

	if err := policy.QueueStatement(ctx, "note-7", "Michelle Brown", importer.Statement{
		Subject:   "Michelle Brown",
		Predicate: "WORKS_AT",
		Object:    "Acme Corp",
	}); err != nil {
		t.Fatalf("queue statement: %v", err)
	}

	pending, err := svc.ByStatus(ctx, StatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected a single pending request, got %d", len(pending))
	}
	req := pending[0]
	if req.CandidateName != "Michelle Brown" || req.EntityType != "Person" {
		t.Fatalf("unexpected request %+v", req)
	}
	stmts, err := req.DecodedStatements()
	if err != nil {
		t.Fatalf("decode statements: %v", err)
	}
	if len(stmts) != 1 || stmts[0].Predicate != "WORKS_AT" {
		t.Fatalf("expected the queued statement, got %+v", stmts)
	}
	suggestions, err := req.DecodedSuggestions()
	if err != nil {
		t.Fatalf("decode suggestions: %v", err)
	}
	if len(suggestions) != 1 || suggestions[0].Name != "Michael Brown" {
		t.Fatalf("expected the near-miss suggestion kept, got %+v", suggestions)
	}
}

package graph

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
)

func mustCreate(t *testing.T, tx Tx, typeName string, props map[string]any) *Node {
	t.Helper()
	node, err := tx.CreateNode(context.Background(), typeName, props)
	if err != nil {
		t.Fatalf("CreateNode(%s): %v", typeName, err)
	}
	return node
}

func mustBegin(t *testing.T, store Store) Tx {
	t.Helper()
	tx, err := store.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	return tx
}

func TestMemoryStoreCommitMakesWritesVisible(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	created := mustCreate(t, tx, "Person", map[string]any{"name": "Ada Lovelace"})

	// Uncommitted writes must not leak into store-level reads.
	if _, err := store.NodeByID(ctx, created.ID); !apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("expected not-found before commit, got %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := store.NodeByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("NodeByID after commit: %v", err)
	}
	if got.Type != "Person" || got.Props["name"] != "Ada Lovelace" {
		t.Errorf("unexpected node after commit: %+v", got)
	}
	if got.Props["created_at"] == nil || got.Props["updated_at"] == nil {
		t.Error("expected timestamps to be set on create")
	}
}

func TestMemoryStoreRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	created := mustCreate(t, tx, "Person", map[string]any{"name": "Grace Hopper"})
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if _, err := store.NodeByID(ctx, created.ID); !apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("expected not-found after rollback, got %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Nodes != 0 {
		t.Errorf("expected empty store after rollback, got %d nodes", stats.Nodes)
	}
}

func TestMemoryStoreCommitFailureDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetFailCommit(errors.New("connection reset"))

	tx := mustBegin(t, store)
	mustCreate(t, tx, "Person", map[string]any{"name": "Alan Turing"})

	err := tx.Commit(ctx)
	if err == nil {
		t.Fatal("expected commit to fail")
	}
	if !apperrors.IsCommitError(err) {
		t.Errorf("expected a commit error, got %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Nodes != 0 {
		t.Errorf("failed commit must leave nothing behind, got %d nodes", stats.Nodes)
	}
}

func TestMemoryStoreUpdateIsPartial(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	created := mustCreate(t, tx, "Person", map[string]any{
		"name":  "John Smith",
		"email": "john@example.com",
		"phone": "555-0100",
	})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx = mustBegin(t, store)
	updated, err := tx.UpdateNodeProps(ctx, created.ID, map[string]any{"phone": "555-0199"})
	if err != nil {
		t.Fatalf("UpdateNodeProps: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if updated.Props["phone"] != "555-0199" {
		t.Errorf("phone not updated: %v", updated.Props["phone"])
	}
	if updated.Props["email"] != "john@example.com" || updated.Props["name"] != "John Smith" {
		t.Errorf("partial update erased untouched properties: %+v", updated.Props)
	}
}

func TestMemoryStoreUpdateCannotChangeIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	created := mustCreate(t, tx, "Person", map[string]any{"name": "Jane Doe"})
	updated, err := tx.UpdateNodeProps(ctx, created.ID, map[string]any{
		"id":   "forged",
		"type": "Organization",
		"name": "Jane A. Doe",
	})
	if err != nil {
		t.Fatalf("UpdateNodeProps: %v", err)
	}
	if updated.ID != created.ID || updated.Type != "Person" {
		t.Errorf("managed keys must not be writable: %+v", updated)
	}
	if updated.Props["name"] != "Jane A. Doe" {
		t.Errorf("name should still update: %v", updated.Props["name"])
	}
}

func TestMemoryStoreMergeEdgeCollapsesDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	a := mustCreate(t, tx, "Person", map[string]any{"name": "John Smith"})
	b := mustCreate(t, tx, "Organization", map[string]any{"name": "Acme Corp"})

	created, err := tx.MergeEdge(ctx, Edge{Type: "WORKS_AT", SourceID: a.ID, TargetID: b.ID, Props: map[string]any{"role": "engineer"}})
	if err != nil {
		t.Fatalf("MergeEdge: %v", err)
	}
	if !created {
		t.Error("first merge should create the edge")
	}

	created, err = tx.MergeEdge(ctx, Edge{Type: "WORKS_AT", SourceID: a.ID, TargetID: b.ID, Props: map[string]any{"role": "principal engineer"}})
	if err != nil {
		t.Fatalf("MergeEdge repeat: %v", err)
	}
	if created {
		t.Error("second merge of the same edge should update, not create")
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	edges := store.Edges()
	if len(edges) != 1 {
		t.Fatalf("expected a single collapsed edge, got %d", len(edges))
	}
	if edges[0].Props["role"] != "principal engineer" {
		t.Errorf("repeat merge should refresh properties: %v", edges[0].Props)
	}
}

func TestMemoryStoreMergeEdgeMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	a := mustCreate(t, tx, "Person", map[string]any{"name": "John Smith"})

	_, err := tx.MergeEdge(ctx, Edge{Type: "WORKS_AT", SourceID: a.ID, TargetID: "no-such-node"})
	if !apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("expected not-found for missing endpoint, got %v", err)
	}
}

func TestMemoryStoreReassignEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	src := mustCreate(t, tx, "Person", map[string]any{"name": "J. Smith"})
	dst := mustCreate(t, tx, "Person", map[string]any{"name": "John Smith"})
	org := mustCreate(t, tx, "Organization", map[string]any{"name": "Acme Corp"})
	doc := mustCreate(t, tx, "Document", map[string]any{"title": "Q3 Report"})

	for _, e := range []Edge{
		{Type: "WORKS_AT", SourceID: src.ID, TargetID: org.ID},
		{Type: "AUTHORED_BY", SourceID: doc.ID, TargetID: src.ID},
		{Type: "KNOWS", SourceID: src.ID, TargetID: dst.ID},
	} {
		if _, err := tx.MergeEdge(ctx, e); err != nil {
			t.Fatalf("MergeEdge(%s): %v", e.Type, err)
		}
	}

	moved, err := tx.ReassignEdges(ctx, src.ID, dst.ID)
	if err != nil {
		t.Fatalf("ReassignEdges: %v", err)
	}
	// KNOWS would become a self-loop and is dropped, the other two move.
	if moved != 2 {
		t.Errorf("expected 2 moved edges, got %d", moved)
	}
	if err := tx.DeleteNode(ctx, src.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	edges := store.Edges()
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges after reassign, got %d: %+v", len(edges), edges)
	}
	for _, e := range edges {
		if e.SourceID == src.ID || e.TargetID == src.ID {
			t.Errorf("edge still references deleted node: %+v", e)
		}
		if e.SourceID == e.TargetID {
			t.Errorf("reassign produced a self-loop: %+v", e)
		}
	}
}

func TestMemoryStoreReassignCollapsesParallelEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	src := mustCreate(t, tx, "Person", map[string]any{"name": "J. Smith"})
	dst := mustCreate(t, tx, "Person", map[string]any{"name": "John Smith"})
	org := mustCreate(t, tx, "Organization", map[string]any{"name": "Acme Corp"})

	if _, err := tx.MergeEdge(ctx, Edge{Type: "WORKS_AT", SourceID: src.ID, TargetID: org.ID}); err != nil {
		t.Fatalf("MergeEdge: %v", err)
	}
	if _, err := tx.MergeEdge(ctx, Edge{Type: "WORKS_AT", SourceID: dst.ID, TargetID: org.ID}); err != nil {
		t.Fatalf("MergeEdge: %v", err)
	}

	moved, err := tx.ReassignEdges(ctx, src.ID, dst.ID)
	if err != nil {
		t.Fatalf("ReassignEdges: %v", err)
	}
	// Collapsing into the target's existing WORKS_AT edge still counts.
	if moved != 1 {
		t.Errorf("expected 1 moved edge, got %d", moved)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if edges := store.Edges(); len(edges) != 1 {
		t.Errorf("expected parallel edges to collapse to 1, got %d", len(edges))
	}
}

func TestMemoryStoreDeleteNodeDetachesEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	a := mustCreate(t, tx, "Person", map[string]any{"name": "John Smith"})
	b := mustCreate(t, tx, "Organization", map[string]any{"name": "Acme Corp"})
	if _, err := tx.MergeEdge(ctx, Edge{Type: "WORKS_AT", SourceID: a.ID, TargetID: b.ID}); err != nil {
		t.Fatalf("MergeEdge: %v", err)
	}
	if err := tx.DeleteNode(ctx, a.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if edges := store.Edges(); len(edges) != 0 {
		t.Errorf("expected edges to be removed with the node, got %+v", edges)
	}
	if _, err := store.NodeByID(ctx, b.ID); err != nil {
		t.Errorf("unrelated node should survive: %v", err)
	}
}

func TestMemoryStoreFindNodeByName(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	mustCreate(t, tx, "Organization", map[string]any{"name": "Acme Corp"})
	mustCreate(t, tx, "Document", map[string]any{"title": "Q3 Report"})

	got, err := tx.FindNodeByName(ctx, "Organization", "acme corp")
	if err != nil {
		t.Fatalf("FindNodeByName: %v", err)
	}
	if got == nil || got.Props["name"] != "Acme Corp" {
		t.Errorf("case-insensitive name lookup failed: %+v", got)
	}

	got, err = tx.FindNodeByName(ctx, "Document", "Q3 Report")
	if err != nil {
		t.Fatalf("FindNodeByName by title: %v", err)
	}
	if got == nil {
		t.Error("title should satisfy a name lookup")
	}

	got, err = tx.FindNodeByName(ctx, "Organization", "Globex")
	if err != nil {
		t.Fatalf("FindNodeByName miss: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for absent name, got %+v", got)
	}
}

func TestMemoryStoreEmbeddingLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	a := mustCreate(t, tx, "Person", map[string]any{"name": "John Smith"})
	b := mustCreate(t, tx, "Person", map[string]any{"name": "Jane Doe"})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	missing, err := store.NodesMissingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("NodesMissingEmbedding: %v", err)
	}
	if len(missing) != 2 {
		t.Fatalf("expected 2 nodes without embeddings, got %d", len(missing))
	}

	if err := store.SetEmbedding(ctx, a.ID, []float64{0.1, 0.2}); err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}

	missing, err = store.NodesMissingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("NodesMissingEmbedding: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != b.ID {
		t.Errorf("expected only the unembedded node, got %+v", missing)
	}

	if err := store.SetEmbedding(ctx, "no-such-node", []float64{0.1}); !apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
		t.Errorf("expected not-found for unknown node, got %v", err)
	}
}

func TestMemoryStoreClearAndStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	a := mustCreate(t, tx, "Person", map[string]any{"name": "John Smith"})
	b := mustCreate(t, tx, "Person", map[string]any{"name": "Jane Doe"})
	org := mustCreate(t, tx, "Organization", map[string]any{"name": "Acme Corp"})
	if _, err := tx.MergeEdge(ctx, Edge{Type: "WORKS_AT", SourceID: a.ID, TargetID: org.ID}); err != nil {
		t.Fatalf("MergeEdge: %v", err)
	}
	_ = b
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Nodes != 3 || stats.Edges != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.NodesByType["Person"] != 2 || stats.NodesByType["Organization"] != 1 {
		t.Errorf("unexpected per-type counts: %+v", stats.NodesByType)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	stats, err = store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats after clear: %v", err)
	}
	if stats.Nodes != 0 || stats.Edges != 0 {
		t.Errorf("expected empty store after clear: %+v", stats)
	}
}

func TestMemoryStoreInvalidTypeNames(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx := mustBegin(t, store)
	if _, err := tx.CreateNode(ctx, "Person; DROP", nil); !apperrors.IsErrorType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("expected validation error for bad label, got %v", err)
	}

	a := mustCreate(t, tx, "Person", map[string]any{"name": "John Smith"})
	b := mustCreate(t, tx, "Person", map[string]any{"name": "Jane Doe"})
	if _, err := tx.MergeEdge(ctx, Edge{Type: "KNOWS OF", SourceID: a.ID, TargetID: b.ID}); !apperrors.IsErrorType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("expected validation error for bad relationship type, got %v", err)
	}
}

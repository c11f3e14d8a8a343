// Package graph stores the knowledge graph: typed nodes with properties,
// typed directed edges, and the transactional operations the import and
// verification pipelines apply to them. Repository talks to Neo4j;
// MemoryStore backs tests and offline runs with the same contract.
package graph

import "context"

// Store is the graph surface consumed by the importer, the verification
// workflow, and the embedding backfill. Reads outside a transaction see
// committed state only; no graph state is cached across calls.
type Store interface {
	// BeginTx opens one write transaction. Every mutation in an import
	// batch or a verification action goes through a single Tx.
	BeginTx(ctx context.Context) (Tx, error)

	// NodeByID looks up one node by its stable identifier.
	NodeByID(ctx context.Context, id string) (*Node, error)

	// NodesByType scans every node carrying the given type label; the
	// matcher resolves candidates against this set.
	NodesByType(ctx context.Context, typeName string) ([]Node, error)

	// NodesMissingEmbedding returns up to limit nodes without a stored
	// embedding vector, oldest first.
	NodesMissingEmbedding(ctx context.Context, limit int) ([]Node, error)

	// SetEmbedding stores an embedding vector on a node.
	SetEmbedding(ctx context.Context, id string, embedding []float64) error

	// Stats reports node/edge counts.
	Stats(ctx context.Context) (*Stats, error)

	// Clear removes every entity node and its edges. Destructive; used by
	// reseed flows only.
	Clear(ctx context.Context) error

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// Tx is one open write transaction. Commit applies everything atomically;
// Rollback (or an abandoned Tx) applies nothing. Rollback after Commit is
// a no-op so it can sit in a defer.
type Tx interface {
	// CreateNode persists a new node of the given type and returns it
	// with its assigned identifier.
	CreateNode(ctx context.Context, typeName string, props map[string]any) (*Node, error)

	// UpdateNodeProps overwrites only the provided keys; untouched
	// properties survive. Partial updates never erase.
	UpdateNodeProps(ctx context.Context, id string, props map[string]any) (*Node, error)

	// NodeByID reads a node, seeing this transaction's own writes.
	NodeByID(ctx context.Context, id string) (*Node, error)

	// NodesByType scans nodes of a type, seeing this transaction's own
	// writes. Entity resolution within a batch reads through this so
	// earlier creations in the same batch are candidates for later items.
	NodesByType(ctx context.Context, typeName string) ([]Node, error)

	// FindNodeByName finds a node of a type by case-insensitive name.
	// An empty typeName searches across all types.
	FindNodeByName(ctx context.Context, typeName, name string) (*Node, error)

	// MergeEdge find-or-creates the edge keyed by (type, source, target):
	// an existing edge gets its properties updated in place. Returns
	// whether the edge was newly created.
	MergeEdge(ctx context.Context, edge Edge) (bool, error)

	// ReassignEdges re-points every edge touching fromID (either
	// direction) to toID and returns the number of edges moved.
	ReassignEdges(ctx context.Context, fromID, toID string) (int, error)

	// DeleteNode removes a node and any remaining edges on it.
	DeleteNode(ctx context.Context, id string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

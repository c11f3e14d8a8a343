package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/logger"

	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
)

// entityLabel is carried by every node in addition to its type label so
// cross-type operations (point lookup, clear, stats) stay scoped to this
// application's data.
const entityLabel = "Entity"

// Repository handles all Neo4j graph operations.
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new graph repository.
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Get(),
	}
}

// Close closes the Neo4j driver connection.
func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// BeginTx opens a write session with an explicit transaction.
func (r *Repository) BeginTx(ctx context.Context) (Tx, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		session.Close(ctx)
		return nil, apperrors.NewStorageError("begin transaction", err)
	}
	return &repoTx{session: session, tx: tx, logger: r.logger}, nil
}

// NodeByID looks up one node by its stable identifier.
func (r *Repository) NodeByID(ctx context.Context, id string) (*Node, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity {id: $id})
		RETURN n{.*} as props
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"id": id,
	})
	if err != nil {
		return nil, apperrors.NewStorageError("node lookup", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewStorageError("node lookup", err)
		}
		return nil, apperrors.NewNotFound("node", id)
	}

	return nodeFromRecord(result.Record(), "props")
}

// NodesByType scans every node of one type; candidate set for matching.
func (r *Repository) NodesByType(ctx context.Context, typeName string) ([]Node, error) {
	label, err := safeLabel(typeName)
	if err != nil {
		return nil, err
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (n:%s)
		RETURN n{.*} as props
		ORDER BY n.created_at
	`, label)

	result, err := session.Run(ctx, query, map[string]interface{}{})
	if err != nil {
		return nil, apperrors.NewStorageError("type scan", err)
	}

	var nodes []Node
	for result.Next(ctx) {
		node, err := nodeFromRecord(result.Record(), "props")
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewStorageError("type scan", err)
	}

	return nodes, nil
}

// NodesMissingEmbedding returns nodes without a stored embedding vector.
func (r *Repository) NodesMissingEmbedding(ctx context.Context, limit int) ([]Node, error) {
	if limit < 1 {
		limit = 100
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity)
		WHERE n.embedding IS NULL
		RETURN n{.*} as props
		ORDER BY n.created_at
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"limit": limit,
	})
	if err != nil {
		return nil, apperrors.NewStorageError("embedding scan", err)
	}

	var nodes []Node
	for result.Next(ctx) {
		node, err := nodeFromRecord(result.Record(), "props")
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewStorageError("embedding scan", err)
	}

	return nodes, nil
}

// SetEmbedding stores an embedding vector on a node.
func (r *Repository) SetEmbedding(ctx context.Context, id string, embedding []float64) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity {id: $id})
		SET n.embedding = $embedding,
		    n.embedded_at = datetime()
		RETURN n.id as id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"id":        id,
		"embedding": embedding,
	})
	if err != nil {
		return apperrors.NewStorageError("set embedding", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return apperrors.NewStorageError("set embedding", err)
		}
		return apperrors.NewNotFound("node", id)
	}

	return nil
}

// Stats reports node and edge counts.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (n:Entity)
		OPTIONAL MATCH (:Entity)-[r]->(:Entity)
		WITH count(DISTINCT n) as nodes, count(DISTINCT r) as edges
		RETURN nodes, edges
	`

	result, err := session.Run(ctx, query, map[string]interface{}{})
	if err != nil {
		return nil, apperrors.NewStorageError("stats", err)
	}

	stats := &Stats{NodesByType: make(map[string]int64)}
	if result.Next(ctx) {
		record := result.Record()
		stats.Nodes = getInt64(record, "nodes", 0)
		stats.Edges = getInt64(record, "edges", 0)
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewStorageError("stats", err)
	}

	byType, err := session.Run(ctx, `
		MATCH (n:Entity)
		RETURN n.type as type, count(n) as count
	`, map[string]interface{}{})
	if err != nil {
		return nil, apperrors.NewStorageError("stats", err)
	}
	for byType.Next(ctx) {
		record := byType.Record()
		typeName := getString(record, "type", "")
		if typeName != "" {
			stats.NodesByType[typeName] = getInt64(record, "count", 0)
		}
	}
	if err := byType.Err(); err != nil {
		return nil, apperrors.NewStorageError("stats", err)
	}

	return stats, nil
}

// Clear removes every entity node and its edges. Destructive.
func (r *Repository) Clear(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `MATCH (n:Entity) DETACH DELETE n`, map[string]interface{}{})
	if err != nil {
		return apperrors.NewStorageError("clear", err)
	}

	r.logger.Warn("graph cleared")
	return nil
}

// newNodeID assigns graph identifiers; one place to change the scheme.
func newNodeID() string {
	return uuid.New().String()
}

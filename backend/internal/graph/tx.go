package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
)

// repoTx wraps one explicit Neo4j transaction. All statements run through
// tx.Run so nothing is visible outside until Commit.
type repoTx struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	logger  *zap.Logger
	done    bool
}

var _ Tx = (*repoTx)(nil)

// CreateNode persists a new node with a generated identifier.
func (t *repoTx) CreateNode(ctx context.Context, typeName string, props map[string]any) (*Node, error) {
	label, err := safeLabel(typeName)
	if err != nil {
		return nil, err
	}

	id := newNodeID()
	query := fmt.Sprintf(`
		CREATE (n:Entity:%s)
		SET n = $props,
		    n.id = $id,
		    n.type = $type,
		    n.created_at = datetime(),
		    n.updated_at = datetime()
		RETURN n{.*} as props
	`, label)

	result, err := t.tx.Run(ctx, query, map[string]interface{}{
		"id":    id,
		"type":  typeName,
		"props": sanitizeProps(props),
	})
	if err != nil {
		return nil, apperrors.NewStorageError("create node", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("create node", err)
	}

	return nodeFromRecord(record, "props")
}

// UpdateNodeProps overwrites only the provided keys.
func (t *repoTx) UpdateNodeProps(ctx context.Context, id string, props map[string]any) (*Node, error) {
	query := `
		MATCH (n:Entity {id: $id})
		SET n += $props,
		    n.updated_at = datetime()
		RETURN n{.*} as props
	`

	result, err := t.tx.Run(ctx, query, map[string]interface{}{
		"id":    id,
		"props": sanitizeProps(props),
	})
	if err != nil {
		return nil, apperrors.NewStorageError("update node", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewStorageError("update node", err)
		}
		return nil, apperrors.NewNotFound("node", id)
	}

	return nodeFromRecord(result.Record(), "props")
}

// NodeByID reads a node inside this transaction.
func (t *repoTx) NodeByID(ctx context.Context, id string) (*Node, error) {
	result, err := t.tx.Run(ctx, `
		MATCH (n:Entity {id: $id})
		RETURN n{.*} as props
	`, map[string]interface{}{
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

// NodesByType scans nodes of a type through this transaction, so writes
// earlier in the same batch are already candidates for later items.
func (t *repoTx) NodesByType(ctx context.Context, typeName string) ([]Node, error) {
	label, err := safeLabel(typeName)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		MATCH (n:Entity:%s)
		RETURN n{.*} as props
		ORDER BY n.created_at
	`, label)

	result, err := t.tx.Run(ctx, query, map[string]interface{}{})
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

// FindNodeByName finds one node by case-insensitive name. An empty
// typeName searches all types. A miss returns (nil, nil): absent is a
// normal lookup outcome here.
func (t *repoTx) FindNodeByName(ctx context.Context, typeName, name string) (*Node, error) {
	matchClause := "MATCH (n:Entity)"
	if typeName != "" {
		label, err := safeLabel(typeName)
		if err != nil {
			return nil, err
		}
		matchClause = fmt.Sprintf("MATCH (n:Entity:%s)", label)
	}

	query := matchClause + `
		WHERE toLower(n.name) = toLower($name) OR toLower(n.title) = toLower($name)
		RETURN n{.*} as props
		LIMIT 1
	`

	result, err := t.tx.Run(ctx, query, map[string]interface{}{
		"name": name,
	})
	if err != nil {
		return nil, apperrors.NewStorageError("name lookup", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewStorageError("name lookup", err)
		}
		return nil, nil
	}

	return nodeFromRecord(result.Record(), "props")
}

// MergeEdge find-or-creates the edge keyed by (type, source, target).
func (t *repoTx) MergeEdge(ctx context.Context, edge Edge) (bool, error) {
	relType, err := safeRelType(edge.Type)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		MATCH (a:Entity {id: $sourceID})
		MATCH (b:Entity {id: $targetID})
		MERGE (a)-[rel:%s]->(b)
		ON CREATE SET rel = $props, rel.created_at = datetime()
		ON MATCH SET rel += $props, rel.updated_at = datetime()
		RETURN rel.updated_at IS NULL as created
	`, relType)

	result, err := t.tx.Run(ctx, query, map[string]interface{}{
		"sourceID": edge.SourceID,
		"targetID": edge.TargetID,
		"props":    sanitizeProps(edge.Props),
	})
	if err != nil {
		return false, apperrors.NewStorageError("merge edge", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return false, apperrors.NewStorageError("merge edge", err)
		}
		return false, apperrors.NewNotFound("edge endpoints", edge.SourceID+" -> "+edge.TargetID)
	}

	created, _ := result.Record().Get("created")
	flag, ok := created.(bool)
	return ok && flag, nil
}

// ReassignEdges re-points every edge touching fromID to toID. Edges
// between the two nodes are dropped rather than turned into self-loops.
// Collapsing into an existing edge of the same type still counts as moved.
func (t *repoTx) ReassignEdges(ctx context.Context, fromID, toID string) (int, error) {
	var moves []Edge

	outgoing, err := t.tx.Run(ctx, `
		MATCH (s:Entity {id: $fromID})-[r]->(o:Entity)
		RETURN type(r) as rel_type, properties(r) as props, o.id as other_id
	`, map[string]interface{}{
		"fromID": fromID,
	})
	if err != nil {
		return 0, apperrors.NewStorageError("collect outgoing edges", err)
	}
	for outgoing.Next(ctx) {
		record := outgoing.Record()
		otherID := getString(record, "other_id", "")
		if otherID == fromID || otherID == toID {
			continue
		}
		moves = append(moves, Edge{
			Type:     getString(record, "rel_type", ""),
			SourceID: toID,
			TargetID: otherID,
			Props:    getProps(record, "props"),
		})
	}
	if err := outgoing.Err(); err != nil {
		return 0, apperrors.NewStorageError("collect outgoing edges", err)
	}

	incoming, err := t.tx.Run(ctx, `
		MATCH (o:Entity)-[r]->(s:Entity {id: $fromID})
		WHERE o.id <> $fromID
		RETURN type(r) as rel_type, properties(r) as props, o.id as other_id
	`, map[string]interface{}{
		"fromID": fromID,
	})
	if err != nil {
		return 0, apperrors.NewStorageError("collect incoming edges", err)
	}
	for incoming.Next(ctx) {
		record := incoming.Record()
		otherID := getString(record, "other_id", "")
		if otherID == toID {
			continue
		}
		moves = append(moves, Edge{
			Type:     getString(record, "rel_type", ""),
			SourceID: otherID,
			TargetID: toID,
			Props:    getProps(record, "props"),
		})
	}
	if err := incoming.Err(); err != nil {
		return 0, apperrors.NewStorageError("collect incoming edges", err)
	}

	for _, edge := range moves {
		if _, err := t.MergeEdge(ctx, edge); err != nil {
			return 0, fmt.Errorf("failed to re-point edge %s: %w", edge.Type, err)
		}
	}

	// Old edges disappear with the source node on DeleteNode; detach here
	// so a caller who keeps the source sees a consistent state.
	if _, err := t.tx.Run(ctx, `
		MATCH (s:Entity {id: $fromID})-[r]-()
		DELETE r
	`, map[string]interface{}{
		"fromID": fromID,
	}); err != nil {
		return 0, apperrors.NewStorageError("detach reassigned edges", err)
	}

	return len(moves), nil
}

// DeleteNode removes a node and any remaining edges on it.
func (t *repoTx) DeleteNode(ctx context.Context, id string) error {
	_, err := t.tx.Run(ctx, `
		MATCH (n:Entity {id: $id})
		DETACH DELETE n
	`, map[string]interface{}{
		"id": id,
	})
	if err != nil {
		return apperrors.NewStorageError("delete node", err)
	}
	return nil
}

// Commit applies the transaction; failure aborts the whole batch.
func (t *repoTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.session.Close(ctx)

	if err := t.tx.Commit(ctx); err != nil {
		t.logger.Error("transaction commit failed", zap.Error(err))
		return apperrors.NewCommitError(err)
	}
	return nil
}

// Rollback discards the transaction; safe after Commit so it can sit in
// a defer.
func (t *repoTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.session.Close(ctx)

	if err := t.tx.Rollback(ctx); err != nil {
		return apperrors.NewStorageError("rollback", err)
	}
	return nil
}

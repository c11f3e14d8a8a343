// Package importer applies batches of extracted entities and
// relationships to the graph. Each batch runs in one write transaction:
// entities resolve against existing nodes of their type (update on match,
// create or defer otherwise), then relationships find-or-create edges
// between resolved endpoints. Per-item failures are collected, not fatal;
// only a malformed batch or a failed commit aborts the pass.
package importer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kenmgrimm/archimedes-sub002/backend/internal/graph"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/match"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/taxonomy"
	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/logger"
)

// Importer orchestrates one import pass at a time. Independent batches
// may run concurrently; the store's transaction isolation is the only
// coordination between them.
type Importer struct {
	store    graph.Store
	registry *taxonomy.Registry
	matcher  *match.Matcher
	policy   ResolutionPolicy
	logger   *zap.Logger
}

// NewImporter wires the orchestrator with the default auto-create policy.
func NewImporter(store graph.Store, registry *taxonomy.Registry, matcher *match.Matcher) *Importer {
	return &Importer{
		store:    store,
		registry: registry,
		matcher:  matcher,
		policy:   AutoCreate{},
		logger:   logger.Get(),
	}
}

// SetResolutionPolicy replaces the auto-create policy.
func (imp *Importer) SetResolutionPolicy(policy ResolutionPolicy) {
	if policy != nil {
		imp.policy = policy
	}
}

// Import applies one batch. Entities are processed before relationships,
// both in array order. The returned Result carries counts plus the
// per-item soft errors; a non-nil error means nothing was committed.
func (imp *Importer) Import(ctx context.Context, batch *Batch, opts Options) (*Result, error) {
	if err := validateShape(batch); err != nil {
		return nil, err
	}

	if opts.ClearDatabase {
		if err := imp.store.Clear(ctx); err != nil {
			return nil, err
		}
	}

	tx, err := imp.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	result := &Result{}
	// Entity step results, keyed by normalized name and by extraction id,
	// carried into relationship endpoint resolution.
	assigned := make(map[string]string)
	// Candidates routed to verification; relationships touching them are
	// queued as statements instead of created.
	deferred := make(map[string]string)

	for i, entity := range batch.Entities {
		if err := ctx.Err(); err != nil {
			tx.Rollback(ctx)
			return nil, cancellation("import entities", err)
		}
		imp.importEntity(ctx, tx, batch.Source, i, entity, opts, result, assigned, deferred)
	}

	for i, rel := range batch.Relationships {
		if err := ctx.Err(); err != nil {
			tx.Rollback(ctx)
			return nil, cancellation("import relationships", err)
		}
		imp.importRelationship(ctx, tx, batch.Source, i, rel, result, assigned, deferred)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	imp.logger.Info("Import complete",
		zap.String("source", batch.Source),
		zap.Int("entities_created", result.EntitiesCreated),
		zap.Int("entities_updated", result.EntitiesUpdated),
		zap.Int("entities_deferred", result.EntitiesDeferred),
		zap.Int("relationships_created", result.RelationshipsCreated),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (imp *Importer) importEntity(ctx context.Context, tx graph.Tx, source string, idx int, entity Entity, opts Options, result *Result, assigned, deferred map[string]string) {
	typeName := strings.TrimSpace(entity.Type)

	props := imp.registry.MapKeys(typeName, entity.Properties)
	if entity.Name != "" && isBlankValue(props["name"]) {
		props["name"] = entity.Name
	}
	// The graph owns the id key; extraction-time ids live under
	// external_id so re-imports still identity-match.
	if v, ok := props["id"]; ok {
		if isBlankValue(props["external_id"]) {
			props["external_id"] = v
		}
		delete(props, "id")
	}

	name := entityDisplayName(entity, props)

	if opts.ValidateSchema {
		if verrs := imp.registry.Validate(typeName, props); len(verrs) > 0 {
			reasons := make([]string, len(verrs))
			for i, ve := range verrs {
				reasons[i] = ve.Reason
			}
			result.addError("entity", idx, name, strings.Join(reasons, "; "))
			return
		}
		props = imp.registry.ApplyDefaults(typeName, props)
	}

	nodes, err := tx.NodesByType(ctx, typeName)
	if err != nil {
		result.addError("entity", idx, name, err.Error())
		return
	}
	existing := make([]match.Existing, len(nodes))
	for i := range nodes {
		existing[i] = match.Existing{ID: nodes[i].ID, Props: nodes[i].Props}
	}

	res := imp.matcher.ResolveAgainst(typeName, props, existing)
	if res.Matched {
		if _, err := tx.UpdateNodeProps(ctx, res.MatchedID, props); err != nil {
			result.addError("entity", idx, name, err.Error())
			return
		}
		result.EntitiesUpdated++
		rememberAssignment(assigned, res.MatchedID, name, props)
		return
	}

	shouldDefer, err := imp.policy.ResolveUnmatched(ctx, source, entity, res)
	if err != nil {
		result.addError("entity", idx, name, fmt.Sprintf("resolution policy: %v", err))
		return
	}
	if shouldDefer {
		result.EntitiesDeferred++
		if key := nameKey(name); key != "" {
			deferred[key] = name
		}
		imp.logger.Debug("Entity deferred for verification",
			zap.String("type", typeName),
			zap.String("name", name),
			zap.Int("suggestions", len(res.Suggestions)),
		)
		return
	}

	node, err := tx.CreateNode(ctx, typeName, props)
	if err != nil {
		result.addError("entity", idx, name, err.Error())
		return
	}
	result.EntitiesCreated++
	rememberAssignment(assigned, node.ID, name, props)
}

func (imp *Importer) importRelationship(ctx context.Context, tx graph.Tx, source string, idx int, rel Relationship, result *Result, assigned, deferred map[string]string) {
	relType := strings.TrimSpace(rel.Type)

	srcID, srcDeferred, err := resolveEndpoint(ctx, tx, assigned, deferred, rel.Source)
	if err != nil {
		result.addError("relationship", idx, relType, err.Error())
		return
	}
	tgtID, tgtDeferred, err := resolveEndpoint(ctx, tx, assigned, deferred, rel.Target)
	if err != nil {
		result.addError("relationship", idx, relType, err.Error())
		return
	}

	if srcDeferred || tgtDeferred {
		candidate := rel.Source
		if !srcDeferred {
			candidate = rel.Target
		}
		stmt := Statement{
			Subject:    rel.Source,
			Predicate:  relType,
			Object:     rel.Target,
			Properties: rel.Properties,
		}
		if err := imp.policy.QueueStatement(ctx, source, candidate, stmt); err != nil {
			result.addError("relationship", idx, relType, fmt.Sprintf("queue statement: %v", err))
			return
		}
		result.StatementsQueued++
		return
	}

	if srcID == "" {
		result.addError("relationship", idx, relType, fmt.Sprintf("source entity not found: %s", rel.Source))
		return
	}
	if tgtID == "" {
		result.addError("relationship", idx, relType, fmt.Sprintf("target entity not found: %s", rel.Target))
		return
	}

	created, err := tx.MergeEdge(ctx, graph.Edge{
		Type:     relType,
		SourceID: srcID,
		TargetID: tgtID,
		Props:    rel.Properties,
	})
	if err != nil {
		result.addError("relationship", idx, relType, err.Error())
		return
	}
	if created {
		result.RelationshipsCreated++
	}
}

// resolveEndpoint turns a relationship endpoint reference into a node id.
// References are tried against this batch's assignments first, then as a
// name across all types, then as a raw node id. An empty id with nil
// error means the endpoint does not exist.
func resolveEndpoint(ctx context.Context, tx graph.Tx, assigned, deferred map[string]string, ref string) (string, bool, error) {
	key := nameKey(ref)
	if _, ok := deferred[key]; ok {
		return "", true, nil
	}
	if id, ok := assigned[key]; ok {
		return id, false, nil
	}

	node, err := tx.FindNodeByName(ctx, "", ref)
	if err != nil {
		return "", false, err
	}
	if node != nil {
		return node.ID, false, nil
	}

	node, err = tx.NodeByID(ctx, ref)
	if err != nil {
		if apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return node.ID, false, nil
}

func rememberAssignment(assigned map[string]string, nodeID, name string, props map[string]any) {
	if key := nameKey(name); key != "" {
		assigned[key] = nodeID
	}
	if v, ok := props["external_id"].(string); ok {
		if key := nameKey(v); key != "" {
			assigned[key] = nodeID
		}
	}
}

func entityDisplayName(entity Entity, props map[string]any) string {
	if entity.Name != "" {
		return entity.Name
	}
	for _, key := range []string{"name", "title"} {
		if s, ok := props[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func isBlankValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// cancellation wraps a ctx error; the chain keeps context.Canceled or
// context.DeadlineExceeded reachable through errors.Is.
func cancellation(operation string, err error) error {
	return apperrors.NewContextCancelled(operation, err)
}

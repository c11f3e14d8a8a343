package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
)

// MemoryStore is an in-process Store with the same transactional contract
// as Repository. It backs unit tests and offline runs. Transactions work
// on a snapshot that replaces the live state atomically at Commit, so a
// rollback or an injected commit failure leaves nothing behind.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[string]*Edge // keyed by type|source|target
	order []string         // node insertion order, for deterministic scans

	// Error injection for tests, in the spirit of a configurable mock.
	failBegin  error
	failCreate error
	failCommit error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
	}
}

// SetFailBegin makes subsequent BeginTx calls fail with err (nil clears).
func (s *MemoryStore) SetFailBegin(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failBegin = err
}

// SetFailCreate makes subsequent CreateNode calls fail with err (nil clears).
func (s *MemoryStore) SetFailCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = err
}

// SetFailCommit makes subsequent Commit calls fail with err (nil clears).
// The transaction's writes are discarded, as a real failed commit would.
func (s *MemoryStore) SetFailCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

func edgeKey(e Edge) string {
	return e.Type + "|" + e.SourceID + "|" + e.TargetID
}

// BeginTx snapshots the store.
func (s *MemoryStore) BeginTx(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageError("begin transaction", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failBegin != nil {
		return nil, apperrors.NewStorageError("begin transaction", s.failBegin)
	}

	tx := &memTx{
		store: s,
		nodes: make(map[string]*Node, len(s.nodes)),
		edges: make(map[string]*Edge, len(s.edges)),
		order: append([]string(nil), s.order...),
	}
	for id, n := range s.nodes {
		tx.nodes[id] = n.Clone()
	}
	for k, e := range s.edges {
		tx.edges[k] = cloneEdge(e)
	}
	return tx, nil
}

// NodeByID looks up one node by its stable identifier.
func (s *MemoryStore) NodeByID(ctx context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, apperrors.NewNotFound("node", id)
	}
	return node.Clone(), nil
}

// NodesByType scans nodes of one type in insertion order.
func (s *MemoryStore) NodesByType(ctx context.Context, typeName string) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Node
	for _, id := range s.order {
		node, ok := s.nodes[id]
		if ok && node.Type == typeName {
			out = append(out, *node.Clone())
		}
	}
	return out, nil
}

// NodesMissingEmbedding returns nodes without an embedding, oldest first.
func (s *MemoryStore) NodesMissingEmbedding(ctx context.Context, limit int) ([]Node, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Node
	for _, id := range s.order {
		node, ok := s.nodes[id]
		if !ok {
			continue
		}
		if node.Props["embedding"] == nil {
			out = append(out, *node.Clone())
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// SetEmbedding stores an embedding vector on a node.
func (s *MemoryStore) SetEmbedding(ctx context.Context, id string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return apperrors.NewNotFound("node", id)
	}
	node.Props["embedding"] = embedding
	node.Props["embedded_at"] = time.Now().UTC()
	return nil
}

// Stats reports node and edge counts.
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		Nodes:       int64(len(s.nodes)),
		Edges:       int64(len(s.edges)),
		NodesByType: make(map[string]int64),
	}
	for _, node := range s.nodes {
		stats.NodesByType[node.Type]++
	}
	return stats, nil
}

// Clear removes everything.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]*Node)
	s.edges = make(map[string]*Edge)
	s.order = nil
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// Edges returns all edges sorted by key; test helper.
func (s *MemoryStore) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.edges))
	for k := range s.edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Edge, 0, len(keys))
	for _, k := range keys {
		out = append(out, *cloneEdge(s.edges[k]))
	}
	return out
}

func cloneEdge(e *Edge) *Edge {
	props := make(map[string]any, len(e.Props))
	for k, v := range e.Props {
		props[k] = v
	}
	return &Edge{Type: e.Type, SourceID: e.SourceID, TargetID: e.TargetID, Props: props}
}

// ============================================================================
// Transaction
// ============================================================================

type memTx struct {
	store *MemoryStore
	nodes map[string]*Node
	edges map[string]*Edge
	order []string
	done  bool
}

var _ Tx = (*memTx)(nil)

func (t *memTx) CreateNode(ctx context.Context, typeName string, props map[string]any) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageError("create node", err)
	}
	if _, err := safeLabel(typeName); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	failCreate := t.store.failCreate
	t.store.mu.RUnlock()
	if failCreate != nil {
		return nil, apperrors.NewStorageError("create node", failCreate)
	}

	now := time.Now().UTC()
	node := &Node{
		ID:    newNodeID(),
		Type:  typeName,
		Props: sanitizeProps(props),
	}
	node.Props["id"] = node.ID
	node.Props["type"] = typeName
	node.Props["created_at"] = now
	node.Props["updated_at"] = now

	t.nodes[node.ID] = node
	t.order = append(t.order, node.ID)
	return node.Clone(), nil
}

func (t *memTx) UpdateNodeProps(ctx context.Context, id string, props map[string]any) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageError("update node", err)
	}

	node, ok := t.nodes[id]
	if !ok {
		return nil, apperrors.NewNotFound("node", id)
	}
	for k, v := range sanitizeProps(props) {
		node.Props[k] = v
	}
	node.Props["updated_at"] = time.Now().UTC()
	return node.Clone(), nil
}

func (t *memTx) NodeByID(ctx context.Context, id string) (*Node, error) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, apperrors.NewNotFound("node", id)
	}
	return node.Clone(), nil
}

func (t *memTx) NodesByType(ctx context.Context, typeName string) ([]Node, error) {
	var out []Node
	for _, id := range t.order {
		node, ok := t.nodes[id]
		if ok && node.Type == typeName {
			out = append(out, *node.Clone())
		}
	}
	return out, nil
}

func (t *memTx) FindNodeByName(ctx context.Context, typeName, name string) (*Node, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, id := range t.order {
		node, ok := t.nodes[id]
		if !ok {
			continue
		}
		if typeName != "" && node.Type != typeName {
			continue
		}
		if strings.ToLower(node.Name()) == want {
			return node.Clone(), nil
		}
	}
	return nil, nil
}

func (t *memTx) MergeEdge(ctx context.Context, edge Edge) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.NewStorageError("merge edge", err)
	}
	if _, err := safeRelType(edge.Type); err != nil {
		return false, err
	}
	if _, ok := t.nodes[edge.SourceID]; !ok {
		return false, apperrors.NewNotFound("edge endpoints", edge.SourceID+" -> "+edge.TargetID)
	}
	if _, ok := t.nodes[edge.TargetID]; !ok {
		return false, apperrors.NewNotFound("edge endpoints", edge.SourceID+" -> "+edge.TargetID)
	}

	key := edgeKey(edge)
	if existing, ok := t.edges[key]; ok {
		for k, v := range sanitizeProps(edge.Props) {
			existing.Props[k] = v
		}
		existing.Props["updated_at"] = time.Now().UTC()
		return false, nil
	}

	stored := &Edge{
		Type:     edge.Type,
		SourceID: edge.SourceID,
		TargetID: edge.TargetID,
		Props:    sanitizeProps(edge.Props),
	}
	stored.Props["created_at"] = time.Now().UTC()
	t.edges[key] = stored
	return true, nil
}

func (t *memTx) ReassignEdges(ctx context.Context, fromID, toID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.NewStorageError("reassign edges", err)
	}

	moved := 0
	for key, edge := range t.edges {
		if edge.SourceID != fromID && edge.TargetID != fromID {
			continue
		}
		delete(t.edges, key)

		src, tgt := edge.SourceID, edge.TargetID
		if src == fromID {
			src = toID
		}
		if tgt == fromID {
			tgt = toID
		}
		// Edges between the pair, and self-loops on the source, are
		// dropped rather than turned into self-loops on the target.
		if src == tgt {
			continue
		}

		next := Edge{Type: edge.Type, SourceID: src, TargetID: tgt, Props: edge.Props}
		if existing, ok := t.edges[edgeKey(next)]; ok {
			for k, v := range next.Props {
				existing.Props[k] = v
			}
		} else {
			t.edges[edgeKey(next)] = &next
		}
		moved++
	}
	return moved, nil
}

func (t *memTx) DeleteNode(ctx context.Context, id string) error {
	if _, ok := t.nodes[id]; !ok {
		// Deleting an absent node is not an error; merge retries rely on it.
		return nil
	}
	delete(t.nodes, id)
	for i, nid := range t.order {
		if nid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	for key, edge := range t.edges {
		if edge.SourceID == id || edge.TargetID == id {
			delete(t.edges, key)
		}
	}
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true

	if err := ctx.Err(); err != nil {
		return apperrors.NewCommitError(err)
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.store.failCommit != nil {
		return apperrors.NewCommitError(t.store.failCommit)
	}

	t.store.nodes = t.nodes
	t.store.edges = t.edges
	t.store.order = t.order
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}

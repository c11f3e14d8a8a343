// Package embedding produces vector embeddings for graph nodes. Failures
// are non-fatal by contract: callers skip the vector and move on, so an
// unreachable embedding endpoint degrades matching to the property
// cascades instead of breaking imports.
package embedding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kenmgrimm/archimedes-sub002/backend/internal/graph"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/config"
	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/logger"
)

const (
	// maxBatch keeps single embedding requests well under API input limits.
	maxBatch = 64
	// maxConcurrent bounds parallel embedding requests during backfill.
	maxConcurrent = 4
)

// Service wraps the embeddings endpoint of an OpenAI-compatible API.
type Service struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	enabled bool
	logger  *zap.Logger
}

// NewService builds the embedding service from config. Without an API key
// or base URL override the service stays disabled and Embed returns errors
// the callers treat as skip.
func NewService(cfg *config.Config) *Service {
	apiKey := cfg.OpenAIAPIKey
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.OpenAIBaseURL, "/") + "/v1"
	}

	return &Service{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.EmbeddingModel,
		timeout: cfg.LLMTimeout(),
		enabled: cfg.OpenAIAPIKey != "" || cfg.OpenAIBaseURL != "",
		logger:  logger.Get(),
	}
}

// Enabled reports whether an embedding endpoint is configured.
func (s *Service) Enabled() bool {
	return s.enabled
}

// Embed returns the embedding vector for one text.
func (s *Service) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in order. Large inputs are split into chunks of
// maxBatch and requested with bounded concurrency.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if !s.enabled {
		return nil, apperrors.NewEmbeddingFailed(s.model, fmt.Errorf("no embedding endpoint configured"))
	}
	if len(texts) == 0 {
		return nil, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out := make([][]float64, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for start := 0; start < len(texts); start += maxBatch {
		start := start
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			resp, err := s.client.CreateEmbeddings(gctx, openai.EmbeddingRequest{
				Input: texts[start:end],
				Model: openai.EmbeddingModel(s.model),
			})
			if err != nil {
				return err
			}
			if len(resp.Data) != end-start {
				return fmt.Errorf("expected %d embeddings, got %d", end-start, len(resp.Data))
			}
			for i, d := range resp.Data {
				vec := make([]float64, len(d.Embedding))
				for j, v := range d.Embedding {
					vec[j] = float64(v)
				}
				out[start+i] = vec
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, apperrors.NewEmbeddingFailed(s.model, err)
	}
	return out, nil
}

// EmbedNode embeds the node's textual identity (type, name, salient
// properties).
func (s *Service) EmbedNode(ctx context.Context, node *graph.Node) ([]float64, error) {
	return s.Embed(ctx, NodeText(node))
}

// Backfill embeds up to limit nodes that have no vector yet and stores the
// results. Per-node store failures are logged and skipped; a failed
// embedding request aborts the pass. Returns the number embedded.
func (s *Service) Backfill(ctx context.Context, store graph.Store, limit int) (int, error) {
	nodes, err := store.NodesMissingEmbedding(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(nodes) == 0 {
		return 0, nil
	}

	texts := make([]string, len(nodes))
	for i := range nodes {
		texts[i] = NodeText(&nodes[i])
	}

	vectors, err := s.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	stored := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i := range nodes {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := store.SetEmbedding(gctx, nodes[i].ID, vectors[i]); err != nil {
				s.logger.Warn("Failed to store embedding",
					zap.String("node_id", nodes[i].ID),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			stored++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stored, apperrors.NewEmbeddingFailed(s.model, err)
	}

	s.logger.Info("Embedding backfill complete",
		zap.Int("embedded", stored),
		zap.Int("candidates", len(nodes)),
	)
	return stored, nil
}

// skip keys the store manages or that carry no semantic signal.
var nonTextKeys = map[string]bool{
	"id": true, "type": true, "created_at": true, "updated_at": true,
	"embedding": true, "embedded_at": true,
}

// NodeText renders a node as the text its embedding is computed from.
// Property order is fixed so the same node always embeds the same text.
func NodeText(node *graph.Node) string {
	var b strings.Builder
	b.WriteString(node.Type)
	if name := node.Name(); name != "" {
		b.WriteString(": ")
		b.WriteString(name)
	}

	keys := make([]string, 0, len(node.Props))
	for k := range node.Props {
		if nonTextKeys[k] || k == "name" || k == "title" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, ok := node.Props[k].(string)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		b.WriteString(". ")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}

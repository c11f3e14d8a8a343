// Package extraction turns free-form text into candidate entities and
// relationships using an OpenAI-compatible chat model. The output is a
// candidate batch only; the import orchestrator decides what actually
// lands in the graph.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/config"
	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/logger"
)

// Entity is one extracted entity candidate.
type Entity struct {
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relationship is one extracted relationship candidate. Source and Target
// reference entities in the same result by name.
type Relationship struct {
	Type       string         `json:"type"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Result is the parsed model output.
type Result struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

const systemPrompt = `You extract entities and relationships from text for a personal knowledge graph.

Respond with a single JSON object:
{"entities": [{"type": "...", "name": "...", "properties": {...}}],
 "relationships": [{"type": "...", "source": "...", "target": "...", "properties": {...}}]}

Rules:
- Use only the entity types listed in the request.
- Relationship source and target refer to entities by their name value.
- Include a property only when the text states it. Never invent values.
- Relationship types are UPPER_SNAKE_CASE verbs like WORKS_AT or LOCATED_IN.
- Respond with JSON only, no commentary.`

// Service calls the chat model and parses its JSON output.
type Service struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	enabled bool
	logger  *zap.Logger
}

// NewService builds the extraction service from config. Without an API key
// or base URL override the service stays disabled and Extract fails fast.
func NewService(cfg *config.Config) *Service {
	apiKey := cfg.OpenAIAPIKey
	if apiKey == "" {
		// OpenAI-compatible proxies accept any key.
		apiKey = "dummy-key"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.OpenAIBaseURL, "/") + "/v1"
	}

	return &Service{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.ExtractionModel,
		timeout: cfg.LLMTimeout(),
		enabled: cfg.OpenAIAPIKey != "" || cfg.OpenAIBaseURL != "",
		logger:  logger.Get(),
	}
}

// Enabled reports whether a model endpoint is configured.
func (s *Service) Enabled() bool {
	return s.enabled
}

// Extract runs one extraction call over text. typeNames constrains which
// entity types the model may emit; pass the registry's type list.
func (s *Service) Extract(ctx context.Context, text string, typeNames []string) (*Result, error) {
	if !s.enabled {
		return nil, apperrors.NewExtractionFailed(s.model, fmt.Errorf("no model endpoint configured"))
	}
	if strings.TrimSpace(text) == "" {
		return &Result{}, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	userMsg := fmt.Sprintf("Entity types: %s\n\nText:\n%s", strings.Join(typeNames, ", "), text)

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var resp openai.ChatCompletionResponse
	var err error
	maxRetries := 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			s.logger.Warn("Retrying extraction request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, apperrors.NewExtractionFailed(s.model, ctx.Err())
			}
		}

		resp, err = s.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		s.logger.Error("Extraction request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", s.model),
		)
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return nil, apperrors.NewExtractionFailed(s.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.NewExtractionFailed(s.model, fmt.Errorf("no choices in response"))
	}

	result, err := decodeResult(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, apperrors.NewExtractionFailed(s.model, err)
	}

	s.logger.Debug("Extraction complete",
		zap.String("model", s.model),
		zap.Int("entities", len(result.Entities)),
		zap.Int("relationships", len(result.Relationships)),
	)
	return result, nil
}

// codeBlockRe strips markdown code fences from model output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds a JSON object in raw model text. Handles the usual
// quirks: code fences, prose before or after the object.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}

func decodeResult(content string) (*Result, error) {
	jsonStr, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("failed to parse extraction output: %w", err)
	}
	for i := range result.Entities {
		result.Entities[i].Type = strings.TrimSpace(result.Entities[i].Type)
		result.Entities[i].Name = strings.TrimSpace(result.Entities[i].Name)
	}
	return &result, nil
}

package graph

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
)

// ============================================================================
// Record Helpers
// ============================================================================

func getString(record *neo4j.Record, key, defaultValue string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return defaultValue
	}
	if str, ok := val.(string); ok {
		return str
	}
	return defaultValue
}

func getInt64(record *neo4j.Record, key string, defaultValue int64) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return defaultValue
	}
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	return defaultValue
}

func getProps(record *neo4j.Record, key string) map[string]any {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return map[string]any{}
	}
	if m, ok := val.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// nodeFromRecord builds a Node from an n{.*} projection. Node identity
// and type ride along inside the property map.
func nodeFromRecord(record *neo4j.Record, key string) (*Node, error) {
	props := getProps(record, key)
	id, _ := props["id"].(string)
	if id == "" {
		return nil, apperrors.NewStorageError("decode node", fmt.Errorf("node record has no id"))
	}
	typeName, _ := props["type"].(string)
	return &Node{ID: id, Type: typeName, Props: props}, nil
}

// ============================================================================
// Cypher Safety
// ============================================================================

// Labels and relationship types cannot be query parameters, so the type
// strings interpolated into Cypher are restricted to identifier characters.
var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func safeLabel(typeName string) (string, error) {
	if !identRe.MatchString(typeName) {
		return "", apperrors.NewValidationError("type", fmt.Sprintf("invalid type label %q", typeName))
	}
	return typeName, nil
}

func safeRelType(relType string) (string, error) {
	if !identRe.MatchString(relType) {
		return "", apperrors.NewValidationError("relationship", fmt.Sprintf("invalid relationship type %q", relType))
	}
	return relType, nil
}

// ============================================================================
// Property Sanitization
// ============================================================================

// sanitizeProps prepares a property map for storage. Neo4j properties
// hold primitives and homogeneous primitive lists only, so nested maps
// and mixed structures are stored as JSON strings. The id and type keys
// are managed by the store, never by callers.
func sanitizeProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for key, value := range props {
		if key == "id" || key == "type" || key == "created_at" || key == "updated_at" {
			continue
		}
		if value == nil {
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case string, bool, int, int32, int64, float32, float64, time.Time:
		return v
	case []string, []int, []int64, []float64, []float32:
		return v
	case []any:
		for _, e := range v {
			switch e.(type) {
			case string, bool, int, int64, float64:
			default:
				return jsonString(v)
			}
		}
		return v
	default:
		return jsonString(v)
	}
}

func jsonString(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

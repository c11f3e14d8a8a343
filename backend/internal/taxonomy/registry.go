package taxonomy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/logger"
)

// Registry answers property, relationship, and validation queries for the
// loaded entity types. Built once by Load; read-only afterwards.
type Registry struct {
	defs   map[string]*TypeDefinition
	merged map[string]*effectiveType
	names  []string
}

// Types returns all loaded type names, sorted.
func (r *Registry) Types() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// ConcreteTypes returns the type names that can be instantiated, sorted.
// Abstract base types are left out.
func (r *Registry) ConcreteTypes() []string {
	out := make([]string, 0, len(r.names))
	for _, name := range r.names {
		if def, ok := r.defs[name]; ok && !def.Abstract {
			out = append(out, name)
		}
	}
	return out
}

// HasType reports whether the named type is defined.
func (r *Registry) HasType(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Definition returns the raw (unmerged) declaration of a type.
func (r *Registry) Definition(name string) (*TypeDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// PropertiesFor returns the effective property set for a type, with the
// parent's properties merged in and child overrides shadowing them.
// The returned map is a copy.
func (r *Registry) PropertiesFor(typeName string) map[string]PropertyDefinition {
	eff, ok := r.merged[typeName]
	if !ok {
		return nil
	}
	out := make(map[string]PropertyDefinition, len(eff.properties))
	for k, v := range eff.properties {
		out[k] = v
	}
	return out
}

// RelationshipsFor returns the effective relationship set for a type.
// The returned map is a copy.
func (r *Registry) RelationshipsFor(typeName string) map[string]RelationshipDefinition {
	eff, ok := r.merged[typeName]
	if !ok {
		return nil
	}
	out := make(map[string]RelationshipDefinition, len(eff.relationships))
	for k, v := range eff.relationships {
		out[k] = v
	}
	return out
}

// PropertyAliases returns the flattened extraction-key mapping for a type:
// normalized alias (and canonical name) -> canonical property name.
func (r *Registry) PropertyAliases(typeName string) map[string]string {
	eff, ok := r.merged[typeName]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(eff.aliases))
	for k, v := range eff.aliases {
		out[k] = v
	}
	return out
}

// MapKeys rewrites extraction-format property keys to their canonical
// graph-format names. Unknown keys pass through unchanged; they are never
// rejected. When an alias and its canonical key are both present the
// canonical value wins.
func (r *Registry) MapKeys(typeName string, props map[string]any) map[string]any {
	eff, ok := r.merged[typeName]
	if !ok {
		return props
	}
	out := make(map[string]any, len(props))
	for key, value := range props {
		canonical, known := eff.aliases[normalizeKey(key)]
		if !known {
			out[key] = value
			continue
		}
		if canonical != key {
			if _, exists := props[canonical]; exists {
				continue
			}
		}
		out[canonical] = value
	}
	return out
}

// ApplyDefaults returns a copy of props with declared defaults filled in
// for absent properties.
func (r *Registry) ApplyDefaults(typeName string, props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	eff, ok := r.merged[typeName]
	if !ok {
		return out
	}
	for name, def := range eff.properties {
		if def.Default == nil {
			continue
		}
		if isBlank(out[name]) {
			out[name] = def.Default
		}
	}
	return out
}

// Validate checks props against the declared schema for typeName.
// Missing required properties and enum violations are fatal and returned.
// Declared-type mismatches (unparseable number, date, boolean) are
// best-effort only: they are logged and never returned. Unknown keys are
// always accepted.
func (r *Registry) Validate(typeName string, props map[string]any) []*apperrors.ValidationError {
	eff, ok := r.merged[typeName]
	if !ok {
		return []*apperrors.ValidationError{
			apperrors.NewValidationError("type", fmt.Sprintf("unknown entity type %q", typeName)),
		}
	}

	var errs []*apperrors.ValidationError
	log := logger.Named("taxonomy")

	for name, def := range eff.properties {
		value, present := props[name]
		if isBlank(value) {
			present = false
		}

		if !present {
			if def.Required && def.Default == nil {
				errs = append(errs, apperrors.NewValidationError(name,
					fmt.Sprintf("required property missing for type %s", typeName)))
			}
			continue
		}

		if len(def.Enum) > 0 && !enumContains(def.Enum, value) {
			errs = append(errs, apperrors.NewValidationError(name,
				fmt.Sprintf("value %v not in allowed set %v", value, def.Enum)))
			continue
		}

		if !valueMatchesType(def.Type, value) {
			log.Debug("property value does not parse as declared type",
				zap.String("entity_type", typeName),
				zap.String("property", name),
				zap.String("declared_type", def.Type),
				zap.Any("value", value),
			)
		}
	}

	return errs
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func enumContains(enum []any, value any) bool {
	vs := fmt.Sprintf("%v", value)
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == vs {
			return true
		}
	}
	return false
}

// valueMatchesType does permissive best-effort checking of a value against
// a declared property type. Unrecognized declared types always pass.
func valueMatchesType(declared string, value any) bool {
	switch strings.ToLower(declared) {
	case "number", "integer", "float":
		switch v := value.(type) {
		case int, int32, int64, float32, float64:
			return true
		case string:
			_, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			return err == nil
		default:
			return false
		}
	case "boolean", "bool":
		switch v := value.(type) {
		case bool:
			return true
		case string:
			_, err := strconv.ParseBool(strings.TrimSpace(v))
			return err == nil
		default:
			return false
		}
	case "date", "datetime":
		switch v := value.(type) {
		case time.Time:
			return true
		case string:
			return parseDate(strings.TrimSpace(v))
		default:
			return false
		}
	case "array":
		switch value.(type) {
		case []any, []string:
			return true
		default:
			return false
		}
	default:
		// string and custom types are accepted as-is
		return true
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
}

func parseDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

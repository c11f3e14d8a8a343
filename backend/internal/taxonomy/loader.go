package taxonomy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
)

// Load reads every type definition file in dir (*.yaml / *.yml, one type
// per file), resolves single-level inheritance, and returns an immutable
// Registry. Any unreadable file, YAML syntax error, duplicate type name,
// missing extends parent, or chained extends fails with a SchemaError.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.NewSchemaError(dir, "", "failed to read taxonomy directory", err)
	}

	defs := make(map[string]*TypeDefinition)
	var names []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.NewSchemaError(path, "", "failed to read type definition", err)
		}

		var def TypeDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, apperrors.NewSchemaError(path, "", "failed to parse type definition", err)
		}
		if def.Name == "" {
			return nil, apperrors.NewSchemaError(path, "", "type definition is missing a name", nil)
		}
		if existing, ok := defs[def.Name]; ok {
			return nil, apperrors.NewSchemaError(path, def.Name,
				fmt.Sprintf("duplicate type %q (already defined in %s)", def.Name, existing.file), nil)
		}
		if err := checkDefinition(path, &def); err != nil {
			return nil, err
		}

		def.file = path
		defs[def.Name] = &def
		names = append(names, def.Name)
	}

	if len(defs) == 0 {
		return nil, apperrors.NewSchemaError(dir, "", "no type definitions found", nil)
	}

	// Resolve extends after all files are read so declaration order in the
	// directory does not matter.
	merged := make(map[string]*effectiveType, len(defs))
	for name, def := range defs {
		eff, err := resolve(def, defs)
		if err != nil {
			return nil, err
		}
		merged[name] = eff
	}

	sort.Strings(names)
	return &Registry{defs: defs, merged: merged, names: names}, nil
}

// checkDefinition applies structural checks to one parsed definition.
func checkDefinition(path string, def *TypeDefinition) error {
	seen := make(map[string]bool, len(def.Properties))
	for _, p := range def.Properties {
		if p.Name == "" {
			return apperrors.NewSchemaError(path, def.Name, "property is missing a name", nil)
		}
		if seen[p.Name] {
			return apperrors.NewSchemaError(path, def.Name,
				fmt.Sprintf("duplicate property %q", p.Name), nil)
		}
		seen[p.Name] = true
	}
	for _, r := range def.Relationships {
		if r.Name == "" {
			return apperrors.NewSchemaError(path, def.Name, "relationship is missing a name", nil)
		}
		switch r.Cardinality {
		case "", CardinalityOne, CardinalityMany:
		default:
			return apperrors.NewSchemaError(path, def.Name,
				fmt.Sprintf("relationship %q has invalid cardinality %q", r.Name, r.Cardinality), nil)
		}
	}
	return nil
}

// effectiveType is a type definition with its parent merged in.
type effectiveType struct {
	def           *TypeDefinition
	properties    map[string]PropertyDefinition
	relationships map[string]RelationshipDefinition
	aliases       map[string]string // normalized extraction key -> canonical property name
}

func resolve(def *TypeDefinition, defs map[string]*TypeDefinition) (*effectiveType, error) {
	eff := &effectiveType{
		def:           def,
		properties:    make(map[string]PropertyDefinition),
		relationships: make(map[string]RelationshipDefinition),
		aliases:       make(map[string]string),
	}

	if def.Extends != "" {
		parent, ok := defs[def.Extends]
		if !ok {
			return nil, apperrors.NewSchemaError(def.file, def.Name,
				fmt.Sprintf("extends unknown type %q", def.Extends), nil)
		}
		if parent.Extends != "" {
			return nil, apperrors.NewSchemaError(def.file, def.Name,
				fmt.Sprintf("extends %q which itself extends %q; only single-level inheritance is supported",
					parent.Name, parent.Extends), nil)
		}
		for _, p := range parent.Properties {
			eff.properties[p.Name] = p
		}
		for _, r := range parent.Relationships {
			eff.relationships[r.Name] = r
		}
	}

	// Child definitions shadow parent definitions of the same name.
	for _, p := range def.Properties {
		eff.properties[p.Name] = p
	}
	for _, r := range def.Relationships {
		eff.relationships[r.Name] = r
	}

	for name, p := range eff.properties {
		eff.aliases[normalizeKey(name)] = name
		for _, alias := range p.Aliases {
			eff.aliases[normalizeKey(alias)] = name
		}
	}

	return eff, nil
}

// normalizeKey folds case and separator differences so extraction keys
// like "Email Address" and "email_address" hit the same alias entry.
func normalizeKey(key string) string {
	key = strings.TrimSpace(strings.ToLower(key))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}

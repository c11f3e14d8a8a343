// Package taxonomy loads the YAML entity-type definitions that drive
// property validation, extraction-key mapping, and relationship typing
// for the knowledge graph. Definitions are read once at startup and the
// resulting Registry is immutable, so it is safe for concurrent readers.
package taxonomy

// PropertyDefinition defines a property that can be attached to an entity.
type PropertyDefinition struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"` // string, number, boolean, date, array
	Required    bool     `yaml:"required"`
	Description string   `yaml:"description,omitempty"`
	Enum        []any    `yaml:"enum,omitempty"`    // Constrained values (e.g. status levels)
	Default     any      `yaml:"default,omitempty"` // Default value if not provided
	Aliases     []string `yaml:"aliases,omitempty"` // Extraction-format keys mapped onto this property
}

// RelationshipDefinition defines an outbound relationship an entity type
// may participate in.
type RelationshipDefinition struct {
	Name        string   `yaml:"name"`
	Targets     []string `yaml:"targets"`     // Valid target entity types
	Cardinality string   `yaml:"cardinality"` // "one" or "many"
	Symmetric   bool     `yaml:"symmetric"`
	Description string   `yaml:"description,omitempty"`
}

// TypeDefinition is one entity type as declared in a YAML file.
// Extends names a parent type whose properties and relationships are
// merged in; only a single level of inheritance is supported.
type TypeDefinition struct {
	Name          string                   `yaml:"name"`
	Description   string                   `yaml:"description,omitempty"`
	Extends       string                   `yaml:"extends,omitempty"`
	Abstract      bool                     `yaml:"abstract,omitempty"` // Base types not instantiated directly
	Properties    []PropertyDefinition     `yaml:"properties"`
	Relationships []RelationshipDefinition `yaml:"relationships,omitempty"`

	file string // Source file, kept for error reporting
}

// SourceFile returns the path of the YAML file this type was loaded from.
func (d *TypeDefinition) SourceFile() string {
	return d.file
}

// Cardinality values for RelationshipDefinition.
const (
	CardinalityOne  = "one"
	CardinalityMany = "many"
)

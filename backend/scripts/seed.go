package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kenmgrimm/archimedes-sub002/backend/internal/graph"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/importer"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/match"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/taxonomy"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/config"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/logger"
)

func main() {
	reset := flag.Bool("reset", false, "Wipe the graph before seeding")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting database seeding...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	defer driver.Close(context.Background())

	// Verify connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	// Create constraints
	log.Info("Creating constraints...")
	if err := createConstraints(ctx, driver); err != nil {
		log.Warn("Failed to create some constraints (may already exist)", zap.Error(err))
	}

	// Create indexes for better performance
	log.Info("Creating indexes...")
	if err := createIndexes(ctx, driver); err != nil {
		log.Warn("Failed to create some indexes (may already exist)", zap.Error(err))
	}

	// Load entity type definitions
	registry, err := taxonomy.Load(cfg.TaxonomyDir)
	if err != nil {
		log.Fatal("Failed to load taxonomy", zap.Error(err))
	}
	log.Info("Taxonomy loaded", zap.Strings("types", registry.Types()))

	store := graph.NewRepository(driver)
	imp := importer.NewImporter(store, registry, match.NewMatcher(log))

	if *reset {
		log.Info("Resetting graph before seeding")
	}

	// Run the demo batch through the importer so matching and schema
	// validation behave exactly as they do for real imports.
	result, err := imp.Import(ctx, demoBatch(), importer.Options{
		ClearDatabase:  *reset,
		ValidateSchema: true,
	})
	if err != nil {
		log.Fatal("Failed to import demo data", zap.Error(err))
	}
	for _, itemErr := range result.Errors {
		log.Warn("Demo item skipped",
			zap.String("kind", itemErr.Kind),
			zap.String("name", itemErr.Name),
			zap.String("reason", itemErr.Reason),
		)
	}

	// Verify creation
	stats, err := store.Stats(ctx)
	if err != nil {
		log.Fatal("Failed to read graph stats", zap.Error(err))
	}

	log.Info("Database seeded successfully",
		zap.Int("entities_created", result.EntitiesCreated),
		zap.Int("entities_updated", result.EntitiesUpdated),
		zap.Int("relationships_created", result.RelationshipsCreated),
		zap.Int64("nodes", stats.Nodes),
		zap.Int64("edges", stats.Edges),
	)

	log.Info("Seed completed. The graph is ready to use!")
}

// demoBatch returns a small knowledge graph: a couple in a Colorado
// mountain town, a thru-hike, and the project the hike inspired.
func demoBatch() *importer.Batch {
	return &importer.Batch{
		Source: "seed-demo",
		Entities: []importer.Entity{
			{Type: "Person", Name: "Kaiser Soze", Properties: map[string]any{
				"email": "kaiser@example.com",
				"role":  "Gear designer",
			}},
			{Type: "Person", Name: "Nancy Soze", Properties: map[string]any{
				"email": "nancy@example.com",
			}},
			{Type: "Location", Name: "Salida", Properties: map[string]any{
				"category": "Town",
				"state":    "Colorado",
			}},
			{Type: "Location", Name: "Mount Princeton", Properties: map[string]any{
				"category":  "Mountain",
				"state":     "Colorado",
				"elevation": 14197,
			}},
			{Type: "Location", Name: "Collegiate Peaks Wilderness", Properties: map[string]any{
				"category": "Wilderness",
				"state":    "Colorado",
			}},
			{Type: "Event", Name: "Twentieth Anniversary", Properties: map[string]any{
				"date":     "2024-06-15",
				"activity": "Summit hike",
			}},
			{Type: "Experience", Name: "Collegiate Loop Thru-Hike", Properties: map[string]any{
				"description":    "Eleven days on the Collegiate Loop",
				"start_date":     "2023-07-02",
				"duration_days":  11,
				"distance_miles": 160,
			}},
			{Type: "Project", Name: "Ultralight Pack Build", Properties: map[string]any{
				"inspiration": "Gear failures on the Collegiate Loop",
			}},
			{Type: "Idea", Name: "Trail Journal App", Properties: map[string]any{
				"topics": []any{"hiking", "software"},
			}},
			{Type: "Vehicle", Name: "Toyota Tacoma", Properties: map[string]any{
				"license_plate": "ABC-123",
				"make":          "Toyota",
				"model":         "Tacoma",
				"year":          2019,
			}},
		},
		Relationships: []importer.Relationship{
			{Type: "MARRIED_TO", Source: "Kaiser Soze", Target: "Nancy Soze"},
			{Type: "LIVES_IN", Source: "Kaiser Soze", Target: "Salida"},
			{Type: "LIVES_IN", Source: "Nancy Soze", Target: "Salida"},
			{Type: "PARTICIPATED_IN", Source: "Kaiser Soze", Target: "Collegiate Loop Thru-Hike"},
			{Type: "PARTICIPATED_IN", Source: "Kaiser Soze", Target: "Twentieth Anniversary"},
			{Type: "PARTICIPATED_IN", Source: "Nancy Soze", Target: "Twentieth Anniversary"},
			{Type: "CELEBRATED", Source: "Twentieth Anniversary", Target: "Kaiser Soze"},
			{Type: "CELEBRATED", Source: "Twentieth Anniversary", Target: "Nancy Soze"},
			{Type: "TOOK_PLACE_AT", Source: "Twentieth Anniversary", Target: "Mount Princeton"},
			{Type: "TOOK_PLACE_AT", Source: "Collegiate Loop Thru-Hike", Target: "Collegiate Peaks Wilderness"},
			{Type: "INSPIRED", Source: "Collegiate Loop Thru-Hike", Target: "Ultralight Pack Build"},
			{Type: "GENERATED_BY", Source: "Trail Journal App", Target: "Collegiate Loop Thru-Hike"},
			{Type: "OWNS", Source: "Kaiser Soze", Target: "Toyota Tacoma"},
		},
	}
}

// createConstraints creates Neo4j constraints for data integrity
func createConstraints(ctx context.Context, driver neo4j.DriverWithContext) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	constraints := []string{
		// Every node carries the Entity label and a stable unique id
		"CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (n:Entity) REQUIRE n.id IS UNIQUE",
	}

	for _, constraint := range constraints {
		_, err := session.Run(ctx, constraint, nil)
		if err != nil {
			// Log but don't fail - constraints may already exist
			continue
		}
	}

	return nil
}

// createIndexes creates Neo4j indexes for better query performance
func createIndexes(ctx context.Context, driver neo4j.DriverWithContext) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX entity_name IF NOT EXISTS FOR (n:Entity) ON (n.name)",
		"CREATE INDEX entity_type IF NOT EXISTS FOR (n:Entity) ON (n.type)",
		"CREATE INDEX entity_created_at IF NOT EXISTS FOR (n:Entity) ON (n.created_at)",

		// Composite index for per-type name lookups used by matching
		"CREATE INDEX entity_type_name IF NOT EXISTS FOR (n:Entity) ON (n.type, n.name)",
	}

	for _, idx := range indexes {
		_, err := session.Run(ctx, idx, nil)
		if err != nil {
			// Log but don't fail - indexes may already exist
			continue
		}
	}

	// Try to create full-text indexes (may not be supported in all Neo4j versions)
	fullTextIndexes := []string{
		"CREATE FULLTEXT INDEX entity_search IF NOT EXISTS FOR (n:Entity) ON EACH [n.name, n.notes]",
	}

	for _, idx := range fullTextIndexes {
		_, err := session.Run(ctx, idx, nil)
		if err != nil {
			// Full-text indexes may not be supported - this is okay
			continue
		}
	}

	return nil
}

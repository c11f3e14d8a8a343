package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kenmgrimm/archimedes-sub002/backend/internal/embedding"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/extraction"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/graph"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/importer"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/ingest"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/match"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/taxonomy"
	"github.com/kenmgrimm/archimedes-sub002/backend/internal/verification"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/config"
	apperrors "github.com/kenmgrimm/archimedes-sub002/backend/pkg/errors"
	"github.com/kenmgrimm/archimedes-sub002/backend/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting knowledge graph API server...")

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

	// Verify Neo4j connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	// Load the entity taxonomy
	registry, err := taxonomy.Load(cfg.TaxonomyDir)
	if err != nil {
		log.Fatal("Failed to load taxonomy", zap.Error(err))
	}
	log.Info("Taxonomy loaded", zap.Strings("types", registry.Types()))

	// Open the verification store
	db, err := verification.OpenDB(cfg)
	if err != nil {
		log.Fatal("Failed to open verification store", zap.Error(err))
	}

	// Initialize dependencies
	store := graph.NewRepository(driver)
	matcher := match.NewMatcher(log)
	verifySvc := verification.NewService(db, store)
	imp := importer.NewImporter(store, registry, matcher)
	imp.SetResolutionPolicy(verification.NewPolicy(verifySvc))
	extractor := extraction.NewService(cfg)
	embedder := embedding.NewService(cfg)
	pipeline := ingest.NewPipeline(extractor, imp, embedder, registry, store)

	router := setupRouter(cfg, log, apiDeps{
		registry: registry,
		store:    store,
		importer: imp,
		pipeline: pipeline,
		verifier: verifySvc,
		embedder: embedder,
	})

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// apiDeps bundles the services the HTTP routes call into.
type apiDeps struct {
	registry *taxonomy.Registry
	store    graph.Store
	importer *importer.Importer
	pipeline *ingest.Pipeline
	verifier *verification.Service
	embedder *embedding.Service
}

func setupRouter(cfg *config.Config, log *zap.Logger, deps apiDeps) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api")
	{
		// Import a pre-extracted batch
		api.POST("/import", func(c *gin.Context) {
			ctx := c.Request.Context()

			var req struct {
				Source         string                  `json:"source"`
				Entities       []importer.Entity       `json:"entities"`
				Relationships  []importer.Relationship `json:"relationships"`
				ClearDatabase  bool                    `json:"clear_database"`
				ValidateSchema *bool                   `json:"validate_schema"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			opts := importer.Options{
				ClearDatabase:  req.ClearDatabase,
				ValidateSchema: true,
			}
			if req.ValidateSchema != nil {
				opts.ValidateSchema = *req.ValidateSchema
			}

			result, err := deps.importer.Import(ctx, &importer.Batch{
				Source:        req.Source,
				Entities:      req.Entities,
				Relationships: req.Relationships,
			}, opts)
			if err != nil {
				respondError(c, log, err)
				return
			}

			c.JSON(http.StatusOK, result)
		})

		// Ingest raw content: text, HTML, or a URL
		api.POST("/ingest", func(c *gin.Context) {
			ctx := c.Request.Context()

			var req struct {
				Source string `json:"source"`
				Text   string `json:"text"`
				HTML   string `json:"html"`
				URL    string `json:"url"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			var (
				result *ingest.Result
				err    error
			)
			switch {
			case req.URL != "":
				result, err = deps.pipeline.IngestURL(ctx, req.URL)
			case req.HTML != "":
				result, err = deps.pipeline.IngestHTML(ctx, req.Source, req.HTML)
			case req.Text != "":
				result, err = deps.pipeline.IngestText(ctx, req.Source, req.Text)
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "one of text, html, or url is required"})
				return
			}
			if err != nil {
				respondError(c, log, err)
				return
			}

			c.JSON(http.StatusOK, result)
		})

		// List taxonomy types
		api.GET("/taxonomy/types", func(c *gin.Context) {
			types := make([]gin.H, 0)
			for _, name := range deps.registry.Types() {
				def, ok := deps.registry.Definition(name)
				if !ok {
					continue
				}
				types = append(types, gin.H{
					"name":        def.Name,
					"description": def.Description,
					"abstract":    def.Abstract,
					"extends":     def.Extends,
				})
			}
			c.JSON(http.StatusOK, gin.H{"types": types})
		})

		// Effective definition of one type, parent merged in
		api.GET("/taxonomy/types/:name", func(c *gin.Context) {
			name := c.Param("name")
			def, ok := deps.registry.Definition(name)
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown entity type %q", name)})
				return
			}

			c.JSON(http.StatusOK, gin.H{
				"name":          def.Name,
				"description":   def.Description,
				"abstract":      def.Abstract,
				"extends":       def.Extends,
				"properties":    deps.registry.PropertiesFor(name),
				"relationships": deps.registry.RelationshipsFor(name),
			})
		})

		// List verification requests, optionally by status
		api.GET("/verifications", func(c *gin.Context) {
			status := c.Query("status")
			switch status {
			case "", verification.StatusPending, verification.StatusApproved,
				verification.StatusRejected, verification.StatusMerged:
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", status)})
				return
			}

			reqs, err := deps.verifier.ByStatus(c.Request.Context(), status)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"requests": reqs})
		})

		// Resolve one verification request
		api.POST("/verifications/:id/process", func(c *gin.Context) {
			id, err := uuid.Parse(c.Param("id"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
				return
			}

			var req struct {
				Action         string `json:"action" binding:"required"`
				EntityID       string `json:"entity_id"`
				TargetEntityID string `json:"target_entity_id"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			resolved, err := deps.verifier.Process(c.Request.Context(), id, strings.ToLower(req.Action), verification.ProcessParams{
				EntityID:       req.EntityID,
				TargetEntityID: req.TargetEntityID,
			})
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, resolved)
		})

		// Merge one entity into another
		api.POST("/merge", func(c *gin.Context) {
			var req struct {
				SourceID *string `json:"source_id"`
				TargetID string  `json:"target_id" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			record, err := deps.verifier.Merge(c.Request.Context(), req.SourceID, req.TargetID)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, record)
		})

		// Backfill embeddings for nodes that are missing them
		api.POST("/embeddings/backfill", func(c *gin.Context) {
			var req struct {
				Limit int `json:"limit"`
			}
			if c.Request.ContentLength > 0 {
				if err := c.ShouldBindJSON(&req); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
			}

			if !deps.embedder.Enabled() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "no embedding endpoint configured"})
				return
			}
			stored, err := deps.embedder.Backfill(c.Request.Context(), deps.store, req.Limit)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"embedded": stored})
		})

		// Graph stats
		api.GET("/stats", func(c *gin.Context) {
			ctx := c.Request.Context()

			stats, err := deps.store.Stats(ctx)
			if err != nil {
				respondError(c, log, err)
				return
			}
			pending, err := deps.verifier.ByStatus(ctx, verification.StatusPending)
			if err != nil {
				respondError(c, log, err)
				return
			}

			c.JSON(http.StatusOK, gin.H{
				"nodes":                 stats.Nodes,
				"edges":                 stats.Edges,
				"nodes_by_type":         stats.NodesByType,
				"pending_verifications": len(pending),
			})
		})
	}

	return router
}

// respondError maps application errors onto HTTP statuses.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case apperrors.IsErrorType(err, apperrors.ErrorTypeValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperrors.IsErrorType(err, apperrors.ErrorTypeExtraction):
		log.Error("Extraction failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Entity extraction failed"})
	default:
		log.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}

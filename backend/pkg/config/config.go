package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// OpenAI-compatible LLM endpoint
	OpenAIAPIKey    string
	OpenAIBaseURL   string // Optional override for proxies/local gateways
	ExtractionModel string
	EmbeddingModel  string

	// Taxonomy
	TaxonomyDir string

	// Verification store (relational)
	VerificationDBDriver string // "postgres" or "sqlite"
	VerificationDBDSN    string

	// Timeouts (seconds)
	GraphTimeoutSeconds int
	LLMTimeoutSeconds   int

	// Matcher thresholds
	VectorThresholdDefault  float64
	VectorThresholdIdentity float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		Env:                     getEnv("ENV", "development"),
		Neo4jURI:                getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:               getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:           getEnv("NEO4J_PASSWORD", "password"),
		OpenAIAPIKey:            getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:           getEnv("OPENAI_BASE_URL", ""),
		ExtractionModel:         getEnv("EXTRACTION_MODEL", "gpt-4o-mini"),
		EmbeddingModel:          getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		TaxonomyDir:             getEnv("TAXONOMY_DIR", "taxonomy"),
		VerificationDBDriver:    getEnv("VERIFICATION_DB_DRIVER", "sqlite"),
		VerificationDBDSN:       getEnv("VERIFICATION_DB_DSN", "archimedes.db"),
		GraphTimeoutSeconds:     getEnvInt("GRAPH_TIMEOUT_SECONDS", 30),
		LLMTimeoutSeconds:       getEnvInt("LLM_TIMEOUT_SECONDS", 60),
		VectorThresholdDefault:  getEnvFloat("VECTOR_THRESHOLD_DEFAULT", 0.8),
		VectorThresholdIdentity: getEnvFloat("VECTOR_THRESHOLD_IDENTITY", 0.85),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return fmt.Errorf("NEO4J_URI is required")
	}
	if c.Neo4jUser == "" {
		return fmt.Errorf("NEO4J_USER is required")
	}
	if c.Neo4jPassword == "" {
		return fmt.Errorf("NEO4J_PASSWORD is required")
	}
	if c.TaxonomyDir == "" {
		return fmt.Errorf("TAXONOMY_DIR is required")
	}
	switch c.VerificationDBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("VERIFICATION_DB_DRIVER must be postgres or sqlite, got %q", c.VerificationDBDriver)
	}
	if c.VectorThresholdDefault <= 0 || c.VectorThresholdDefault > 1 {
		return fmt.Errorf("VECTOR_THRESHOLD_DEFAULT must be in (0, 1]")
	}
	if c.VectorThresholdIdentity < c.VectorThresholdDefault || c.VectorThresholdIdentity > 1 {
		return fmt.Errorf("VECTOR_THRESHOLD_IDENTITY must be in [VECTOR_THRESHOLD_DEFAULT, 1]")
	}
	// OpenAI key is optional: extraction/embedding degrade to disabled
	return nil
}

// GraphTimeout returns the configured graph operation timeout
func (c *Config) GraphTimeout() time.Duration {
	return time.Duration(c.GraphTimeoutSeconds) * time.Second
}

// LLMTimeout returns the configured LLM call timeout
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

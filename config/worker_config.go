package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	// Neo4j
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string

	// Auth
	JWTSecret   string
	SupabaseURL string

	// EncryptionKey seals mailbox secrets, connector credentials and user API keys at rest.
	EncryptionKey string

	// LLM
	ModelCatalogPath string
	LLMMaxRetries    int
	LLMTimeoutSec    int
	LLMObjectRetries int

	// OAuth - Google / Microsoft (IMAP XOAUTH2)
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string

	// OAuth - Intuit (QuickBooks)
	QuickBooksClientID     string
	QuickBooksClientSecret string

	// Sync
	SchedulerEnabled     bool
	SyncInterval         time.Duration
	SyncWorkers          int
	SyncCronBatchLimit   int
	SyncManualBatchLimit int
	SyncAdvancePolicy    string

	// Connectors
	ConnectorRPS   float64
	ConnectorBurst int

	// Agent audit
	AgentRunRetention time.Duration

	// HTTP
	APIRequestsPerSecond float64
	APIBurst             int
	AllowedOrigins       []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", ""),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "jenn"),

		// Neo4j
		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),

		// Auth
		JWTSecret:   getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseURL: getEnv("SUPABASE_URL", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// LLM
		ModelCatalogPath: getEnv("MODEL_CATALOG_PATH", ""),
		LLMMaxRetries:    getEnvInt("LLM_MAX_RETRIES", 2),
		LLMTimeoutSec:    getEnvInt("LLM_TIMEOUT_SEC", 120),
		LLMObjectRetries: getEnvInt("LLM_OBJECT_RETRIES", 2),

		// OAuth
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),

		QuickBooksClientID:     getEnv("QUICKBOOKS_CLIENT_ID", ""),
		QuickBooksClientSecret: getEnv("QUICKBOOKS_CLIENT_SECRET", ""),

		// Sync
		SchedulerEnabled:     getEnvBool("SCHEDULER_ENABLED", true),
		SyncInterval:         time.Duration(getEnvInt("SYNC_INTERVAL_SEC", 60)) * time.Second,
		SyncWorkers:          getEnvInt("SYNC_WORKERS", 8),
		SyncCronBatchLimit:   getEnvInt("SYNC_CRON_BATCH_LIMIT", 0),
		SyncManualBatchLimit: getEnvInt("SYNC_MANUAL_BATCH_LIMIT", 100),
		SyncAdvancePolicy:    getEnv("SYNC_ADVANCE_POLICY", "max_seen"),

		// Connectors
		ConnectorRPS:   getEnvFloat("CONNECTOR_RPS", 5),
		ConnectorBurst: getEnvInt("CONNECTOR_BURST", 10),

		AgentRunRetention: time.Duration(getEnvInt("AGENT_RUN_RETENTION_DAYS", 90)) * 24 * time.Hour,

		// HTTP
		APIRequestsPerSecond: getEnvFloat("API_RPS", 2),
		APIBurst:             getEnvInt("API_BURST", 20),
		AllowedOrigins:       getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}
	return cfg, cfg.Validate()
}

// Validate checks settings without which the worker cannot start.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY is required"))
	}
	if c.JWTSecret == "" && c.SupabaseURL == "" {
		errs = append(errs, errors.New("SUPABASE_JWT_SECRET or SUPABASE_URL is required"))
	}
	switch c.SyncAdvancePolicy {
	case "max_seen", "contiguous":
	default:
		errs = append(errs, errors.New("SYNC_ADVANCE_POLICY must be max_seen or contiguous"))
	}
	return errors.Join(errs...)
}

// JWKSURL is the Supabase JWKS endpoint, empty when SUPABASE_URL is unset.
func (c *Config) JWKSURL() string {
	if c.SupabaseURL == "" {
		return ""
	}
	return strings.TrimSuffix(c.SupabaseURL, "/") + "/auth/v1/.well-known/jwks.json"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

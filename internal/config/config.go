// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"
	LogFile   string // optional append-only log sink in addition to stdout

	// Startup artifacts
	ModelPath     string // JSON classifier artifact
	DatasetPath   string // CSV transaction snapshot
	DatabaseURL   string // PostgreSQL snapshot source (takes precedence over DatasetPath)
	SnapshotTable string
	GeoIPDBPath   string // MaxMind database used to attach country to snapshot rows

	// Traffic
	RateLimitRPM   int
	RateLimitBurst int
	CORSOrigins    []string

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort           = "5000"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultModelPath      = "models/random_forest_fraud_data.json"
	DefaultDatasetPath    = "data/cleaned_Fraud_Data.csv"
	DefaultSnapshotTable  = "transactions"
	DefaultRateLimitRPM   = 600
	DefaultRateLimitBurst = 50
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:      getEnv("LOG_FORMAT", DefaultLogFormat),
		LogFile:        os.Getenv("LOG_FILE"),
		ModelPath:      getEnv("MODEL_PATH", DefaultModelPath),
		DatasetPath:    getEnv("DATASET_PATH", DefaultDatasetPath),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, CSV snapshot if not set
		SnapshotTable:  getEnv("SNAPSHOT_TABLE", DefaultSnapshotTable),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst: int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"*"}),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 0 and 65535")
	}

	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}

	if c.DatabaseURL == "" && c.DatasetPath == "" {
		return fmt.Errorf("DATASET_PATH or DATABASE_URL is required")
	}

	if c.RateLimitRPM <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive")
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesDatabase reports whether the snapshot is read from PostgreSQL
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

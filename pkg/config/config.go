package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration
type Config struct {
	Database      DatabaseConfig
	Import        ImportConfig
	AI            AIConfig
	Gemini        GeminiConfig
	Storage       StorageConfig
	Observability ObservabilityConfig
	Notify        NotifyConfig
}

type DatabaseConfig struct {
	URL      string // takes precedence over the discrete fields
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

type ImportConfig struct {
	WatchDir      string
	DefaultUserID *uuid.UUID
	ScanInterval  time.Duration
	Workers       int
	MaxRetries    int
	RetryDelay    time.Duration
	HandoffTTL    time.Duration
	// SchemaRefresh is how often the daemon reloads parser schemas changed
	// by other processes.
	SchemaRefresh time.Duration
}

type AIConfig struct {
	Provider string // registry name; empty picks gemini when a key is set
}

type GeminiConfig struct {
	APIKey string
	Model  string
	RPS    float64
	Burst  int
}

type StorageConfig struct {
	Backend  string // local or s3
	LocalDir string
	S3Bucket string
	S3Prefix string
	S3Region string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
	LogLevel       string
	LogFormat      string // json or text
}

type NotifyConfig struct {
	ResendAPIKey   string
	EmailFrom      string
	EmailTo        string
	ExpoPushTokens []string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "familyfinance"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("POSTGRES_MAX_CONNS", 10),
		},
		Import: ImportConfig{
			WatchDir:      getEnv("IMPORT_WATCH_DIR", ""),
			ScanInterval:  getEnvAsSeconds("IMPORT_SCAN_INTERVAL_SECONDS", 5*time.Minute),
			Workers:       getEnvAsInt("IMPORT_WORKERS", 4),
			MaxRetries:    getEnvAsInt("IMPORT_MAX_RETRIES", 2),
			RetryDelay:    getEnvAsSeconds("IMPORT_RETRY_DELAY_SECONDS", 60*time.Second),
			HandoffTTL:    getEnvAsSeconds("IMPORT_HANDOFF_TTL_SECONDS", time.Hour),
			SchemaRefresh: getEnvAsSeconds("IMPORT_SCHEMA_REFRESH_SECONDS", time.Minute),
		},
		AI: AIConfig{
			Provider: getEnv("AI_PROVIDER", ""),
		},
		Gemini: GeminiConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			RPS:    getEnvAsFloat("GEMINI_RPS", 1),
			Burst:  getEnvAsInt("GEMINI_BURST", 2),
		},
		Storage: StorageConfig{
			Backend:  getEnv("STORAGE_BACKEND", "local"),
			LocalDir: getEnv("STORAGE_LOCAL_DIR", "./data/handoff"),
			S3Bucket: getEnv("STORAGE_S3_BUCKET", ""),
			S3Prefix: getEnv("STORAGE_S3_PREFIX", "handoff/"),
			S3Region: getEnv("AWS_REGION", ""),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
		},
		Notify: NotifyConfig{
			ResendAPIKey:   getEnv("RESEND_API_KEY", ""),
			EmailFrom:      getEnv("NOTIFY_EMAIL_FROM", ""),
			EmailTo:        getEnv("NOTIFY_EMAIL_TO", ""),
			ExpoPushTokens: getEnvAsList("EXPO_PUSH_TOKENS"),
		},
	}

	if raw := getEnv("IMPORT_DEFAULT_USER_ID", ""); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("IMPORT_DEFAULT_USER_ID: %w", err)
		}
		cfg.Import.DefaultUserID = &id
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Import.Workers < 1 {
		return errors.New("IMPORT_WORKERS must be at least 1")
	}
	if c.Import.MaxRetries < 0 {
		return errors.New("IMPORT_MAX_RETRIES must not be negative")
	}
	if c.Import.WatchDir != "" && c.Import.DefaultUserID == nil {
		return errors.New("IMPORT_DEFAULT_USER_ID is required when IMPORT_WATCH_DIR is set")
	}
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3Bucket == "" {
			return errors.New("STORAGE_S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.AI.Provider == "gemini" && c.Gemini.APIKey == "" {
		return errors.New("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
	}
	return nil
}

// AIProvider is the default provider name: AI_PROVIDER, else gemini when a
// key is configured, else the offline keyword provider.
func (c *Config) AIProvider() string {
	switch {
	case c.AI.Provider != "":
		return c.AI.Provider
	case c.Gemini.APIKey != "":
		return "gemini"
	}
	return "keyword"
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.MaxConns,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil && value >= 0 {
		return time.Duration(value) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/cyderes/content-planner/internal/calendar"
)

// Config holds all configuration for the application
type Config struct {
	Storage    StorageConfig
	Server     ServerConfig
	Generator  GeneratorConfig
	Scheduling SchedulingConfig
	Planner    PlannerConfig
	Log        LogConfig
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type           string `env:"STORAGE_TYPE" envDefault:"postgresql"` // "postgresql", "sqlite", "mongodb", "dynamodb"
	PostgresURI    string `env:"POSTGRES_URI"`
	PostgresDriver string `env:"POSTGRES_DRIVER" envDefault:"postgres"` // "postgres" (lib/pq) or "pgx"
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"content_planner.db"`
	MongoDBURI     string `env:"MONGODB_URI"`
	MongoDatabase  string `env:"MONGODB_DATABASE" envDefault:"content_planner"`
	Region         string `env:"AWS_REGION" envDefault:"us-west-2"` // For AWS DynamoDB
	TableName      string `env:"TABLE_NAME" envDefault:"content_planner"`
	Endpoint       string `env:"DYNAMODB_ENDPOINT"` // Custom endpoint for local testing
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout    time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"180s"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
}

// GeneratorConfig holds language-model configuration
type GeneratorConfig struct {
	Provider        string        `env:"LLM_PROVIDER" envDefault:"openai"` // "openai", "gemini", "anthropic"
	APIKey          string        `env:"OPENAI_API_KEY"`
	BaseURL         string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model           string        `env:"OPENAI_MODEL" envDefault:"gpt-4.1-mini"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	GeminiModel     string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string        `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-20250514"`
	Temperature     float64       `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	MaxTokens       int           `env:"LLM_MAX_TOKENS" envDefault:"8192"`
	Timeout         time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
	ProfilePath     string        `env:"PROMPT_PROFILE"`
}

// SchedulingConfig holds scheduling provider configuration
type SchedulingConfig struct {
	APIKey  string        `env:"LATE_API_KEY"`
	BaseURL string        `env:"LATE_API_BASE_URL" envDefault:"https://getlate.dev/api/v1"`
	Timeout time.Duration `env:"LATE_API_TIMEOUT" envDefault:"30s"`
}

// PlannerConfig holds batch planning defaults
type PlannerConfig struct {
	DefaultTimezone  string   `env:"DEFAULT_TIMEZONE" envDefault:"Europe/Moscow"`
	PostTimes        []string `env:"PLANNER_POST_TIMES" envSeparator:"," envDefault:"10:00,14:00,18:00"`
	MaxBatchDays     int      `env:"PLANNER_MAX_BATCH_DAYS" envDefault:"62"`
	BrandDescription string   `env:"BRAND_DESCRIPTION"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"30"`
}

// Load loads configuration from an optional dotenv file and the environment
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that cannot be expressed as defaults
func (c *Config) Validate() error {
	if _, err := calendar.LoadZone(c.Planner.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err)
	}
	if len(c.Planner.PostTimes) == 0 {
		return fmt.Errorf("PLANNER_POST_TIMES must list at least one time")
	}
	for _, t := range c.Planner.PostTimes {
		if _, _, err := calendar.ParseClock(t); err != nil {
			return fmt.Errorf("invalid PLANNER_POST_TIMES: %w", err)
		}
	}
	if c.Planner.MaxBatchDays <= 0 {
		return fmt.Errorf("PLANNER_MAX_BATCH_DAYS must be positive")
	}
	return nil
}

// Package config loads service configuration from defaults, an
// optional config.yaml, and environment variables, in that order of
// precedence (lowest to highest).
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved service configuration.
type Config struct {
	ListenAddr string

	DatabaseDriver string // "sqlite" or "postgres"
	DatabasePath   string // sqlite file path
	DatabaseURL    string // postgres connection string

	RedisAddr     string // empty selects the in-process cache
	RedisPassword string
	RedisDB       int

	NATSURL string // empty disables event fan-out

	ModerationEnabled bool
	AIProvider        string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	OllamaEndpoint    string
	OllamaModel       string

	ClassifyTimeout     time.Duration
	ClassifyConcurrency int

	HistoryRetention time.Duration
	PurgeInterval    time.Duration

	LogLevel string
}

// Load resolves the configuration. A missing config.yaml is fine;
// invalid values are not.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("LISTEN_ADDR", ":8484")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_PATH", "./data/triage.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("NATS_URL", "")
	v.SetDefault("MODERATION_ENABLED", true)
	v.SetDefault("AI_PROVIDER", "")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("OLLAMA_ENDPOINT", "http://localhost:11434")
	v.SetDefault("OLLAMA_MODEL", "llama3.1")
	v.SetDefault("CLASSIFY_TIMEOUT", "15s")
	v.SetDefault("CLASSIFY_CONCURRENCY", 6)
	v.SetDefault("HISTORY_RETENTION", "24h")
	v.SetDefault("PURGE_INTERVAL", "1h")
	v.SetDefault("LOG_LEVEL", "info")

	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := Config{
		ListenAddr:          v.GetString("LISTEN_ADDR"),
		DatabaseDriver:      v.GetString("DATABASE_DRIVER"),
		DatabasePath:        v.GetString("DATABASE_PATH"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		NATSURL:             v.GetString("NATS_URL"),
		ModerationEnabled:   v.GetBool("MODERATION_ENABLED"),
		AIProvider:          v.GetString("AI_PROVIDER"),
		OpenAIAPIKey:        v.GetString("OPENAI_API_KEY"),
		OpenAIModel:         v.GetString("OPENAI_MODEL"),
		OpenAIBaseURL:       v.GetString("OPENAI_BASE_URL"),
		OllamaEndpoint:      v.GetString("OLLAMA_ENDPOINT"),
		OllamaModel:         v.GetString("OLLAMA_MODEL"),
		ClassifyTimeout:     v.GetDuration("CLASSIFY_TIMEOUT"),
		ClassifyConcurrency: v.GetInt("CLASSIFY_CONCURRENCY"),
		HistoryRetention:    v.GetDuration("HISTORY_RETENTION"),
		PurgeInterval:       v.GetDuration("PURGE_INTERVAL"),
		LogLevel:            v.GetString("LOG_LEVEL"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL required with the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.AIProvider {
	case "", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown AI_PROVIDER %q", c.AIProvider)
	}

	if c.ClassifyTimeout <= 0 {
		return errors.New("config: CLASSIFY_TIMEOUT must be positive")
	}
	if c.PurgeInterval <= 0 {
		return errors.New("config: PURGE_INTERVAL must be positive")
	}
	if c.HistoryRetention <= 0 {
		return errors.New("config: HISTORY_RETENTION must be positive")
	}
	return nil
}

// DatabaseDSN returns the connection string for the selected driver.
func (c Config) DatabaseDSN() string {
	if c.DatabaseDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.DatabasePath
}

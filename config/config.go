// Package config provides application configuration loaded from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port     string
	LogLevel string
	DBPath   string

	// OpenAIAPIKey authenticates model and embedding calls.
	OpenAIAPIKey string
	// AnthropicAPIKey enables the anthropic model provider when set.
	AnthropicAPIKey string
	// ModelProvider selects the inference backend: "openai" or "anthropic".
	ModelProvider string
	// ModelName overrides the provider's default model when set.
	ModelName string

	// RedisAddr enables the shared retrieval cache when set; empty falls
	// back to the in-process cache.
	RedisAddr     string
	RedisPassword string

	Agent     AgentConfig
	Model     DependencyConfig
	Memory    DependencyConfig
	Retrieval RetrievalConfig
}

// AgentConfig controls the reasoning loop.
type AgentConfig struct {
	Instructions  string
	MaxIterations int
	HistoryLimit  int
	FallbackReply string
	RunTimeout    time.Duration
}

// DependencyConfig holds per-dependency resilience settings.
type DependencyConfig struct {
	RatePerSecond    float64
	Burst            int
	FailureThreshold int
	RecoveryTimeout  time.Duration
	PoolSize         int
	MaxAttempts      int
}

// RetrievalConfig controls embedding/result caching.
type RetrievalConfig struct {
	EmbedTTL  time.Duration
	ResultTTL time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DBPath:          getEnv("DB_PATH", "./data/conversations.db"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		ModelProvider:   getEnv("MODEL_PROVIDER", "openai"),
		ModelName:       getEnv("MODEL_NAME", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		Agent: AgentConfig{
			Instructions:  getEnv("AGENT_INSTRUCTIONS", ""),
			MaxIterations: getEnvInt("AGENT_MAX_ITERATIONS", 8),
			HistoryLimit:  getEnvInt("AGENT_HISTORY_LIMIT", 20),
			FallbackReply: getEnv("AGENT_FALLBACK_REPLY",
				"Sorry, I could not finish processing that. Please try again in a moment."),
			RunTimeout: getEnvDuration("AGENT_RUN_TIMEOUT", 60*time.Second),
		},
		Model: DependencyConfig{
			RatePerSecond:    getEnvFloat("MODEL_RATE_PER_SECOND", 5),
			Burst:            getEnvInt("MODEL_BURST", 10),
			FailureThreshold: getEnvInt("MODEL_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  getEnvDuration("MODEL_RECOVERY_TIMEOUT", 30*time.Second),
			PoolSize:         getEnvInt("MODEL_POOL_SIZE", 16),
			MaxAttempts:      getEnvInt("MODEL_MAX_ATTEMPTS", 3),
		},
		Memory: DependencyConfig{
			RatePerSecond:    getEnvFloat("MEMORY_RATE_PER_SECOND", 200),
			Burst:            getEnvInt("MEMORY_BURST", 400),
			FailureThreshold: getEnvInt("MEMORY_FAILURE_THRESHOLD", 10),
			RecoveryTimeout:  getEnvDuration("MEMORY_RECOVERY_TIMEOUT", 10*time.Second),
			PoolSize:         getEnvInt("MEMORY_POOL_SIZE", 32),
			MaxAttempts:      getEnvInt("MEMORY_MAX_ATTEMPTS", 3),
		},
		Retrieval: RetrievalConfig{
			EmbedTTL:  getEnvDuration("RETRIEVAL_EMBED_TTL", 6*time.Hour),
			ResultTTL: getEnvDuration("RETRIEVAL_RESULT_TTL", 15*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.ModelProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY cannot be empty when MODEL_PROVIDER=openai")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY cannot be empty when MODEL_PROVIDER=anthropic")
		}
	default:
		return fmt.Errorf("MODEL_PROVIDER must be openai or anthropic, got %q", c.ModelProvider)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

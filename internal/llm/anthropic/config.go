package anthropic

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds Anthropic-specific LLM configuration.
type Config struct {
	APIKey      string // API key for authentication
	BaseURL     string // optional override of the default Anthropic endpoint
	Model       string // model name (default: claude-sonnet-4-20250514)
	Temperature *float32
	MaxTokens   int // default: 4096
	MaxRetries  int // default: 1
}

// NewConfigFromEnv creates Config from environment variables.
// Expected env vars: ANTHROPIC_API_KEY, ANTHROPIC_BASE_URL, ANTHROPIC_MODEL,
// ANTHROPIC_TEMPERATURE, ANTHROPIC_MAX_TOKENS, ANTHROPIC_MAX_RETRIES.
func NewConfigFromEnv() (*Config, error) {
	config := &Config{
		APIKey:      getEnvOrDefault("ANTHROPIC_API_KEY", ""),
		BaseURL:     getEnvOrDefault("ANTHROPIC_BASE_URL", ""),
		Model:       getEnvOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		Temperature: getEnvFloat32Ptr("ANTHROPIC_TEMPERATURE"),
		MaxTokens:   getEnvIntOrDefault("ANTHROPIC_MAX_TOKENS", 4096),
		MaxRetries:  getEnvIntOrDefault("ANTHROPIC_MAX_RETRIES", 1),
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required. Set it in .env or environment")
	}
	if c.Model == "" {
		return fmt.Errorf("ANTHROPIC_MODEL cannot be empty")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("ANTHROPIC_MAX_RETRIES cannot be negative, got %d", c.MaxRetries)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvFloat32Ptr(key string) *float32 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			f := float32(parsed)
			return &f
		}
	}
	return nil
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Package config loads application configuration from environment
// variables and an optional config file via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ledgerhound/ledgerhound/internal/llm"
)

// Config is the resolved application configuration.
type Config struct {
	Port     int
	DBPath   string
	LogLevel string

	GCPProjectID string
	GCPRegion    string

	LLMProvider              string
	LLMCategorizationEnabled bool
	AnthropicAPIKey          string
	AnthropicModel           string
	VertexModel              string
	VertexLocation           string
	LLMRequestsPerMinute     int
	LLMCacheTTL              time.Duration

	CORSAllowedOrigin   string
	AllowLocalDevBypass bool
}

// Load resolves configuration with env vars taking precedence over the
// config file, and defaults underneath both.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("log_level", "info")
	v.SetDefault("gcp_region", "northamerica-northeast1")
	v.SetDefault("llm_provider", llm.ProviderVertex)
	v.SetDefault("llm_categorization_enabled", true)
	v.SetDefault("vertex_location", "northamerica-northeast1")
	v.SetDefault("llm_requests_per_minute", 60)
	v.SetDefault("llm_cache_ttl", "15m")
	v.SetDefault("allow_local_dev_bypass", false)

	v.SetConfigName("ledgerhound")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/ledgerhound")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	cfg := &Config{
		Port:     v.GetInt("port"),
		DBPath:   v.GetString("db_path"),
		LogLevel: v.GetString("log_level"),

		GCPProjectID: v.GetString("gcp_project_id"),
		GCPRegion:    v.GetString("gcp_region"),

		LLMProvider:              strings.ToLower(v.GetString("llm_provider")),
		LLMCategorizationEnabled: v.GetBool("llm_categorization_enabled"),
		AnthropicAPIKey:          v.GetString("anthropic_api_key"),
		AnthropicModel:           v.GetString("anthropic_model"),
		VertexModel:              v.GetString("vertex_model"),
		VertexLocation:           v.GetString("vertex_location"),
		LLMRequestsPerMinute:     v.GetInt("llm_requests_per_minute"),
		LLMCacheTTL:              v.GetDuration("llm_cache_ttl"),

		CORSAllowedOrigin:   v.GetString("cors_allowed_origin"),
		AllowLocalDevBypass: v.GetBool("allow_local_dev_bypass"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if !c.LLMCategorizationEnabled {
		return nil
	}
	switch c.LLMProvider {
	case llm.ProviderClaude:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for provider %s", c.LLMProvider)
		}
	case llm.ProviderVertex:
		if c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for provider %s", c.LLMProvider)
		}
	default:
		return fmt.Errorf("unsupported LLM provider %q", c.LLMProvider)
	}
	return nil
}

// LLMConfig maps the application config onto the LLM adapter's config.
func (c *Config) LLMConfig() llm.Config {
	cfg := llm.Config{
		Provider:          c.LLMProvider,
		RequestsPerMinute: c.LLMRequestsPerMinute,
		CacheTTL:          c.LLMCacheTTL,
	}
	switch c.LLMProvider {
	case llm.ProviderClaude:
		cfg.APIKey = c.AnthropicAPIKey
		cfg.Model = c.AnthropicModel
	case llm.ProviderVertex:
		cfg.ProjectID = c.GCPProjectID
		cfg.Location = c.VertexLocation
		cfg.Model = c.VertexModel
	}
	return cfg
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledgerhound.db"
	}
	return filepath.Join(home, ".local", "share", "ledgerhound", "ledgerhound.db")
}

// Package llm implements the provider-agnostic LLM adapter: raw provider
// clients, response caching, rate limiting, and the classification and
// document-parsing surfaces built on top of them.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider names accepted in configuration.
const (
	ProviderClaude = "claude_like"
	ProviderVertex = "vertex_like"
)

// Request is a single completion request to a provider. Document is
// optional; when set, MimeType must identify it.
type Request struct {
	System    string
	Prompt    string
	Document  []byte
	MimeType  string
	MaxTokens int
}

// Client is the raw completion surface a provider implements. Providers
// return the model's text verbatim; parsing is the adapter's job.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// Config selects and configures a provider.
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	ProjectID         string
	Location          string
	RequestsPerMinute int
	CacheTTL          time.Duration
	Timeout           time.Duration
}

// NewClient creates a raw provider client from configuration.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderClaude:
		return newAnthropicClient(cfg)
	case ProviderVertex:
		return newVertexClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// Package embeddings provides embedding generation via multiple providers.
//
// Supports FastEmbed (local ONNX), TEI (external service), OpenAI (remote
// API) and a deterministic provider for tests. All providers share the same
// contract: one vector per input in input order, all-or-nothing on failure,
// and an empty input yields an empty output without any model call.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure. The
	// underlying cause (network, model, quota) is wrapped.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts, preserving
	// input order. Either every text gets a vector or the call fails as a
	// whole; there are no partial results. Empty input returns an empty
	// slice without touching the model.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query. Some models
	// optimize differently for queries vs documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// ModelName returns the configured model identifier.
	ModelName() string

	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is the provider type: "fastembed", "tei", "openai" or
	// "deterministic".
	Provider string `koanf:"provider"`
	// Model is the embedding model name.
	Model string `koanf:"model"`
	// BaseURL is the TEI URL (TEI provider only).
	BaseURL string `koanf:"base_url"`
	// APIKey is the API key (OpenAI provider only).
	APIKey string `koanf:"api_key"`
	// CacheDir is the model cache directory (FastEmbed only).
	CacheDir string `koanf:"cache_dir"`
	// BatchSize caps texts per upstream request. Larger inputs are chunked
	// internally with aggregate order preserved. Default: 256.
	BatchSize int `koanf:"batch_size"`
	// Dimension sets the vector size for the deterministic provider.
	Dimension int `koanf:"dimension"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "fastembed"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case "fastembed", "tei", "openai", "deterministic", "":
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Provider == "openai" && c.APIKey == "" {
		return fmt.Errorf("%w: openai provider requires api_key", ErrInvalidConfig)
	}
	return nil
}

// NewProvider creates an embedding provider based on the configuration.
// The variant set is closed; there is no runtime plugin loading.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "tei":
		return NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			BatchSize: cfg.BatchSize,
		})
	case "deterministic":
		return NewDeterministicProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// chunk splits texts into slices of at most size elements, preserving order.
func chunk(texts []string, size int) [][]string {
	if size <= 0 {
		size = 256
	}
	var chunks [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		chunks = append(chunks, texts[start:end])
	}
	return chunks
}

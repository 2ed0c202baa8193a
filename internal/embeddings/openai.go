package embeddings

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig holds configuration for the OpenAI remote provider.
type OpenAIConfig struct {
	// Model is the embedding model. Default: text-embedding-3-small.
	Model string

	// APIKey is the OpenAI API key. Falls back to OPENAI_API_KEY when empty.
	APIKey string

	// BatchSize caps texts per API request. Default: 256.
	BatchSize int
}

// openaiDimensions maps known OpenAI embedding models to their dimensions.
var openaiDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider generates embeddings via the OpenAI API through langchaingo.
type OpenAIProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	modelName string
	dimension int
	batchSize int
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	dim, ok := openaiDimensions[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported OpenAI embedding model %q", ErrInvalidConfig, cfg.Model)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}

	opts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm, lcembeddings.WithBatchSize(cfg.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAIProvider{
		embedder:  embedder,
		modelName: cfg.Model,
		dimension: dim,
		batchSize: cfg.BatchSize,
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts. langchaingo handles
// batching internally; order is preserved.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmbeddingFailed)
	}

	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	return vector, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// ModelName returns the configured model identifier.
func (p *OpenAIProvider) ModelName() string {
	return p.modelName
}

// Close is a no-op; the underlying client uses plain HTTP.
func (p *OpenAIProvider) Close() error {
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)

package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// DeterministicProvider returns pseudo-random unit vectors derived from the
// text content. The same text always maps to the same vector, which makes it
// suitable for tests and offline development: similarity is meaningless but
// stable, and no model or network is involved.
type DeterministicProvider struct {
	dimension int
}

// NewDeterministicProvider creates a deterministic test provider.
// Dimension defaults to 384 to mirror the bge-small family.
func NewDeterministicProvider(dimension int) *DeterministicProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &DeterministicProvider{dimension: dimension}
}

// EmbedDocuments generates one vector per text in input order.
func (p *DeterministicProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.vectorFor(text)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *DeterministicProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return p.vectorFor(text), nil
}

// vectorFor derives a unit vector from the FNV hash of the text.
func (p *DeterministicProvider) vectorFor(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, p.dimension)
	var sumSq float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		sumSq += v * v
	}

	if sumSq > 0 {
		inv := float32(1.0 / math.Sqrt(sumSq))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// Dimension returns the configured vector size.
func (p *DeterministicProvider) Dimension() int {
	return p.dimension
}

// ModelName identifies the provider; there is no real model behind it.
func (p *DeterministicProvider) ModelName() string {
	return "deterministic"
}

// Close is a no-op.
func (p *DeterministicProvider) Close() error {
	return nil
}

var _ Provider = (*DeterministicProvider)(nil)

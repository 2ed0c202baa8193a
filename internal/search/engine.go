// Package search implements semantic search over the vector store: top-k
// queries, similarity lookup, multi-query fusion and recommendations.
package search

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semidx/internal/embeddings"
	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

var tracer = otel.Tracer("semidx.search")

// Recommendation kinds.
const (
	KindDuplicate  = "duplicate"
	KindSimilar    = "similar"
	KindComplement = "complement"
)

// Score bands for recommendations.
const (
	duplicateMinScore  = 0.9
	complementMinScore = 0.5
	complementMaxScore = 0.8
)

// Config holds search engine configuration.
type Config struct {
	// Strict makes Search and FindSimilar propagate provider/store errors
	// instead of degrading to an empty result. Default false: search never
	// crashes the caller.
	Strict bool `koanf:"strict"`

	// DefaultTopK is used when a caller passes topK <= 0. Default: 10.
	DefaultTopK int `koanf:"default_top_k"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 10
	}
}

// Engine answers semantic queries by embedding query text and delegating
// nearest-neighbor search to the store.
type Engine struct {
	provider embeddings.Provider
	store    vectorstore.Store
	config   Config
	logger   *zap.Logger
}

// NewEngine creates a search engine.
func NewEngine(provider embeddings.Provider, store vectorstore.Store, config Config, logger *zap.Logger) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	return &Engine{
		provider: provider,
		store:    store,
		config:   config,
		logger:   logger,
	}, nil
}

// degrade converts an error into an empty result in lenient mode.
func (e *Engine) degrade(op string, err error) ([]memory.SearchResult, error) {
	if e.config.Strict {
		return nil, err
	}
	e.logger.Warn("search degraded to empty result",
		zap.String("operation", op),
		zap.Error(err),
	)
	return []memory.SearchResult{}, nil
}

// Search embeds queryText and returns up to topK results with score >=
// minScore, ranked 1-based by descending score. An empty query returns an
// empty list without calling the provider. In lenient mode provider and
// store failures also yield an empty list.
func (e *Engine) Search(ctx context.Context, queryText string, filter *vectorstore.Filter, topK int, minScore float32) ([]memory.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Search")
	defer span.End()

	if queryText == "" {
		return []memory.SearchResult{}, nil
	}
	if topK <= 0 {
		topK = e.config.DefaultTopK
	}
	span.SetAttributes(attribute.Int("top_k", topK))

	vector, err := e.provider.EmbedQuery(ctx, queryText)
	if err != nil {
		span.RecordError(err)
		return e.degrade("search.embed", err)
	}

	results, err := e.store.Query(ctx, vector, topK, filter)
	if err != nil {
		span.RecordError(err)
		return e.degrade("search.query", err)
	}

	filtered := results[:0:0]
	for _, r := range results {
		if r.Score >= minScore {
			filtered = append(filtered, r)
		}
	}
	for i := range filtered {
		filtered[i].Rank = i + 1
	}

	span.SetAttributes(attribute.Int("results", len(filtered)))
	return filtered, nil
}

// FindSimilar returns up to topK neighbors of the record with the given id,
// never including the record itself. A missing or embedding-less reference
// returns an empty list.
func (e *Engine) FindSimilar(ctx context.Context, id string, filter *vectorstore.Filter, topK int) ([]memory.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.FindSimilar")
	defer span.End()

	if topK <= 0 {
		topK = e.config.DefaultTopK
	}

	ref, err := e.store.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return e.degrade("find_similar.get", err)
	}
	if !ref.HasEmbedding() {
		return []memory.SearchResult{}, nil
	}

	// One extra neighbor tolerates the reference showing up in its own
	// neighbor set.
	raw, err := e.store.Query(ctx, ref.Embedding, topK+1, filter)
	if err != nil {
		span.RecordError(err)
		return e.degrade("find_similar.query", err)
	}

	results := make([]memory.SearchResult, 0, topK)
	for _, r := range raw {
		if r.Record.ID == id {
			continue
		}
		results = append(results, r)
		if len(results) == topK {
			break
		}
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// MultiQuerySearch runs Search per query with an enlarged candidate set,
// averages each record's score across the queries it appeared in, and
// returns the topK records by average score.
func (e *Engine) MultiQuerySearch(ctx context.Context, queries []string, filter *vectorstore.Filter, topK int) ([]memory.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.MultiQuerySearch")
	defer span.End()

	if topK <= 0 {
		topK = e.config.DefaultTopK
	}
	span.SetAttributes(attribute.Int("queries", len(queries)), attribute.Int("top_k", topK))

	type accum struct {
		record *memory.MemoryRecord
		total  float32
		hits   int
	}
	scores := make(map[string]*accum)

	for _, q := range queries {
		// Over-fetch per query to improve recall of the fused list.
		results, err := e.Search(ctx, q, filter, 2*topK, 0)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			a, ok := scores[r.Record.ID]
			if !ok {
				a = &accum{record: r.Record}
				scores[r.Record.ID] = a
			}
			a.total += r.Score
			a.hits++
		}
	}

	fused := make([]memory.SearchResult, 0, len(scores))
	for _, a := range scores {
		fused = append(fused, memory.SearchResult{
			Record: a.record,
			Score:  a.total / float32(a.hits),
		})
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].Record.ID < fused[j].Record.ID
	})

	if len(fused) > topK {
		fused = fused[:topK]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}

	span.SetAttributes(attribute.Int("results", len(fused)))
	return fused, nil
}

// Recommendations returns neighbors of id selected by kind:
// duplicates (score > 0.9), similar (plain FindSimilar), or complements
// (related but different, 0.5 < score < 0.8).
func (e *Engine) Recommendations(ctx context.Context, id string, kind string, topK int) ([]memory.SearchResult, error) {
	if topK <= 0 {
		topK = e.config.DefaultTopK
	}

	neighbors, err := e.FindSimilar(ctx, id, nil, topK)
	if err != nil {
		return nil, err
	}

	var keep func(score float32) bool
	switch kind {
	case KindDuplicate:
		keep = func(s float32) bool { return s > duplicateMinScore }
	case KindSimilar:
		return neighbors, nil
	case KindComplement:
		keep = func(s float32) bool { return s > complementMinScore && s < complementMaxScore }
	default:
		return nil, fmt.Errorf("unknown recommendation kind %q", kind)
	}

	results := neighbors[:0:0]
	for _, r := range neighbors {
		if keep(r.Score) {
			results = append(results, r)
		}
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

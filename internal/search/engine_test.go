package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

// mapProvider resolves query texts to fixed vectors.
type mapProvider struct {
	vectors map[string][]float32
	err     error
}

func (p *mapProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectors[t]
	}
	return out, nil
}

func (p *mapProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	v, ok := p.vectors[text]
	if !ok {
		return nil, errors.New("unknown query")
	}
	return v, nil
}

func (p *mapProvider) Dimension() int    { return 3 }
func (p *mapProvider) ModelName() string { return "map" }
func (p *mapProvider) Close() error      { return nil }

// newTestIndex seeds a local store with records at known angles from the
// x axis: exact (1.0), near (~0.999), mid (~0.7) and far (0.0).
func newTestIndex(t *testing.T) vectorstore.Store {
	t.Helper()
	store, err := vectorstore.NewLocalStore(vectorstore.LocalConfig{VectorSize: 3}, nil)
	require.NoError(t, err)

	add := func(id string, typ memory.RecordType, vec []float32) {
		rec, err := memory.NewRecord(id, typ, "text for "+id)
		require.NoError(t, err)
		rec.Embedding = vec
		_, err = store.Upsert(context.Background(), []*memory.MemoryRecord{rec})
		require.NoError(t, err)
	}

	add("exact", memory.TypeTest, []float32{1, 0, 0})
	add("near", memory.TypeTest, []float32{0.95, 0.05, 0})
	add("mid", memory.TypeScenario, []float32{0.7, 0.714, 0})
	add("far", memory.TypeFailure, []float32{0, 1, 0})
	return store
}

func xQuery() *mapProvider {
	return &mapProvider{vectors: map[string][]float32{
		"q":  {1, 0, 0},
		"qy": {0, 1, 0},
	}}
}

func TestEngine_Search(t *testing.T) {
	engine, err := NewEngine(xQuery(), newTestIndex(t), Config{}, nil)
	require.NoError(t, err)

	results, err := engine.Search(context.Background(), "q", nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "exact", results[0].Record.ID)
	assert.Equal(t, "near", results[1].Record.ID)
	assert.Equal(t, "mid", results[2].Record.ID)
	assert.Equal(t, "far", results[3].Record.ID)
	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestEngine_Search_EmptyQuery(t *testing.T) {
	provider := xQuery()
	engine, err := NewEngine(provider, newTestIndex(t), Config{Strict: true}, nil)
	require.NoError(t, err)

	results, err := engine.Search(context.Background(), "", nil, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_Search_MinScore(t *testing.T) {
	engine, err := NewEngine(xQuery(), newTestIndex(t), Config{}, nil)
	require.NoError(t, err)

	results, err := engine.Search(context.Background(), "q", nil, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact", results[0].Record.ID)
	assert.Equal(t, "near", results[1].Record.ID)
	// Ranks are recomputed after the floor is applied.
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
}

func TestEngine_Search_TypeFilter(t *testing.T) {
	engine, err := NewEngine(xQuery(), newTestIndex(t), Config{}, nil)
	require.NoError(t, err)

	results, err := engine.Search(context.Background(), "q", &vectorstore.Filter{
		Types: []memory.RecordType{memory.TypeScenario},
	}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mid", results[0].Record.ID)
}

func TestEngine_Search_LenientDegradesToEmpty(t *testing.T) {
	provider := &mapProvider{err: errors.New("model offline")}
	engine, err := NewEngine(provider, newTestIndex(t), Config{}, nil)
	require.NoError(t, err)

	results, err := engine.Search(context.Background(), "q", nil, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_Search_StrictPropagates(t *testing.T) {
	cause := errors.New("model offline")
	engine, err := NewEngine(&mapProvider{err: cause}, newTestIndex(t), Config{Strict: true}, nil)
	require.NoError(t, err)

	_, err = engine.Search(context.Background(), "q", nil, 10, 0)
	assert.ErrorIs(t, err, cause)
}

func TestEngine_FindSimilar_ExcludesSelf(t *testing.T) {
	engine, err := NewEngine(xQuery(), newTestIndex(t), Config{}, nil)
	require.NoError(t, err)

	results, err := engine.FindSimilar(context.Background(), "exact", nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.NotEqual(t, "exact", r.Record.ID)
	}
	assert.Equal(t, "near", results[0].Record.ID)
	assert.Equal(t, "mid", results[1].Record.ID)
}

func TestEngine_FindSimilar_MissingRecord(t *testing.T) {
	engine, err := NewEngine(xQuery(), newTestIndex(t), Config{}, nil)
	require.NoError(t, err)

	results, err := engine.FindSimilar(context.Background(), "nope", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_FindSimilar_MissingRecordStrict(t *testing.T) {
	engine, err := NewEngine(xQuery(), newTestIndex(t), Config{Strict: true}, nil)
	require.NoError(t, err)

	_, err = engine.FindSimilar(context.Background(), "nope", nil, 5)
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)
}

func TestEngine_MultiQuerySearch(t *testing.T) {
	engine, err := NewEngine(xQuery(), newTestIndex(t), Config{}, nil)
	require.NoError(t, err)

	// Every record appears under both queries, so averaging favors "mid",
	// which sits between the two query directions, over the records only
	// one query likes.
	results, err := engine.MultiQuerySearch(context.Background(), []string{"q", "qy"}, nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "mid", results[0].Record.ID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, "near", results[1].Record.ID)
	assert.Equal(t, 2, results[1].Rank)
}

func TestEngine_Recommendations(t *testing.T) {
	engine, err := NewEngine(xQuery(), newTestIndex(t), Config{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	dups, err := engine.Recommendations(ctx, "exact", KindDuplicate, 10)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, "near", dups[0].Record.ID)

	comps, err := engine.Recommendations(ctx, "exact", KindComplement, 10)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, "mid", comps[0].Record.ID)

	sims, err := engine.Recommendations(ctx, "exact", KindSimilar, 10)
	require.NoError(t, err)
	assert.Len(t, sims, 3)

	_, err = engine.Recommendations(ctx, "exact", "adjacent", 10)
	assert.Error(t, err)
}

package reliability

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semidx/internal/memory"
)

func newDriftDetector(t *testing.T, store *fakeStore, threshold float64) *DriftDetector {
	t.Helper()
	d, err := NewDriftDetector(store, DriftConfig{Threshold: threshold}, nil)
	require.NoError(t, err)
	return d
}

func TestDrift_NoPriorEmbedding(t *testing.T) {
	store := newFakeStore()
	detector := newDriftDetector(t, store, 0)

	// Missing record: nothing to drift from.
	result, err := detector.CheckDrift(context.Background(), "ghost", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.False(t, result.HasDrifted)
	assert.Equal(t, 1.0, result.Similarity)
	assert.Equal(t, DefaultDriftThreshold, result.Threshold)

	// Stored record without an embedding behaves the same.
	rec := freshRecord(t, "t1")
	rec.Embedding = nil
	_, err = store.Upsert(context.Background(), []*memory.MemoryRecord{rec})
	require.NoError(t, err)

	result, err = detector.CheckDrift(context.Background(), "t1", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.False(t, result.HasDrifted)
	assert.Equal(t, 1.0, result.Similarity)

	// No drift metadata is written in either case.
	got, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, got.Meta(memory.MetaDriftScore))
}

func TestDrift_Detected(t *testing.T) {
	store := newFakeStore()
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{freshRecord(t, "t1")})
	require.NoError(t, err)

	detector := newDriftDetector(t, store, 0.85)

	// Orthogonal to the stored [1,0,0] vector.
	result, err := detector.CheckDrift(context.Background(), "t1", []float32{0, 1, 0})
	require.NoError(t, err)
	assert.True(t, result.HasDrifted)
	assert.InDelta(t, 0.0, result.Similarity, 1e-9)
	assert.Equal(t, []float32{1, 0, 0}, result.OldVector)

	got, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "true", got.Meta(memory.MetaDriftDetected))

	score, err := strconv.ParseFloat(got.Meta(memory.MetaDriftScore), 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, score, 1e-6)
}

func TestDrift_WithinThreshold(t *testing.T) {
	store := newFakeStore()
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{freshRecord(t, "t1")})
	require.NoError(t, err)

	detector := newDriftDetector(t, store, 0.85)

	result, err := detector.CheckDrift(context.Background(), "t1", []float32{0.95, 0.05, 0})
	require.NoError(t, err)
	assert.False(t, result.HasDrifted)
	assert.Greater(t, result.Similarity, 0.85)

	// Score is persisted even without drift.
	got, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "false", got.Meta(memory.MetaDriftDetected))
	assert.NotEmpty(t, got.Meta(memory.MetaDriftScore))
}

func TestDrift_StrictThresholdBoundary(t *testing.T) {
	store := newFakeStore()
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{freshRecord(t, "t1")})
	require.NoError(t, err)

	// Similarity exactly at the threshold does not count as drift.
	detector := newDriftDetector(t, store, 1.0)
	result, err := detector.CheckDrift(context.Background(), "t1", []float32{2, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Similarity, 1e-9)
	assert.False(t, result.HasDrifted)
}

func TestDrift_EmptyNewEmbedding(t *testing.T) {
	detector := newDriftDetector(t, newFakeStore(), 0)
	_, err := detector.CheckDrift(context.Background(), "t1", nil)
	assert.Error(t, err)
}

func TestDriftConfig_Validate(t *testing.T) {
	cfg := DriftConfig{Threshold: 1.5}
	assert.Error(t, cfg.Validate())

	cfg = DriftConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultDriftThreshold, cfg.Threshold)
	assert.NoError(t, cfg.Validate())
}

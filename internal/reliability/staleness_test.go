package reliability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

// fakeStore holds records in a map, with no similarity index. It lets the
// tests construct states a real upsert would reject, like a stored record
// with no embedding.
type fakeStore struct {
	records map[string]*memory.MemoryRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*memory.MemoryRecord)}
}

func (s *fakeStore) Upsert(ctx context.Context, records []*memory.MemoryRecord) (int, error) {
	for _, rec := range records {
		s.records[rec.ID] = rec.Clone()
	}
	return len(records), nil
}

func (s *fakeStore) Query(ctx context.Context, vector []float32, topK int, filter *vectorstore.Filter) ([]memory.SearchResult, error) {
	return nil, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*memory.MemoryRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *fakeStore) Delete(ctx context.Context, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Count(ctx context.Context, filter *vectorstore.Filter) (int, error) {
	return len(s.records), nil
}

func (s *fakeStore) Close() error { return nil }

var _ vectorstore.Store = (*fakeStore)(nil)

var testVersion = memory.EmbeddingVersion{Schema: "v1", Content: "v1", Model: "bge-small-en-v1.5"}

// freshRecord returns a record that passes every staleness check.
func freshRecord(t *testing.T, id string) *memory.MemoryRecord {
	t.Helper()
	rec, err := memory.NewRecord(id, memory.TypeTest, "verifies login")
	require.NoError(t, err)
	rec.Embedding = []float32{1, 0, 0}
	rec.SetMeta(memory.MetaEmbeddingVersion, testVersion.String())
	rec.SetMeta(memory.MetaFingerprint, Fingerprint(rec.Text))
	return rec
}

func newDetector(t *testing.T, store vectorstore.Store) *StalenessDetector {
	t.Helper()
	d, err := NewStalenessDetector(store, DefaultStalenessConfig(testVersion), nil)
	require.NoError(t, err)
	return d
}

func TestStaleness_Fresh(t *testing.T) {
	store := newFakeStore()
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{freshRecord(t, "t1")})
	require.NoError(t, err)

	result, err := newDetector(t, store).Check(context.Background(), "t1", "verifies login")
	require.NoError(t, err)
	assert.False(t, result.Stale)
}

func TestStaleness_MissingRecord(t *testing.T) {
	result, err := newDetector(t, newFakeStore()).Check(context.Background(), "ghost", "")
	require.NoError(t, err)
	assert.True(t, result.Stale)
	assert.Equal(t, memory.ReasonNoEmbedding, result.Reason)
}

func TestStaleness_NoEmbedding(t *testing.T) {
	store := newFakeStore()
	rec := freshRecord(t, "t1")
	rec.Embedding = nil
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{rec})
	require.NoError(t, err)

	result, err := newDetector(t, store).Check(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, memory.ReasonNoEmbedding, result.Reason)
}

func TestStaleness_NoVersionBeatsContentChange(t *testing.T) {
	store := newFakeStore()
	rec := freshRecord(t, "t1")
	delete(rec.Metadata, memory.MetaEmbeddingVersion)
	// Fingerprint also stale, but the version check runs first.
	rec.SetMeta(memory.MetaFingerprint, Fingerprint("old text"))
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{rec})
	require.NoError(t, err)

	result, err := newDetector(t, store).Check(context.Background(), "t1", "new text")
	require.NoError(t, err)
	assert.Equal(t, memory.ReasonNoVersion, result.Reason)
}

func TestStaleness_VersionMismatch(t *testing.T) {
	store := newFakeStore()
	rec := freshRecord(t, "t1")
	old := memory.EmbeddingVersion{Schema: "v1", Content: "v1", Model: "all-minilm-l6-v2"}
	rec.SetMeta(memory.MetaEmbeddingVersion, old.String())
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{rec})
	require.NoError(t, err)

	result, err := newDetector(t, store).Check(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, memory.ReasonVersionMismatch, result.Reason)
	assert.Equal(t, old.String(), result.StoredVersion)
	assert.Equal(t, testVersion.String(), result.CurrentVersion)
}

func TestStaleness_ContentChanged(t *testing.T) {
	store := newFakeStore()
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{freshRecord(t, "t1")})
	require.NoError(t, err)

	detector := newDetector(t, store)

	result, err := detector.Check(context.Background(), "t1", "verifies login AND logout")
	require.NoError(t, err)
	assert.Equal(t, memory.ReasonContentChanged, result.Reason)

	// Without current text the content check is skipped entirely.
	result, err = detector.Check(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.False(t, result.Stale)
}

func TestStaleness_AgeThreshold(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return now }
	defer func() { timeNow = time.Now }()

	tests := []struct {
		name    string
		ageDays int
		stale   bool
	}{
		{"past threshold", 91, true},
		{"at threshold", 90, false},
		{"well within", 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			rec := freshRecord(t, "t1")
			rec.UpdatedAt = now.AddDate(0, 0, -tt.ageDays)
			_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{rec})
			require.NoError(t, err)

			result, err := newDetector(t, store).Check(context.Background(), "t1", "")
			require.NoError(t, err)
			assert.Equal(t, tt.stale, result.Stale)
			if tt.stale {
				assert.Equal(t, memory.ReasonAgeThreshold, result.Reason)
				assert.Equal(t, tt.ageDays, result.AgeDays)
			}
		})
	}
}

func TestStaleness_ManualFlag(t *testing.T) {
	store := newFakeStore()
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{freshRecord(t, "t1")})
	require.NoError(t, err)

	detector := newDetector(t, store)
	ctx := context.Background()

	require.NoError(t, detector.MarkStale(ctx, "t1"))
	// Marking twice is a no-op, not an error.
	require.NoError(t, detector.MarkStale(ctx, "t1"))

	result, err := detector.Check(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, memory.ReasonManualStale, result.Reason)

	require.NoError(t, detector.ClearStale(ctx, "t1"))
	require.NoError(t, detector.ClearStale(ctx, "t1"))

	result, err = detector.Check(ctx, "t1", "")
	require.NoError(t, err)
	assert.False(t, result.Stale)
}

func TestStaleness_MarkStaleMissingRecord(t *testing.T) {
	err := newDetector(t, newFakeStore()).MarkStale(context.Background(), "ghost")
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)
}

func TestStaleness_ChecksDisabled(t *testing.T) {
	store := newFakeStore()
	rec := freshRecord(t, "t1")
	delete(rec.Metadata, memory.MetaEmbeddingVersion)
	delete(rec.Metadata, memory.MetaFingerprint)
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{rec})
	require.NoError(t, err)

	cfg := DefaultStalenessConfig(testVersion)
	cfg.CheckVersion = false
	cfg.CheckFingerprint = false
	detector, err := NewStalenessDetector(store, cfg, nil)
	require.NoError(t, err)

	result, err := detector.Check(context.Background(), "t1", "totally different text")
	require.NoError(t, err)
	assert.False(t, result.Stale)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("same text")
	b := Fingerprint("same text")
	c := Fingerprint("other text")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestFingerprintTracker(t *testing.T) {
	store := newFakeStore()
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{freshRecord(t, "t1")})
	require.NoError(t, err)

	tracker := NewFingerprintTracker(store)
	ctx := context.Background()

	changed, err := tracker.HasChanged(ctx, "t1", "verifies login")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = tracker.HasChanged(ctx, "t1", "verifies logout")
	require.NoError(t, err)
	assert.True(t, changed)

	// A missing record counts as changed.
	changed, err = tracker.HasChanged(ctx, "ghost", "anything")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestVersionTracker(t *testing.T) {
	store := newFakeStore()
	_, err := store.Upsert(context.Background(), []*memory.MemoryRecord{freshRecord(t, "t1")})
	require.NoError(t, err)

	tracker := NewVersionTracker(store)
	ctx := context.Background()

	current, err := tracker.IsCurrent(ctx, "t1", testVersion)
	require.NoError(t, err)
	assert.True(t, current)

	other := testVersion
	other.Model = "all-minilm-l6-v2"
	current, err = tracker.IsCurrent(ctx, "t1", other)
	require.NoError(t, err)
	assert.False(t, current)

	v, ok, err := tracker.StoredVersion(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testVersion, v)

	_, ok, err = tracker.StoredVersion(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

package vectorstore

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/vecmath"
)

// localTracer for OpenTelemetry instrumentation.
var localTracer = otel.Tracer("semidx.vectorstore.local")

// snapshotFile is the record snapshot written next to the index.
const snapshotFile = "records.gob"

// LocalConfig holds configuration for the embedded local store.
type LocalConfig struct {
	// Path is the directory for the on-disk snapshot. Empty disables
	// persistence; the index then lives purely in memory.
	Path string `koanf:"path"`

	// Collection is the chromem collection name.
	// Default: "semidx_records"
	Collection string `koanf:"collection"`

	// VectorSize is the expected embedding dimension.
	// Must match the embedding provider's output dimension.
	// Default: 384 (bge-small family)
	VectorSize int `koanf:"vector_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *LocalConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "semidx_records"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *LocalConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// LocalStore implements Store using an in-process chromem-go flat index.
//
// Vectors are unit-normalized at insertion so cosine similarity reduces to a
// dot product. The full record set is the in-memory source of truth,
// snapshotted to a gob file after every mutation and reloaded at startup.
// Deletions take effect immediately; Rebuild recreates the underlying index
// from the record set.
type LocalStore struct {
	config LocalConfig
	logger *zap.Logger

	mu         sync.RWMutex
	records    map[string]*memory.MemoryRecord
	db         *chromem.DB
	collection *chromem.Collection
}

// NewLocalStore creates a LocalStore, loading any existing snapshot from the
// configured path.
func NewLocalStore(config LocalConfig, logger *zap.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	s := &LocalStore{
		config:  config,
		logger:  logger,
		records: make(map[string]*memory.MemoryRecord),
	}

	if config.Path != "" {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
		}
		if err := s.loadSnapshot(); err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
	}

	if err := s.buildIndex(context.Background()); err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}

	logger.Info("local store initialized",
		zap.String("path", config.Path),
		zap.Int("vector_size", config.VectorSize),
		zap.Int("records", len(s.records)),
	)

	return s, nil
}

// externalEmbeddings is the chromem embedding func for this store. All
// embeddings are computed by the provider before they reach the store, so the
// index must never embed on its own.
func externalEmbeddings(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("local store requires precomputed embeddings")
}

// buildIndex recreates the chromem collection from the record map.
// Caller must hold the write lock or have exclusive access.
func (s *LocalStore) buildIndex(ctx context.Context) error {
	db := chromem.NewDB()
	collection, err := db.CreateCollection(s.config.Collection, nil, externalEmbeddings)
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	docs := make([]chromem.Document, 0, len(s.records))
	for id, rec := range s.records {
		docs = append(docs, chromem.Document{
			ID:        id,
			Content:   rec.Text,
			Embedding: rec.Embedding,
		})
	}
	if len(docs) > 0 {
		if err := collection.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("indexing documents: %w", err)
		}
	}

	s.db = db
	s.collection = collection
	return nil
}

// Upsert inserts or replaces records by id. Records without an embedding are
// skipped. Vectors are normalized before indexing.
func (s *LocalStore) Upsert(ctx context.Context, records []*memory.MemoryRecord) (int, error) {
	ctx, span := localTracer.Start(ctx, "LocalStore.Upsert")
	defer span.End()

	span.SetAttributes(attribute.Int("record_count", len(records)))

	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []chromem.Document
	var stored []*memory.MemoryRecord
	for _, rec := range records {
		if !rec.HasEmbedding() {
			s.logger.Debug("skipping record without embedding", zap.String("id", rec.ID))
			continue
		}
		if len(rec.Embedding) != s.config.VectorSize {
			err := fmt.Errorf("%w: record %s has dimension %d, store expects %d",
				ErrDimensionMismatch, rec.ID, len(rec.Embedding), s.config.VectorSize)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}

		cp := rec.Clone()
		cp.Embedding = vecmath.Normalize(cp.Embedding)
		stored = append(stored, cp)
		docs = append(docs, chromem.Document{
			ID:        cp.ID,
			Content:   cp.Text,
			Embedding: cp.Embedding,
		})
	}

	if len(docs) == 0 {
		return 0, nil
	}

	// chromem replaces documents by id on re-add
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("indexing documents: %w", err)
	}
	for _, cp := range stored {
		s.records[cp.ID] = cp
	}

	if err := s.saveSnapshotLocked(); err != nil {
		s.logger.Warn("snapshot save failed", zap.Error(err))
	}

	span.SetAttributes(attribute.Int("stored", len(stored)))
	span.SetStatus(codes.Ok, "success")
	return len(stored), nil
}

// Query returns up to topK records ordered by descending cosine similarity,
// ties broken by ascending id. Filtering happens before the topK cut.
func (s *LocalStore) Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]memory.SearchResult, error) {
	ctx, span := localTracer.Start(ctx, "LocalStore.Query")
	defer span.End()

	span.SetAttributes(attribute.Int("top_k", topK))

	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has dimension %d, store expects %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.collection.Count()
	if total == 0 {
		return []memory.SearchResult{}, nil
	}

	// Fetch every neighbor so the filter applies before the cut and ties
	// break deterministically. The flat index is exhaustive either way.
	query := vecmath.Normalize(vector)
	raw, err := s.collection.QueryEmbedding(ctx, query, total, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	results := make([]memory.SearchResult, 0, topK)
	for _, r := range raw {
		rec, ok := s.records[r.ID]
		if !ok || !filter.Matches(rec) {
			continue
		}
		results = append(results, memory.SearchResult{
			Record: rec.Clone(),
			Score:  memory.ClampScore(r.Similarity),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID < results[j].Record.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Get returns a copy of the record for id.
func (s *LocalStore) Get(ctx context.Context, id string) (*memory.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// Delete removes records by id. Unknown ids are ignored.
func (s *LocalStore) Delete(ctx context.Context, ids []string) (int, error) {
	ctx, span := localTracer.Start(ctx, "LocalStore.Delete")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := s.records[id]; !ok {
			continue
		}
		if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return removed, fmt.Errorf("deleting %s: %w", id, err)
		}
		delete(s.records, id)
		removed++
	}

	if removed > 0 {
		if err := s.saveSnapshotLocked(); err != nil {
			s.logger.Warn("snapshot save failed", zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int("removed", removed))
	span.SetStatus(codes.Ok, "success")
	return removed, nil
}

// Count returns the number of stored records matching the filter.
func (s *LocalStore) Count(ctx context.Context, filter *Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter == nil {
		return len(s.records), nil
	}
	n := 0
	for _, rec := range s.records {
		if filter.Matches(rec) {
			n++
		}
	}
	return n, nil
}

// Rebuild drops and recreates the underlying index from the record set.
// Useful after heavy deletion to reclaim index space.
func (s *LocalStore) Rebuild(ctx context.Context) error {
	ctx, span := localTracer.Start(ctx, "LocalStore.Rebuild")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.buildIndex(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.logger.Info("local index rebuilt", zap.Int("records", len(s.records)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close flushes the snapshot.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveSnapshotLocked(); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	s.logger.Info("local store closed")
	return nil
}

// snapshot is the on-disk representation.
type snapshot struct {
	Records map[string]*memory.MemoryRecord
}

// loadSnapshot reads the record snapshot if one exists.
func (s *LocalStore) loadSnapshot() error {
	path := filepath.Join(s.config.Path, snapshotFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	if snap.Records != nil {
		s.records = snap.Records
	}
	return nil
}

// saveSnapshotLocked writes the record snapshot atomically.
// Caller must hold the write lock. No-op when persistence is disabled.
func (s *LocalStore) saveSnapshotLocked() error {
	if s.config.Path == "" {
		return nil
	}

	path := filepath.Join(s.config.Path, snapshotFile)
	tmp, err := os.CreateTemp(s.config.Path, snapshotFile+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snapshot{Records: s.records}); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ Store = (*LocalStore)(nil)

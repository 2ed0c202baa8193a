// Package vectorstore defines the interface for vector storage operations
// and provides the embedded (local) and Qdrant-backed implementations.
package vectorstore

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/semidx/internal/memory"
)

// Sentinel errors for vector store operations.
var (
	// ErrNotFound is returned by Get when no record exists for the id.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrDimensionMismatch indicates an embedding whose length differs from
	// the store's configured vector size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Filter restricts queries and counts. A nil *Filter matches everything.
type Filter struct {
	// Types restricts by record type (set membership). Empty means all types.
	Types []memory.RecordType

	// Metadata requires equality on every listed key/value pair.
	Metadata map[string]string
}

// Matches reports whether r satisfies the filter. A nil filter matches.
func (f *Filter) Matches(r *memory.MemoryRecord) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if r.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for k, v := range f.Metadata {
		if r.Meta(k) != v {
			return false
		}
	}
	return true
}

// Store is the interface for vector storage operations, keyed by record id.
//
// The store is the exclusive owner of a record once stored; Get and Query
// hand out copies. Upsert semantics are last-writer-wins per id with no
// optimistic concurrency control. All operations are safe for concurrent use
// and honor context cancellation at the backend boundary; the store itself
// defines no timeout policy.
//
// Implementations:
//   - LocalStore: embedded chromem-go flat index, vectors normalized at
//     insertion, optional snapshot to disk reloaded at startup.
//   - QdrantStore: external Qdrant server over gRPC with a cosine
//     similarity index, suited for large corpora and multi-process access.
//
// Both backends produce numerically consistent cosine similarity for
// identical vectors within floating tolerance (1e-5).
type Store interface {
	// Upsert inserts or replaces records by id. Records lacking an
	// embedding are skipped without failing the batch and are excluded from
	// the returned count. A record whose embedding length differs from the
	// configured vector size fails the call with ErrDimensionMismatch.
	Upsert(ctx context.Context, records []*memory.MemoryRecord) (int, error)

	// Query returns up to topK results ordered by descending cosine
	// similarity, ties broken by ascending id. The filter is applied before
	// the topK cut. Scores are clamped into [0,1].
	Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]memory.SearchResult, error)

	// Get returns a copy of the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*memory.MemoryRecord, error)

	// Delete removes records by id and returns how many were removed.
	// Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) (int, error)

	// Count returns the number of stored records matching the filter.
	Count(ctx context.Context, filter *Filter) (int, error)

	// Close releases backend resources, flushing any pending snapshot.
	Close() error
}

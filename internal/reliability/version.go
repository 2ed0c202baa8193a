package reliability

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

// VersionTracker answers whether a stored record's embedding version matches
// the process's configured current version.
type VersionTracker struct {
	store vectorstore.Store
}

// NewVersionTracker creates a tracker over the given store.
func NewVersionTracker(store vectorstore.Store) *VersionTracker {
	return &VersionTracker{store: store}
}

// IsCurrent reports whether the version stored for id equals expected,
// string-exact across all three fields. False when no version is stored or
// the record is missing.
func (t *VersionTracker) IsCurrent(ctx context.Context, id string, expected memory.EmbeddingVersion) (bool, error) {
	rec, err := t.store.Get(ctx, id)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	stored := rec.Meta(memory.MetaEmbeddingVersion)
	if stored == "" {
		return false, nil
	}
	return stored == expected.String(), nil
}

// StoredVersion returns the parsed version stored for id, or false when none
// is stored or it does not parse.
func (t *VersionTracker) StoredVersion(ctx context.Context, id string) (memory.EmbeddingVersion, bool, error) {
	rec, err := t.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			return memory.EmbeddingVersion{}, false, nil
		}
		return memory.EmbeddingVersion{}, false, err
	}

	raw := rec.Meta(memory.MetaEmbeddingVersion)
	if raw == "" {
		return memory.EmbeddingVersion{}, false, nil
	}
	v, err := memory.ParseVersion(raw)
	if err != nil {
		return memory.EmbeddingVersion{}, false, nil
	}
	return v, true, nil
}

// Package reliability keeps stored embeddings trustworthy: it detects
// records whose vectors are missing, outdated, content-changed, aged out or
// semantically drifted, so the reindex layer can schedule recomputation.
package reliability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

// Fingerprint returns the SHA-256 digest of text as lowercase hex. It is the
// cheap change-detection primitive: same text, same fingerprint.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// FingerprintTracker answers whether a stored record's text has changed.
type FingerprintTracker struct {
	store vectorstore.Store
}

// NewFingerprintTracker creates a tracker over the given store.
func NewFingerprintTracker(store vectorstore.Store) *FingerprintTracker {
	return &FingerprintTracker{store: store}
}

// HasChanged reports true when no fingerprint is stored for id, or the
// stored fingerprint differs from the fingerprint of currentText. A missing
// record counts as changed.
func (t *FingerprintTracker) HasChanged(ctx context.Context, id, currentText string) (bool, error) {
	rec, err := t.store.Get(ctx, id)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	stored := rec.Meta(memory.MetaFingerprint)
	if stored == "" {
		return true, nil
	}
	return stored != Fingerprint(currentText), nil
}

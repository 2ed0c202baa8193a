package memory

import (
	"fmt"
	"strings"
)

// EmbeddingVersion identifies the schema, content-format and model family a
// stored embedding was produced under. Serialized as
// "schema::content::model".
type EmbeddingVersion struct {
	Schema  string `json:"schema"`
	Content string `json:"content"`
	Model   string `json:"model"`
}

// versionSep separates the three version fields on the wire.
const versionSep = "::"

// String renders the canonical serialized form.
func (v EmbeddingVersion) String() string {
	return v.Schema + versionSep + v.Content + versionSep + v.Model
}

// ParseVersion parses a serialized version string. All three fields must be
// present and non-empty.
func ParseVersion(s string) (EmbeddingVersion, error) {
	parts := strings.Split(s, versionSep)
	if len(parts) != 3 {
		return EmbeddingVersion{}, fmt.Errorf("malformed version %q: want schema::content::model", s)
	}
	for _, p := range parts {
		if p == "" {
			return EmbeddingVersion{}, fmt.Errorf("malformed version %q: empty field", s)
		}
	}
	return EmbeddingVersion{Schema: parts[0], Content: parts[1], Model: parts[2]}, nil
}

// Equal reports full 3-field equality. Two versions are "current" with
// respect to each other only under this comparison.
func (v EmbeddingVersion) Equal(other EmbeddingVersion) bool {
	return v == other
}

// Comparable reports whether staleness reasoning may compare embeddings
// across the two versions: schema and content must match, model family may
// differ.
func (v EmbeddingVersion) Comparable(other EmbeddingVersion) bool {
	return v.Schema == other.Schema && v.Content == other.Content
}

// StalenessReason classifies why a stored embedding needs recomputation.
// The set is closed and doubles as the reindex priority key.
type StalenessReason string

const (
	ReasonNoEmbedding     StalenessReason = "no_embedding"
	ReasonNoVersion       StalenessReason = "no_version"
	ReasonVersionMismatch StalenessReason = "version_mismatch"
	ReasonContentChanged  StalenessReason = "content_changed"
	ReasonAgeThreshold    StalenessReason = "age_threshold"
	ReasonManualStale     StalenessReason = "manual_stale"

	// ReasonDriftDetected and ReasonManualRequest are not staleness check
	// outcomes but appear as job reasons in the reindex queue.
	ReasonDriftDetected StalenessReason = "drift_detected"
	ReasonManualRequest StalenessReason = "manual_request"
)

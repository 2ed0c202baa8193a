// Package memory defines the data model for the semantic memory index.
package memory

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecordType identifies the kind of entity a record represents.
type RecordType string

// Closed set of record types. Validation rejects anything else.
const (
	TypeTest      RecordType = "test"
	TypeScenario  RecordType = "scenario"
	TypeStep      RecordType = "step"
	TypePage      RecordType = "page"
	TypeCode      RecordType = "code"
	TypeFailure   RecordType = "failure"
	TypeAssertion RecordType = "assertion"
	TypeLocator   RecordType = "locator"
)

var validTypes = map[RecordType]bool{
	TypeTest:      true,
	TypeScenario:  true,
	TypeStep:      true,
	TypePage:      true,
	TypeCode:      true,
	TypeFailure:   true,
	TypeAssertion: true,
	TypeLocator:   true,
}

// Valid reports whether t is a member of the closed type set.
func (t RecordType) Valid() bool {
	return validTypes[t]
}

// Metadata keys used as the reliability side channel. These ride inside
// MemoryRecord.Metadata so both store backends satisfy the same
// staleness/drift contracts without dedicated columns.
const (
	MetaEmbeddingVersion = "embedding_version"
	MetaFingerprint      = "fingerprint"
	MetaDriftScore       = "drift_score"
	MetaDriftDetected    = "drift_detected"
	MetaManuallyStale    = "manually_stale"
)

// ValidationError indicates a malformed record. It is always surfaced
// synchronously to the caller and never recovered internally.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

// MemoryRecord is a semantic unit stored in the vector index.
//
// The vector store owns a record once stored; callers hold at most a copy.
// Embedding is nil until the ingestion pipeline computes it. Once set, its
// length must equal the owning provider's declared dimension.
type MemoryRecord struct {
	ID        string            `json:"id"`
	Type      RecordType        `json:"type"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewRecord constructs a MemoryRecord, enforcing the non-empty id/text and
// closed type set invariants. Construction is the only validation point;
// stores trust records that passed it.
func NewRecord(id string, typ RecordType, text string) (*MemoryRecord, error) {
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if text == "" {
		return nil, &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if !typ.Valid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", typ)}
	}
	now := time.Now().UTC()
	return &MemoryRecord{
		ID:        id,
		Type:      typ,
		Text:      text,
		Metadata:  make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HasEmbedding reports whether an embedding has been computed for the record.
func (r *MemoryRecord) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// Clone returns a deep copy. Stores hand out clones so callers cannot mutate
// stored state.
func (r *MemoryRecord) Clone() *MemoryRecord {
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.Embedding != nil {
		cp.Embedding = make([]float32, len(r.Embedding))
		copy(cp.Embedding, r.Embedding)
	}
	return &cp
}

// SetMeta sets a metadata key, allocating the map if needed.
func (r *MemoryRecord) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// Meta returns the metadata value for key, or "" when absent.
func (r *MemoryRecord) Meta(key string) string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata[key]
}

// MarshalRecord serializes a record to JSON.
func MarshalRecord(r *MemoryRecord) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord deserializes a record from JSON and re-validates the
// construction invariants.
func UnmarshalRecord(data []byte) (*MemoryRecord, error) {
	var r MemoryRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	if r.ID == "" {
		return nil, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if r.Text == "" {
		return nil, &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if !r.Type.Valid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", r.Type)}
	}
	return &r, nil
}

// SearchResult pairs a record with its similarity score and 1-based rank in a
// particular result list. Rank is positional, not a persistent attribute.
type SearchResult struct {
	Record *MemoryRecord `json:"record"`
	Score  float32       `json:"score"`
	Rank   int           `json:"rank"`
}

// ClampScore clamps a raw similarity into [0,1]. Backends may produce small
// negatives for near-orthogonal vectors.
func ClampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

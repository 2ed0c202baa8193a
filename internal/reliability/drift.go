package reliability

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/vecmath"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

// DefaultDriftThreshold is the cosine similarity below which an embedding
// pair counts as drifted.
const DefaultDriftThreshold = 0.85

// DriftConfig holds drift detection configuration.
type DriftConfig struct {
	// Threshold is the similarity floor. Similarity strictly below it is
	// drift. Default: 0.85.
	Threshold float64 `koanf:"threshold"`
}

// ApplyDefaults fills in unset fields.
func (c *DriftConfig) ApplyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = DefaultDriftThreshold
	}
}

// Validate checks the configuration.
func (c *DriftConfig) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in [0, 1], got %v", c.Threshold)
	}
	return nil
}

// DriftResult reports the outcome of a drift check.
type DriftResult struct {
	RecordID   string
	HasDrifted bool
	Similarity float64
	Threshold  float64
	OldVector  []float32
	NewVector  []float32
}

// DriftDetector compares stored embeddings against freshly computed ones
// and flags records whose semantic position has moved.
type DriftDetector struct {
	store  vectorstore.Store
	config DriftConfig
	logger *zap.Logger
}

// NewDriftDetector creates a detector over the given store.
func NewDriftDetector(store vectorstore.Store, config DriftConfig, logger *zap.Logger) (*DriftDetector, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DriftDetector{
		store:  store,
		config: config,
		logger: logger,
	}, nil
}

// CheckDrift compares newEmbedding against the stored embedding for id.
// When the store holds no prior embedding there is nothing to drift from:
// the result reports similarity 1.0 and no drift, and nothing is written
// back. Otherwise the drift score is persisted into the record's metadata.
func (d *DriftDetector) CheckDrift(ctx context.Context, id string, newEmbedding []float32) (*DriftResult, error) {
	if len(newEmbedding) == 0 {
		return nil, fmt.Errorf("new embedding is empty")
	}

	result := &DriftResult{
		RecordID:   id,
		Threshold:  d.config.Threshold,
		NewVector:  newEmbedding,
		Similarity: 1.0,
	}

	rec, err := d.store.Get(ctx, id)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking drift of %s: %w", id, err)
	}
	if !rec.HasEmbedding() {
		return result, nil
	}

	result.OldVector = rec.Embedding
	result.Similarity = vecmath.CosineSimilarity(rec.Embedding, newEmbedding)
	result.HasDrifted = result.Similarity < d.config.Threshold

	rec.SetMeta(memory.MetaDriftScore, strconv.FormatFloat(result.Similarity, 'f', 6, 64))
	rec.SetMeta(memory.MetaDriftDetected, strconv.FormatBool(result.HasDrifted))
	if _, err := d.store.Upsert(ctx, []*memory.MemoryRecord{rec}); err != nil {
		return nil, fmt.Errorf("persisting drift score for %s: %w", id, err)
	}

	if result.HasDrifted {
		d.logger.Info("embedding drift detected",
			zap.String("id", id),
			zap.Float64("similarity", result.Similarity),
			zap.Float64("threshold", d.config.Threshold),
		)
	}

	return result, nil
}

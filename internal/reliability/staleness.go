package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// StalenessConfig holds staleness detection configuration.
type StalenessConfig struct {
	// MaxAgeDays is the age in days past which an embedding is stale.
	// Default: 90.
	MaxAgeDays int `koanf:"max_age_days"`

	// CheckFingerprint enables the content-change check. Default: true.
	CheckFingerprint bool `koanf:"check_fingerprint"`

	// CheckVersion enables the version checks. Default: true.
	CheckVersion bool `koanf:"check_version"`

	// Current is the embedding version this process writes and expects.
	Current memory.EmbeddingVersion `koanf:"-"`
}

// DefaultStalenessConfig returns the production defaults.
func DefaultStalenessConfig(current memory.EmbeddingVersion) StalenessConfig {
	return StalenessConfig{
		MaxAgeDays:       90,
		CheckFingerprint: true,
		CheckVersion:     true,
		Current:          current,
	}
}

// StalenessResult reports why a record is stale. Reason carries the first
// matching check; the remaining fields are populated per reason.
type StalenessResult struct {
	Stale  bool
	Reason memory.StalenessReason

	// EntityType is the stored record's type, empty when the record is
	// absent.
	EntityType memory.RecordType

	// StoredVersion and CurrentVersion accompany version_mismatch.
	StoredVersion  string
	CurrentVersion string

	// AgeDays accompanies age_threshold.
	AgeDays int
}

// StalenessDetector decides whether a stored record needs re-embedding.
//
// Checks run in a fixed order and the first match wins:
//  1. record absent              -> no_embedding
//  2. embedding empty            -> no_embedding
//  3. no stored version          -> no_version
//  4. stored version != current  -> version_mismatch
//  5. fingerprint differs        -> content_changed (only with current text)
//  6. older than max age         -> age_threshold
//  7. manual flag set            -> manual_stale
//  8. otherwise                  -> not stale
type StalenessDetector struct {
	store  vectorstore.Store
	config StalenessConfig
	logger *zap.Logger
}

// NewStalenessDetector creates a detector over the given store.
func NewStalenessDetector(store vectorstore.Store, config StalenessConfig, logger *zap.Logger) (*StalenessDetector, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxAgeDays <= 0 {
		config.MaxAgeDays = 90
	}

	return &StalenessDetector{
		store:  store,
		config: config,
		logger: logger,
	}, nil
}

// Check runs the staleness checks for id. currentText may be empty, which
// skips the content check. Semantic outcomes (including a missing record)
// are results, not errors; only backend failures return an error.
func (d *StalenessDetector) Check(ctx context.Context, id, currentText string) (*StalenessResult, error) {
	rec, err := d.store.Get(ctx, id)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return &StalenessResult{Stale: true, Reason: memory.ReasonNoEmbedding}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking staleness of %s: %w", id, err)
	}

	res := d.evaluate(rec, currentText)
	res.EntityType = rec.Type
	return res, nil
}

func (d *StalenessDetector) evaluate(rec *memory.MemoryRecord, currentText string) *StalenessResult {
	if !rec.HasEmbedding() {
		return &StalenessResult{Stale: true, Reason: memory.ReasonNoEmbedding}
	}

	if d.config.CheckVersion {
		stored := rec.Meta(memory.MetaEmbeddingVersion)
		if stored == "" {
			return &StalenessResult{Stale: true, Reason: memory.ReasonNoVersion}
		}
		if current := d.config.Current.String(); stored != current {
			return &StalenessResult{
				Stale:          true,
				Reason:         memory.ReasonVersionMismatch,
				StoredVersion:  stored,
				CurrentVersion: current,
			}
		}
	}

	if d.config.CheckFingerprint && currentText != "" {
		if rec.Meta(memory.MetaFingerprint) != Fingerprint(currentText) {
			return &StalenessResult{Stale: true, Reason: memory.ReasonContentChanged}
		}
	}

	ageDays := int(timeNow().UTC().Sub(rec.UpdatedAt) / (24 * time.Hour))
	if ageDays > d.config.MaxAgeDays {
		return &StalenessResult{
			Stale:   true,
			Reason:  memory.ReasonAgeThreshold,
			AgeDays: ageDays,
		}
	}

	if rec.Meta(memory.MetaManuallyStale) == "true" {
		return &StalenessResult{Stale: true, Reason: memory.ReasonManualStale}
	}

	return &StalenessResult{Stale: false}
}

// MarkStale sets the manual staleness flag for id. Idempotent.
func (d *StalenessDetector) MarkStale(ctx context.Context, id string) error {
	return d.setManualFlag(ctx, id, true)
}

// ClearStale removes the manual staleness flag for id. Idempotent.
func (d *StalenessDetector) ClearStale(ctx context.Context, id string) error {
	return d.setManualFlag(ctx, id, false)
}

func (d *StalenessDetector) setManualFlag(ctx context.Context, id string, stale bool) error {
	rec, err := d.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading %s: %w", id, err)
	}

	if stale {
		rec.SetMeta(memory.MetaManuallyStale, "true")
	} else {
		delete(rec.Metadata, memory.MetaManuallyStale)
	}

	if _, err := d.store.Upsert(ctx, []*memory.MemoryRecord{rec}); err != nil {
		return fmt.Errorf("persisting manual flag for %s: %w", id, err)
	}

	d.logger.Debug("manual staleness flag updated",
		zap.String("id", id),
		zap.Bool("stale", stale),
	)
	return nil
}

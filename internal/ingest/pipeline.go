// Package ingest batches records through the embedding provider and into the
// vector store.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semidx/internal/embeddings"
	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/reliability"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

var tracer = otel.Tracer("semidx.ingest")

// TextBuilder turns a typed entity map into the natural-language text a
// record is embedded from. Implementations are entity-specific and live
// outside this package.
type TextBuilder interface {
	BuildText(entityType memory.RecordType, entity map[string]string) (string, error)
}

// Config holds pipeline configuration.
type Config struct {
	// BatchSize is the number of records embedded and upserted per batch.
	// Default: 100.
	BatchSize int `koanf:"batch_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// Pipeline embeds records in fixed-size batches and upserts them.
//
// A failing batch is logged and skipped; subsequent batches proceed. The
// batch is the unit of isolation: nothing in one batch can corrupt or block
// another.
type Pipeline struct {
	provider embeddings.Provider
	store    vectorstore.Store
	builder  TextBuilder
	version  memory.EmbeddingVersion
	config   Config
	logger   *zap.Logger
}

// NewPipeline creates an ingestion pipeline. version is the embedding
// version stamped onto every stored record. builder may be nil when only
// Ingest (pre-built records) is used.
func NewPipeline(provider embeddings.Provider, store vectorstore.Store, builder TextBuilder, version memory.EmbeddingVersion, config Config, logger *zap.Logger) (*Pipeline, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	return &Pipeline{
		provider: provider,
		store:    store,
		builder:  builder,
		version:  version,
		config:   config,
		logger:   logger,
	}, nil
}

// Ingest embeds and stores records, returning the number actually stored
// across all successful batches. Embedding or store failures are contained
// to their batch.
func (p *Pipeline) Ingest(ctx context.Context, records []*memory.MemoryRecord) (int, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Ingest")
	defer span.End()

	span.SetAttributes(attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return 0, nil
	}

	stored := 0
	for start := 0; start < len(records); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		n, err := p.ingestBatch(ctx, batch)
		if err != nil {
			// Skip the failed batch, keep going with the rest.
			p.logger.Error("batch ingestion failed, skipping batch",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			continue
		}
		stored += n
	}

	span.SetAttributes(attribute.Int("stored", stored))

	p.logger.Info("ingestion complete",
		zap.Int("input", len(records)),
		zap.Int("stored", stored),
	)
	return stored, nil
}

// ingestBatch embeds one batch and upserts it.
func (p *Pipeline) ingestBatch(ctx context.Context, batch []*memory.MemoryRecord) (int, error) {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Text
	}

	vectors, err := p.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(batch))
	}

	now := time.Now().UTC()
	for i, rec := range batch {
		rec.Embedding = vectors[i]
		rec.UpdatedAt = now
		rec.SetMeta(memory.MetaEmbeddingVersion, p.version.String())
		rec.SetMeta(memory.MetaFingerprint, reliability.Fingerprint(rec.Text))
	}

	n, err := p.store.Upsert(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("upserting batch: %w", err)
	}
	return n, nil
}

// IngestEntities builds records from raw typed entity maps via the
// TextBuilder collaborator and ingests them. Each entity map must carry an
// "id" key; remaining keys become record metadata.
// Validation errors surface synchronously before any embedding happens.
func (p *Pipeline) IngestEntities(ctx context.Context, entityType memory.RecordType, entities []map[string]string) (int, error) {
	if p.builder == nil {
		return 0, fmt.Errorf("no text builder configured")
	}

	records := make([]*memory.MemoryRecord, 0, len(entities))
	for i, entity := range entities {
		text, err := p.builder.BuildText(entityType, entity)
		if err != nil {
			return 0, fmt.Errorf("building text for entity %d: %w", i, err)
		}

		rec, err := memory.NewRecord(entity["id"], entityType, text)
		if err != nil {
			return 0, err
		}
		for k, v := range entity {
			if k == "id" {
				continue
			}
			rec.SetMeta(k, v)
		}
		records = append(records, rec)
	}

	return p.Ingest(ctx, records)
}

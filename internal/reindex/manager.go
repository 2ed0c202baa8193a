package reindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semidx/internal/embeddings"
	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/reliability"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

var tracer = otel.Tracer("semidx.reindex")

// defaultPriorities maps staleness reasons to queue priorities. Version
// mismatches jump the line; plain age refreshes wait behind everything.
var defaultPriorities = map[memory.StalenessReason]int{
	memory.ReasonVersionMismatch: 80,
	memory.ReasonDriftDetected:   70,
	memory.ReasonManualRequest:   70,
	memory.ReasonManualStale:     70,
	memory.ReasonContentChanged:  60,
	memory.ReasonNoEmbedding:     50,
	memory.ReasonNoVersion:       40,
	memory.ReasonAgeThreshold:    30,
}

// Config holds reindex manager configuration.
type Config struct {
	// QueueSize bounds the pending job queue. Default: 10000.
	QueueSize int `koanf:"queue_size"`

	// Priorities overrides the per-reason queue priority table. Reasons
	// not listed keep their defaults.
	Priorities map[string]int `koanf:"priorities"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
}

// Manager discovers stale records, queues them by priority, and
// re-embeds them one job at a time.
type Manager struct {
	queue     *Queue
	provider  embeddings.Provider
	store     vectorstore.Store
	staleness *reliability.StalenessDetector
	version   memory.EmbeddingVersion
	config    Config
	logger    *zap.Logger
}

// NewManager creates a reindex manager.
func NewManager(provider embeddings.Provider, store vectorstore.Store, staleness *reliability.StalenessDetector, version memory.EmbeddingVersion, config Config, logger *zap.Logger) (*Manager, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if staleness == nil {
		return nil, fmt.Errorf("staleness detector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	return &Manager{
		queue:     NewQueue(config.QueueSize),
		provider:  provider,
		store:     store,
		staleness: staleness,
		version:   version,
		config:    config,
		logger:    logger,
	}, nil
}

// Queue returns the underlying job queue.
func (m *Manager) Queue() *Queue {
	return m.queue
}

// priorityFor resolves the queue priority for a staleness reason,
// honoring any config override.
func (m *Manager) priorityFor(reason memory.StalenessReason) int {
	if p, ok := m.config.Priorities[string(reason)]; ok {
		return p
	}
	if p, ok := defaultPriorities[reason]; ok {
		return p
	}
	return 50
}

// enqueue resolves the job's priority and adds it to the queue.
func (m *Manager) enqueue(job Job) bool {
	job.Priority = m.priorityFor(job.Reason)
	added := m.queue.Add(job)
	if added {
		m.logger.Debug("queued reindex job",
			zap.String("id", job.RecordID),
			zap.String("reason", string(job.Reason)),
		)
	}
	return added
}

// QueueReindex enqueues a reindex job for the record. Returns false when
// the record is already queued or the queue is full.
func (m *Manager) QueueReindex(recordID string, reason memory.StalenessReason) bool {
	return m.enqueue(Job{RecordID: recordID, Reason: reason})
}

// QueueForDrift enqueues a drifted record for re-embedding, recording
// the measured similarity in the job metadata.
func (m *Manager) QueueForDrift(recordID string, similarity float64) bool {
	return m.enqueue(Job{
		RecordID: recordID,
		Reason:   memory.ReasonDriftDetected,
		Metadata: map[string]string{
			"similarity": strconv.FormatFloat(similarity, 'f', 6, 64),
		},
	})
}

// CheckAndQueueStale runs the staleness checks over the given record IDs
// and enqueues every stale one. texts optionally maps record IDs to their
// current source text, enabling the content-change check; it may be nil.
// Returns the number of jobs queued. Individual check failures are logged
// and skipped.
func (m *Manager) CheckAndQueueStale(ctx context.Context, recordIDs []string, texts map[string]string) (int, error) {
	ctx, span := tracer.Start(ctx, "Manager.CheckAndQueueStale")
	defer span.End()

	span.SetAttributes(attribute.Int("candidate_count", len(recordIDs)))

	queued := 0
	for _, id := range recordIDs {
		result, err := m.staleness.Check(ctx, id, texts[id])
		if err != nil {
			m.logger.Warn("staleness check failed",
				zap.String("id", id),
				zap.Error(err),
			)
			continue
		}
		if !result.Stale {
			continue
		}
		if m.enqueue(Job{RecordID: id, EntityType: result.EntityType, Reason: result.Reason}) {
			queued++
		}
	}

	span.SetAttributes(attribute.Int("queued", queued))
	return queued, nil
}

// ProcessNextJob takes the highest-priority job and re-embeds its record.
// Returns false when the queue is empty. A record deleted since it was
// queued drops the job without error.
func (m *Manager) ProcessNextJob(ctx context.Context) (bool, error) {
	job := m.queue.Get()
	if job == nil {
		return false, nil
	}

	ctx, span := tracer.Start(ctx, "Manager.ProcessNextJob")
	defer span.End()

	span.SetAttributes(
		attribute.String("record_id", job.RecordID),
		attribute.String("reason", string(job.Reason)),
		attribute.Int("priority", job.Priority),
	)

	if err := m.reindexRecord(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, err
	}
	return true, nil
}

func (m *Manager) reindexRecord(ctx context.Context, job *Job) error {
	rec, err := m.store.Get(ctx, job.RecordID)
	if errors.Is(err, vectorstore.ErrNotFound) {
		m.logger.Debug("record deleted before reindex, dropping job",
			zap.String("id", job.RecordID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", job.RecordID, err)
	}

	vectors, err := m.provider.EmbedDocuments(ctx, []string{rec.Text})
	if err != nil {
		return fmt.Errorf("re-embedding %s: %w", job.RecordID, err)
	}

	rec.Embedding = vectors[0]
	rec.UpdatedAt = time.Now().UTC()
	rec.SetMeta(memory.MetaEmbeddingVersion, m.version.String())
	rec.SetMeta(memory.MetaFingerprint, reliability.Fingerprint(rec.Text))
	delete(rec.Metadata, memory.MetaManuallyStale)
	delete(rec.Metadata, memory.MetaDriftDetected)
	delete(rec.Metadata, memory.MetaDriftScore)

	if _, err := m.store.Upsert(ctx, []*memory.MemoryRecord{rec}); err != nil {
		return fmt.Errorf("storing reindexed %s: %w", job.RecordID, err)
	}

	m.logger.Info("record reindexed",
		zap.String("id", job.RecordID),
		zap.String("reason", string(job.Reason)),
	)
	return nil
}

package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/semidx/internal/memory"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("semidx.vectorstore.qdrant")

// Payload field names used in Qdrant points.
const (
	payloadID        = "id"
	payloadType      = "type"
	payloadText      = "text"
	payloadMetadata  = "metadata"
	payloadCreatedAt = "created_at"
	payloadUpdatedAt = "updated_at"
)

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address. Default: "localhost"
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int `koanf:"port"`

	// Collection is the collection holding the memory records.
	// Default: "semidx_records"
	Collection string `koanf:"collection"`

	// VectorSize is the dimensionality of embeddings.
	// MUST match the embedding provider's output dimension.
	// Default: 384
	VectorSize uint64 `koanf:"vector_size"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// MaxRetries is the retry budget for transient failures. Default: 3.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff, doubling per attempt.
	// Default: 1s.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "semidx_records"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection required", ErrInvalidConfig)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error should be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store against an external Qdrant server over gRPC.
//
// The collection is a durable table keyed by point id with a cosine
// similarity index; record ids map to deterministic UUIDv5 point ids so
// upserts are idempotent across processes. Payload indexes on type and
// metadata support filtered queries server-side.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantStore creates a QdrantStore, verifies connectivity and ensures
// the collection exists.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Uint64("vector_size", config.VectorSize),
	)

	return s, nil
}

// ensureCollection creates the collection and payload indexes when missing.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	// Secondary index on type; metadata keys are matched unindexed, which
	// Qdrant supports at reduced speed.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.config.Collection,
		FieldName:      payloadType,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		s.logger.Warn("creating type payload index failed", zap.Error(err))
	}

	return nil
}

// pointID maps a record id to a deterministic UUIDv5 point id.
func pointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String()
}

// withRetry runs op with exponential backoff on transient gRPC errors.
func (s *QdrantStore) withRetry(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}

		s.logger.Warn("transient qdrant error, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return err
}

// recordPayload converts a record to the Qdrant payload representation.
func recordPayload(rec *memory.MemoryRecord) map[string]*qdrant.Value {
	meta := make(map[string]any, len(rec.Metadata))
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	return qdrant.NewValueMap(map[string]any{
		payloadID:        rec.ID,
		payloadType:      string(rec.Type),
		payloadText:      rec.Text,
		payloadMetadata:  meta,
		payloadCreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		payloadUpdatedAt: rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// recordFromPayload reconstructs a record from payload and vector.
func recordFromPayload(payload map[string]*qdrant.Value, vector []float32) *memory.MemoryRecord {
	rec := &memory.MemoryRecord{
		ID:       payload[payloadID].GetStringValue(),
		Type:     memory.RecordType(payload[payloadType].GetStringValue()),
		Text:     payload[payloadText].GetStringValue(),
		Metadata: make(map[string]string),
	}
	if sv := payload[payloadMetadata].GetStructValue(); sv != nil {
		for k, v := range sv.GetFields() {
			rec.Metadata[k] = v.GetStringValue()
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, payload[payloadCreatedAt].GetStringValue()); err == nil {
		rec.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, payload[payloadUpdatedAt].GetStringValue()); err == nil {
		rec.UpdatedAt = ts
	}
	if len(vector) > 0 {
		rec.Embedding = make([]float32, len(vector))
		copy(rec.Embedding, vector)
	}
	return rec
}

// buildFilter converts a Filter into a Qdrant filter.
func buildFilter(filter *Filter) *qdrant.Filter {
	if filter == nil {
		return nil
	}
	var conditions []*qdrant.Condition
	if len(filter.Types) > 0 {
		keywords := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			keywords[i] = string(t)
		}
		conditions = append(conditions, qdrant.NewMatchKeywords(payloadType, keywords...))
	}
	for k, v := range filter.Metadata {
		conditions = append(conditions, qdrant.NewMatch(payloadMetadata+"."+k, v))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

// Upsert inserts or replaces records by id. Records without an embedding are
// skipped and excluded from the count.
func (s *QdrantStore) Upsert(ctx context.Context, records []*memory.MemoryRecord) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("record_count", len(records)),
		attribute.String("collection", s.config.Collection),
	)

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		if !rec.HasEmbedding() {
			s.logger.Debug("skipping record without embedding", zap.String("id", rec.ID))
			continue
		}
		if uint64(len(rec.Embedding)) != s.config.VectorSize {
			err := fmt.Errorf("%w: record %s has dimension %d, store expects %d",
				ErrDimensionMismatch, rec.ID, len(rec.Embedding), s.config.VectorSize)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(rec.ID)),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: recordPayload(rec),
		})
	}

	if len(points) == 0 {
		return 0, nil
	}

	err := s.withRetry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("upserting points: %w", err)
	}

	span.SetAttributes(attribute.Int("stored", len(points)))
	span.SetStatus(codes.Ok, "success")
	return len(points), nil
}

// Query returns up to topK results by descending cosine similarity.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]memory.SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()

	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.String("collection", s.config.Collection),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if uint64(len(vector)) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has dimension %d, store expects %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	var scored []*qdrant.ScoredPoint
	err := s.withRetry(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			Filter:         buildFilter(filter),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		scored = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	results := make([]memory.SearchResult, 0, len(scored))
	for _, point := range scored {
		rec := recordFromPayload(point.GetPayload(), point.GetVectors().GetVector().GetData())
		results = append(results, memory.SearchResult{
			Record: rec,
			Score:  memory.ClampScore(point.GetScore()),
		})
	}

	// Qdrant orders by score; re-sort with id tie-break for determinism.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	for i := range results {
		results[i].Rank = i + 1
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Get returns the record for id, or ErrNotFound.
func (s *QdrantStore) Get(ctx context.Context, id string) (*memory.MemoryRecord, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Get")
	defer span.End()

	var points []*qdrant.RetrievedPoint
	err := s.withRetry(ctx, "get", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.config.Collection,
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(pointID(id))},
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("getting %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	point := points[0]
	rec := recordFromPayload(point.GetPayload(), point.GetVectors().GetVector().GetData())
	span.SetStatus(codes.Ok, "success")
	return rec, nil
}

// Delete removes records by id, returning how many existed.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return 0, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(pointID(id))
	}

	// Qdrant does not report how many points a delete removed, so count the
	// existing ones first.
	var existing []*qdrant.RetrievedPoint
	err := s.withRetry(ctx, "delete.lookup", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.config.Collection,
			Ids:            pointIDs,
		})
		if err != nil {
			return err
		}
		existing = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("looking up points: %w", err)
	}

	err = s.withRetry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points:         qdrant.NewPointsSelector(pointIDs...),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting points: %w", err)
	}

	span.SetAttributes(attribute.Int("removed", len(existing)))
	span.SetStatus(codes.Ok, "success")
	return len(existing), nil
}

// Count returns the number of stored records matching the filter.
func (s *QdrantStore) Count(ctx context.Context, filter *Filter) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Count")
	defer span.End()

	var count uint64
	err := s.withRetry(ctx, "count", func() error {
		res, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Filter:         buildFilter(filter),
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("counting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	return int(count), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ Store = (*QdrantStore)(nil)

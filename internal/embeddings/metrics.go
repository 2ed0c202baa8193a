package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/semidx/internal/embeddings"

// Metrics holds the embedding generation instruments.
type Metrics struct {
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics registers the embedding instruments on the global meter.
// Registration failures are logged and the affected instrument is
// skipped; recording against a nil instrument is a no-op.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)
	m := &Metrics{logger: logger}

	var err error
	m.duration, err = meter.Float64Histogram(
		"semidx.embedding.generation_duration_seconds",
		metric.WithDescription("Embedding call latency by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	m.registrationWarn("generation duration", err)

	m.batchSize, err = meter.Int64Histogram(
		"semidx.embedding.batch_size",
		metric.WithDescription("Texts per embedding batch"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	m.registrationWarn("batch size", err)

	m.errors, err = meter.Int64Counter(
		"semidx.embedding.errors_total",
		metric.WithDescription("Embedding failures by model and operation"),
		metric.WithUnit("{error}"),
	)
	m.registrationWarn("error counter", err)

	return m
}

func (m *Metrics) registrationWarn(instrument string, err error) {
	if err != nil {
		m.logger.Warn("metric registration failed",
			zap.String("instrument", instrument),
			zap.Error(err),
		)
	}
}

// RecordGeneration records one embed call.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, batchSize int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("operation", operation),
	}

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// InstrumentedProvider wraps a Provider with generation metrics.
type InstrumentedProvider struct {
	Provider
	metrics *Metrics
}

// Instrument wraps p so every embed call records duration, batch size and
// errors.
func Instrument(p Provider, metrics *Metrics) *InstrumentedProvider {
	return &InstrumentedProvider{Provider: p, metrics: metrics}
}

// EmbedDocuments delegates to the wrapped provider and records metrics.
func (ip *InstrumentedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := ip.Provider.EmbedDocuments(ctx, texts)
	ip.metrics.RecordGeneration(ctx, ip.ModelName(), "embed_documents", time.Since(start), len(texts), err)
	return vectors, err
}

// EmbedQuery delegates to the wrapped provider and records metrics.
func (ip *InstrumentedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := ip.Provider.EmbedQuery(ctx, text)
	ip.metrics.RecordGeneration(ctx, ip.ModelName(), "embed_query", time.Since(start), 1, err)
	return vector, err
}

var _ Provider = (*InstrumentedProvider)(nil)

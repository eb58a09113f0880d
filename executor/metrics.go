package executor

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/poiesic/imgembed/executor"

// Metrics holds embedding executor metrics.
type Metrics struct {
	meter       metric.Meter
	logger      *slog.Logger
	duration    metric.Float64Histogram
	batchSize   metric.Int64Histogram
	errors      metric.Int64Counter
	shrinks     metric.Int64Counter
	inputErrors metric.Int64Counter
	cacheHits   metric.Int64Counter
}

// NewMetrics creates metrics on the global meter provider.
func NewMetrics(logger *slog.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"imgembed.executor.batch_duration_seconds",
		metric.WithDescription("Duration of one inference batch in seconds, labeled by model"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", "error", err)
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"imgembed.executor.batch_size",
		metric.WithDescription("Number of images per inference batch. Drops after device exhaustion."),
		metric.WithUnit("{image}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64, 128),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", "error", err)
	}

	m.errors, err = m.meter.Int64Counter(
		"imgembed.executor.batch_errors_total",
		metric.WithDescription("Failed inference batches by model, including exhaustion"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", "error", err)
	}

	m.shrinks, err = m.meter.Int64Counter(
		"imgembed.executor.batch_shrinks_total",
		metric.WithDescription("Batch size reductions caused by device memory exhaustion"),
		metric.WithUnit("{shrink}"),
	)
	if err != nil {
		m.logger.Warn("failed to create shrink counter", "error", err)
	}

	m.inputErrors, err = m.meter.Int64Counter(
		"imgembed.executor.input_errors_total",
		metric.WithDescription("Inputs that failed on their own and were reported as per-input errors"),
		metric.WithUnit("{image}"),
	)
	if err != nil {
		m.logger.Warn("failed to create input errors counter", "error", err)
	}

	m.cacheHits, err = m.meter.Int64Counter(
		"imgembed.executor.cache_hits_total",
		metric.WithDescription("Vectors served from the vector cache without inference"),
		metric.WithUnit("{image}"),
	)
	if err != nil {
		m.logger.Warn("failed to create cache hits counter", "error", err)
	}
}

// RecordBatch records one inference batch.
func (m *Metrics) RecordBatch(ctx context.Context, model string, duration time.Duration, size int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if size > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(size), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordShrink records a batch size reduction.
func (m *Metrics) RecordShrink(ctx context.Context, model string) {
	if m.shrinks != nil {
		m.shrinks.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
	}
}

// RecordInputError records an isolated input failure.
func (m *Metrics) RecordInputError(ctx context.Context, model string) {
	if m.inputErrors != nil {
		m.inputErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
	}
}

// RecordCacheHits records vectors served from the cache.
func (m *Metrics) RecordCacheHits(ctx context.Context, model string, n int) {
	if n > 0 && m.cacheHits != nil {
		m.cacheHits.Add(ctx, int64(n), metric.WithAttributes(attribute.String("model", model)))
	}
}

package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/imgembed/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/poiesic/imgembed/resolver"

// Metrics holds resolver metrics.
type Metrics struct {
	meter     metric.Meter
	logger    *slog.Logger
	duration  metric.Float64Histogram
	attempts  metric.Int64Counter
	evictions metric.Int64Counter
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
		"imgembed.resolver.strategy_duration_seconds",
		metric.WithDescription("Time spent in one resolution strategy, labeled by strategy (cache, mirror, direct) and outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", "error", err)
	}

	m.attempts, err = m.meter.Int64Counter(
		"imgembed.resolver.attempts_total",
		metric.WithDescription("Resolution strategy attempts by strategy and outcome (hit, miss, error)"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		m.logger.Warn("failed to create attempts counter", "error", err)
	}

	m.evictions, err = m.meter.Int64Counter(
		"imgembed.resolver.evictions_total",
		metric.WithDescription("Cache entries evicted because the model failed to load"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		m.logger.Warn("failed to create evictions counter", "error", err)
	}
}

// RecordAttempt records one strategy attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, strategy string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome(err)),
	)
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.attempts != nil {
		m.attempts.Add(ctx, 1, attrs)
	}
}

// RecordEviction records the eviction of a corrupt entry.
func (m *Metrics) RecordEviction(ctx context.Context, model string) {
	if m.evictions != nil {
		m.evictions.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "hit"
	case errors.Is(err, core.ErrCacheMiss), errors.Is(err, core.ErrModelNotCached):
		return "miss"
	default:
		return "error"
	}
}

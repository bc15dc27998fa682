package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EmbedMetrics records face embedding metrics (inference latency, outcomes, faces per image).
type EmbedMetrics interface {
	RecordInference(ctx context.Context, backend string, duration time.Duration, outcome string)
	RecordOutcome(ctx context.Context, outcome string)
	RecordFacesDetected(ctx context.Context, count int)
	// AddQueued moves the number of requests waiting for an inference slot by delta.
	AddQueued(ctx context.Context, delta int64)
}

type embedMetrics struct {
	inferenceDuration metric.Float64Histogram
	outcomes          metric.Int64Counter
	facesDetected     metric.Int64Histogram
	queued            metric.Int64UpDownCounter
}

// NewEmbedMetrics creates EmbedMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewEmbedMetrics(meter metric.Meter) (EmbedMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	inferenceDuration, err := meter.Float64Histogram(
		MetricNameInferenceDuration,
		metric.WithDescription("Face model inference duration (seconds), excluding decode and queueing"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create inference duration histogram: %w", err)
	}

	outcomes, err := meter.Int64Counter(
		MetricNameOutcomes,
		metric.WithDescription("Total embed requests by outcome (ok, no_face, invalid_input, too_large, timeout, error)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create embed outcomes counter: %w", err)
	}

	facesDetected, err := meter.Int64Histogram(
		MetricNameFacesDetected,
		metric.WithDescription("Number of faces detected per analyzed image"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10, 20),
	)
	if err != nil {
		return nil, fmt.Errorf("create faces detected histogram: %w", err)
	}

	queued, err := meter.Int64UpDownCounter(
		MetricNameInferenceQueued,
		metric.WithDescription("Requests waiting for an inference slot"),
	)
	if err != nil {
		return nil, fmt.Errorf("create inference queue gauge: %w", err)
	}

	return &embedMetrics{
		inferenceDuration: inferenceDuration,
		outcomes:          outcomes,
		facesDetected:     facesDetected,
		queued:            queued,
	}, nil
}

func (m *embedMetrics) RecordInference(ctx context.Context, backend string, duration time.Duration, outcome string) {
	m.inferenceDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrBackend, NormalizeBackend(backend)),
		attribute.String(AttrOutcome, NormalizeOutcome(outcome)),
	))
}

func (m *embedMetrics) RecordOutcome(ctx context.Context, outcome string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, NormalizeOutcome(outcome))))
}

func (m *embedMetrics) RecordFacesDetected(ctx context.Context, count int) {
	m.facesDetected.Record(ctx, int64(count))
}

func (m *embedMetrics) AddQueued(ctx context.Context, delta int64) {
	m.queued.Add(ctx, delta)
}

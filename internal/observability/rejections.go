package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RejectionMetrics counts requests turned away by middleware before reaching a handler.
type RejectionMetrics interface {
	RecordRejected(ctx context.Context, reason string)
}

type rejectionMetrics struct {
	rejected metric.Int64Counter
}

// NewRejectionMetrics creates RejectionMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewRejectionMetrics(meter metric.Meter) (RejectionMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	rejected, err := meter.Int64Counter(
		MetricNameRejectedRequests,
		metric.WithDescription("Requests rejected before inference, by reason (body_too_large, rate_limited)"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameRejectedRequests, err)
	}

	return &rejectionMetrics{rejected: rejected}, nil
}

func (m *rejectionMetrics) RecordRejected(ctx context.Context, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrReason, NormalizeReason(reason, AllowedRejections)),
	))
}

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics records embedding cache lookups labeled hit or miss.
type CacheMetrics interface {
	RecordHit(ctx context.Context)
	RecordMiss(ctx context.Context)
}

type cacheMetrics struct {
	lookups metric.Int64Counter
}

// NewCacheMetrics creates CacheMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewCacheMetrics(meter metric.Meter) (CacheMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	desc := "Number of embedding cache lookups. Label result: hit, miss. " +
		"Hit ratio = rate(result=hit) / rate(all)."

	lookups, err := meter.Int64Counter(
		MetricNameCacheLookups, metric.WithDescription(desc),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache lookups counter: %w", err)
	}

	return &cacheMetrics{lookups: lookups}, nil
}

func (c *cacheMetrics) RecordHit(ctx context.Context) {
	c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, CacheHit)))
}

func (c *cacheMetrics) RecordMiss(ctx context.Context) {
	c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, CacheMiss)))
}

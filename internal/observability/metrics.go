package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	meterScope       = "github.com/pharmacy-erp/embed-service/internal/observability"
	cardinalityLimit = 2000
)

// latencyHistogramBoundaries are Prometheus-style buckets (seconds) for request duration.
var latencyHistogramBoundaries = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10}

// inferenceHistogramBoundaries cover CPU inference, which takes from tens of milliseconds
// (small HOG inputs) to tens of seconds (large CNN inputs).
var inferenceHistogramBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// ServerMetrics records HTTP request count and duration.
type ServerMetrics interface {
	RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration)
}

// MeterProviderShutdown is the subset of the SDK MeterProvider needed for shutdown.
type MeterProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// Metric exporters accepted in MeterProviderConfig.Exporter.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
)

// otlpExportInterval is how often the periodic reader pushes to the collector.
const otlpExportInterval = 60 * time.Second

// MeterProviderConfig holds configuration for creating the MeterProvider.
type MeterProviderConfig struct {
	// ServiceName is used in the resource (default: embed-service).
	ServiceName string
	// Exporter selects pull (prometheus, default) or push (otlp).
	Exporter string
}

// NewMeterProvider creates a MeterProvider and returns the provider, an HTTP handler for
// /metrics, and the Meter used to create instruments. The Prometheus exporter uses a private
// registry; the OTLP exporter reads OTEL_EXPORTER_OTLP_* from the environment and returns a
// nil handler. Caller must call provider.Shutdown on exit.
func NewMeterProvider(ctx context.Context, cfg MeterProviderConfig) (provider MeterProviderShutdown, metricsHandler http.Handler, meter metric.Meter, err error) {
	var reader sdkmetric.Reader

	switch cfg.Exporter {
	case "", ExporterPrometheus:
		reg := prometheus.NewRegistry()

		exporter, err := prometheusexporter.New(
			prometheusexporter.WithRegisterer(reg),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}

		reader = exporter
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	case ExporterOTLP:
		exporter, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create OTLP metric exporter: %w", err)
		}

		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(otlpExportInterval))
	default:
		return nil, nil, nil, fmt.Errorf("unknown metrics exporter %q", cfg.Exporter)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(newResource(cfg.ServiceName)),
		sdkmetric.WithReader(reader),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: MetricNameRequestDuration},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries}},
			),
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: MetricNameInferenceDuration},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: inferenceHistogramBoundaries}},
			),
		),
	)

	return mp, metricsHandler, mp.Meter(meterScope), nil
}

// NewServerMetrics creates ServerMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewServerMetrics(meter metric.Meter) (ServerMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	requestCount, err := meter.Int64Counter(
		MetricNameRequestCount,
		metric.WithDescription("HTTP requests by method, route and status class"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricNameRequestCount, err)
	}

	requestDuration, err := meter.Float64Histogram(
		MetricNameRequestDuration,
		metric.WithDescription("HTTP request duration including upload, decode and inference"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricNameRequestDuration, err)
	}

	return &serverMetrics{
		requestCount:    requestCount,
		requestDuration: requestDuration,
	}, nil
}

type serverMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

func (m *serverMetrics) RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration) {
	base := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("route", route),
	}

	// Duration stays per route; the status split lives on the counter.
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(base...))
	m.requestCount.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("status_class", statusClass))...))
}

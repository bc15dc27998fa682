package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pharmacy-erp/embed-service/internal/api/handlers"
	"github.com/pharmacy-erp/embed-service/internal/api/middleware"
	"github.com/pharmacy-erp/embed-service/internal/config"
	"github.com/pharmacy-erp/embed-service/internal/facemodel"
	"github.com/pharmacy-erp/embed-service/internal/facemodel/dlib"
	"github.com/pharmacy-erp/embed-service/internal/imagedecode"
	"github.com/pharmacy-erp/embed-service/internal/observability"
	"github.com/pharmacy-erp/embed-service/internal/service"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	analyzer       facemodel.Analyzer
	embed          *service.EmbedService
	server         *http.Server
	meterProvider  observability.MeterProviderShutdown
	tracerProvider *sdktrace.TracerProvider
}

// appMetrics groups the instruments built from one meter; all fields are nil when metrics are off.
type appMetrics struct {
	handler http.Handler
	server  observability.ServerMetrics
	embed   observability.EmbedMetrics
	cache   observability.CacheMetrics
	rejects observability.RejectionMetrics
}

// newAnalyzer builds the face analyzer selected by configuration. It is called once; the
// returned instance is shared by all requests.
func newAnalyzer(cfg *config.Config) (facemodel.Analyzer, error) {
	opts := facemodel.Options{
		Backend:  cfg.FaceBackend,
		ModelDir: cfg.FaceModelDir,
		Model:    cfg.FaceModel,
		Device:   cfg.FaceDevice,
	}

	switch opts.Backend {
	case facemodel.BackendDlib:
		a, err := dlib.New(opts)
		if err != nil {
			return nil, fmt.Errorf("load dlib analyzer: %w", err)
		}

		return a, nil
	case facemodel.BackendMock:
		slog.Warn("using mock face analyzer; embeddings are not real face descriptors")

		return facemodel.NewMock(), nil
	default:
		return nil, fmt.Errorf("%w: %q", facemodel.ErrUnknownBackend, opts.Backend)
	}
}

// setupMetrics creates the meter provider and instruments when OTEL_METRICS_EXPORTER is set.
func setupMetrics(ctx context.Context, cfg *config.Config) (observability.MeterProviderShutdown, *appMetrics, error) {
	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")

		return nil, &appMetrics{}, nil
	}

	mp, handler, meter, err := observability.NewMeterProvider(ctx, observability.MeterProviderConfig{
		ServiceName: cfg.ServiceName,
		Exporter:    cfg.OtelMetricsExporter,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	m := &appMetrics{handler: handler}

	build := func() error {
		if m.server, err = observability.NewServerMetrics(meter); err != nil {
			return err
		}

		if m.embed, err = observability.NewEmbedMetrics(meter); err != nil {
			return err
		}

		if m.cache, err = observability.NewCacheMetrics(meter); err != nil {
			return err
		}

		m.rejects, err = observability.NewRejectionMetrics(meter)

		return err
	}

	if err := build(); err != nil {
		if err2 := mp.Shutdown(ctx); err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, m, nil
}

// NewApp loads the model and wires all components. It does not start the HTTP server;
// call Run to start and block until shutdown or failure.
func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	meterProvider, metrics, err := setupMetrics(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var tracerProvider *sdktrace.TracerProvider

	if cfg.OtelTracesExporter == "" {
		slog.Info("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		tracerProvider, err = observability.NewTracerProvider(cfg)
		if err != nil {
			shutdownOnError(meterProvider, nil, nil)

			return nil, fmt.Errorf("create tracer provider: %w", err)
		}

		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
	}

	start := time.Now()

	analyzer, err := newAnalyzer(cfg)
	if err != nil {
		shutdownOnError(meterProvider, tracerProvider, nil)

		return nil, err
	}

	slog.Info("face analyzer loaded",
		"analyzer", analyzer.Name(),
		"device", cfg.FaceDevice,
		"dimensions", analyzer.Dimensions(),
		"load_ms", time.Since(start).Milliseconds(),
	)

	embedService, err := service.NewEmbedService(analyzer, service.EmbedConfig{
		Limits: imagedecode.Limits{
			MaxDimension: cfg.MaxImageDimension,
			MaxPixels:    cfg.MaxImagePixels,
		},
		Concurrency: cfg.InferenceConcurrency,
		Timeout:     cfg.InferenceTimeout,
		CacheSize:   cfg.EmbedCacheSize,
		CacheTTL:    cfg.EmbedCacheTTL,
	}, metrics.embed, metrics.cache)
	if err != nil {
		shutdownOnError(meterProvider, tracerProvider, analyzer)

		return nil, fmt.Errorf("create embed service: %w", err)
	}

	server := newHTTPServer(cfg, handlers.NewEmbedHandler(embedService), handlers.NewHealthHandler(analyzer.Name()),
		metrics, tracerProvider)

	return &App{
		cfg:            cfg,
		analyzer:       analyzer,
		embed:          embedService,
		server:         server,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
	}, nil
}

// newHTTPServer builds the HTTP server.
// Handler chain: RequestID -> otelhttp -> Metrics -> Logging -> RateLimit -> MaxBody -> mux,
// so access logs carry request_id and trace_id/span_id from context.
func newHTTPServer(
	cfg *config.Config,
	embed *handlers.EmbedHandler,
	health *handlers.HealthHandler,
	metrics *appMetrics,
	tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /embed", embed.Embed)
	mux.HandleFunc("GET /health", health.Check)

	if metrics.handler != nil {
		mux.Handle("GET /metrics", metrics.handler)
	}

	var inner http.Handler = mux

	inner = middleware.MaxBody(cfg.MaxUploadBytes, metrics.rejects)(inner)
	inner = middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, metrics.rejects)(inner)
	inner = middleware.Logging(inner)
	inner = middleware.Metrics(metrics.server)(inner)

	otelOpts := []otelhttp.Option{
		// Skip tracing for health checks and scrapes to reduce noise.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	}
	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	handler := otelhttp.NewHandler(inner, cfg.ServiceName, otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readHeaderTimeout = 10 * time.Second
		readTimeout       = 30 * time.Second
		idleTimeout       = 60 * time.Second
	)

	// The write timeout must outlast the inference timeout, or slow requests are cut off
	// before the 503 can be written.
	writeTimeout := 15 * time.Second
	if cfg.InferenceTimeout == 0 {
		writeTimeout = 0
	} else if cfg.InferenceTimeout+5*time.Second > writeTimeout {
		writeTimeout = cfg.InferenceTimeout + 5*time.Second
	}

	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// Run starts the HTTP server, then blocks until ctx is cancelled (e.g. signal) or the server fails.
// Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}

	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	runErr := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "addr", ln.Addr().String())

		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr <- fmt.Errorf("server: %w", err)
		}
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// shutdownOnError releases whatever was created before a failed NewApp.
func shutdownOnError(mp observability.MeterProviderShutdown, tp *sdktrace.TracerProvider, analyzer facemodel.Analyzer) {
	ctx := context.Background()

	if analyzer != nil {
		if err := analyzer.Close(); err != nil {
			slog.Error("close analyzer after startup error", "error", err)
		}
	}

	if err := shutdownObservability(ctx, tp, mp); err != nil {
		slog.Error("shutdown observability after startup error", "error", err)
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter observability.MeterProviderShutdown) error {
	var first error

	if tracer != nil {
		if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
			first = err
		}
	}

	if meter != nil {
		if err := meter.Shutdown(ctx); err != nil {
			if first == nil {
				first = fmt.Errorf("meter provider shutdown: %w", err)
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	return first
}

// Shutdown stops accepting requests, waits for in-flight ones, then closes the analyzer.
// Observability is shut down once via defer; its error is returned only when the server shut down cleanly.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// In-flight requests are done, but an abandoned inference may still be running.
	if err = a.embed.Drain(ctx); err != nil {
		return fmt.Errorf("drain inference: %w", err)
	}

	if err = a.analyzer.Close(); err != nil {
		return fmt.Errorf("close analyzer: %w", err)
	}

	return nil
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/pharmacy-erp/embed-service/internal/embederrors"
	"github.com/pharmacy-erp/embed-service/internal/facemodel"
	"github.com/pharmacy-erp/embed-service/internal/imagedecode"
	"github.com/pharmacy-erp/embed-service/internal/observability"
	"github.com/pharmacy-erp/embed-service/pkg/cache"
)

const tracerName = "github.com/pharmacy-erp/embed-service/internal/service"

// EmbedConfig holds the limits applied by EmbedService.
type EmbedConfig struct {
	Limits imagedecode.Limits
	// Concurrency is the number of inference calls allowed at once (values < 1 mean 1).
	Concurrency int
	// Timeout bounds waiting for an inference slot plus inference itself; 0 disables it.
	Timeout time.Duration
	// CacheSize is the number of cached results; 0 disables the cache.
	CacheSize int
	CacheTTL  time.Duration
}

// Result is the outcome of analyzing one image.
type Result struct {
	// Found is false when no face was detected; Embedding and Box are then empty.
	Found     bool
	Embedding []float32
	Box       facemodel.Box
	// Faces is the number of faces detected.
	Faces int
}

// EmbedService turns uploaded image bytes into the embedding of the largest face.
type EmbedService struct {
	analyzer     facemodel.Analyzer
	limits       imagedecode.Limits
	timeout      time.Duration
	sem          *semaphore.Weighted
	slots        int64
	cache        *cache.Memo[*Result]
	embedMetrics observability.EmbedMetrics
	cacheMetrics observability.CacheMetrics
	tracer       trace.Tracer
}

// NewEmbedService creates an EmbedService around analyzer. embedMetrics and cacheMetrics may be nil.
func NewEmbedService(
	analyzer facemodel.Analyzer,
	cfg EmbedConfig,
	embedMetrics observability.EmbedMetrics,
	cacheMetrics observability.CacheMetrics,
) (*EmbedService, error) {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	s := &EmbedService{
		analyzer:     analyzer,
		limits:       cfg.Limits,
		timeout:      cfg.Timeout,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		slots:        int64(concurrency),
		embedMetrics: embedMetrics,
		cacheMetrics: cacheMetrics,
		tracer:       otel.Tracer(tracerName),
	}

	if cfg.CacheSize > 0 {
		c, err := cache.NewMemo[*Result](cfg.CacheSize, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("create embed cache: %w", err)
		}

		s.cache = c
	}

	return s, nil
}

// Drain blocks until no inference is running and takes every slot, so later Embed calls fail
// with embederrors.ErrUnavailable. Call it before closing the analyzer.
func (s *EmbedService) Drain(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, s.slots); err != nil {
		return fmt.Errorf("wait for running inference: %w", err)
	}

	return nil
}

// Embed analyzes data and returns the largest face's embedding.
// No face is a successful Result with Found false. Errors match embederrors.ErrValidation
// (bad upload), embederrors.ErrTooLarge (image over the limits), embederrors.ErrUnavailable
// (cancelled or timed out) or are model failures.
// The returned Result may be shared with other callers and must not be modified.
func (s *EmbedService) Embed(ctx context.Context, data []byte) (*Result, error) {
	res, err := s.embed(ctx, data)

	outcome := outcomeFor(res, err)
	if s.embedMetrics != nil {
		s.embedMetrics.RecordOutcome(ctx, outcome)
	}

	if err != nil {
		return nil, err
	}

	return res, nil
}

func (s *EmbedService) embed(ctx context.Context, data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, embederrors.NewValidationError("image", "empty upload")
	}

	if s.cache == nil {
		return s.analyze(ctx, data)
	}

	digest := sha256.Sum256(data)
	key := hex.EncodeToString(digest[:])

	res, hit, err := s.cache.Do(ctx, key, func(ctx context.Context) (*Result, error) {
		return s.analyze(ctx, data)
	})
	if err != nil && !errors.Is(err, embederrors.ErrUnavailable) && ctx.Err() != nil {
		// This request ended while the shared inference for the same image was still running.
		return nil, embederrors.NewUnavailableError("request cancelled during inference", err)
	}

	if s.cacheMetrics != nil && err == nil {
		if hit {
			s.cacheMetrics.RecordHit(ctx)
		} else {
			s.cacheMetrics.RecordMiss(ctx)
		}
	}

	if hit {
		slog.DebugContext(ctx, "embed cache hit", "digest", key[:12])
	}

	return res, err
}

// analyze decodes data and runs the model on it.
func (s *EmbedService) analyze(ctx context.Context, data []byte) (*Result, error) {
	img, err := imagedecode.Decode(data, s.limits)
	if err != nil {
		return nil, decodeError(err)
	}

	faces, err := s.detect(ctx, img)
	if err != nil {
		return nil, err
	}

	res := &Result{Faces: len(faces)}

	if face, ok := facemodel.Largest(faces); ok {
		res.Found = true
		res.Embedding = face.Embedding
		res.Box = face.Box
	}

	slog.DebugContext(ctx, "faces detected",
		"format", img.Format,
		"width", img.Image.Bounds().Dx(),
		"height", img.Image.Bounds().Dy(),
		"faces", res.Faces,
	)

	return res, nil
}

type detectResult struct {
	faces []facemodel.Face
	err   error
}

// detect waits for an inference slot and runs the analyzer. On timeout or cancellation the caller
// returns immediately while the slot stays held until the analyzer actually finishes, so the number
// of concurrent model calls never exceeds the configured concurrency.
func (s *EmbedService) detect(ctx context.Context, img *imagedecode.Decoded) ([]facemodel.Face, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ctx, span := s.tracer.Start(ctx, "embed.detect", trace.WithAttributes(
		attribute.String("face.backend", s.analyzer.Name()),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, embederrors.NewUnavailableError("request cancelled before inference", err)
	}

	if s.embedMetrics != nil {
		s.embedMetrics.AddQueued(ctx, 1)
	}

	err := s.sem.Acquire(ctx, 1)

	if s.embedMetrics != nil {
		s.embedMetrics.AddQueued(context.WithoutCancel(ctx), -1)
	}

	if err != nil {
		span.SetStatus(codes.Error, "inference slot wait cancelled")

		return nil, embederrors.NewUnavailableError("waiting for inference slot", err)
	}

	done := make(chan detectResult, 1)

	go func() {
		defer s.sem.Release(1)

		start := time.Now()
		faces, err := s.analyzer.Detect(ctx, img)

		if s.embedMetrics != nil {
			outcome := observability.OutcomeOK
			if err != nil {
				outcome = observability.OutcomeError
			} else if len(faces) == 0 {
				outcome = observability.OutcomeNoFace
			}

			s.embedMetrics.RecordInference(context.WithoutCancel(ctx), s.analyzer.Name(), time.Since(start), outcome)

			if err == nil {
				s.embedMetrics.RecordFacesDetected(context.WithoutCancel(ctx), len(faces))
			}
		}

		done <- detectResult{faces: faces, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			span.RecordError(r.err)
			span.SetStatus(codes.Error, "detect failed")

			return nil, detectError(r.err)
		}

		span.SetAttributes(attribute.Int("face.count", len(r.faces)))

		return r.faces, nil
	case <-ctx.Done():
		span.SetStatus(codes.Error, "inference cancelled")
		slog.WarnContext(ctx, "inference abandoned", "error", ctx.Err(), "timeout", s.timeout)

		return nil, embederrors.NewUnavailableError("inference did not finish in time", ctx.Err())
	}
}

func decodeError(err error) error {
	switch {
	case errors.Is(err, imagedecode.ErrTooLarge):
		return embederrors.NewTooLargeError(err.Error())
	case errors.Is(err, imagedecode.ErrEmpty):
		return embederrors.NewValidationError("image", "empty upload")
	default:
		return embederrors.NewValidationError("image", "invalid image")
	}
}

func detectError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return embederrors.NewUnavailableError("inference cancelled", err)
	case errors.Is(err, imagedecode.ErrInvalidImage):
		return embederrors.NewValidationError("image", "invalid image")
	default:
		return fmt.Errorf("detect faces: %w", err)
	}
}

func outcomeFor(res *Result, err error) string {
	switch {
	case err == nil && res.Found:
		return observability.OutcomeOK
	case err == nil:
		return observability.OutcomeNoFace
	case errors.Is(err, embederrors.ErrValidation):
		return observability.OutcomeInvalidInput
	case errors.Is(err, embederrors.ErrTooLarge):
		return observability.OutcomeTooLarge
	case errors.Is(err, embederrors.ErrUnavailable):
		return observability.OutcomeTimeout
	default:
		return observability.OutcomeError
	}
}

// Package config provides application configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Host      string
	Port      string
	LogLevel  string
	LogFormat string

	// Face model selection, resolved once at startup.
	FaceBackend  string
	FaceModelDir string
	FaceModel    string
	FaceDevice   string

	// Number of inference calls allowed to run at once; 1 serializes access to the model.
	InferenceConcurrency int
	// Per-request inference budget; 0 disables the timeout.
	InferenceTimeout time.Duration

	MaxUploadBytes    int64
	MaxImagePixels    int64
	MaxImageDimension int

	// Embedding cache keyed by SHA-256 of the upload; size 0 disables it.
	EmbedCacheSize int
	EmbedCacheTTL  time.Duration

	// Global token bucket; RPS 0 disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	ServiceName         string
	OtelMetricsExporter string
	OtelTracesExporter  string
	// OtelTracesSampler and OtelTracesSamplerArg follow the OTEL_TRACES_SAMPLER conventions.
	OtelTracesSampler    string
	OtelTracesSamplerArg float64

	ShutdownTimeout time.Duration
}

// Addr returns the listen address HOST:PORT.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// envParser reads typed environment variables and collects every value that fails to parse,
// so one typo is reported instead of silently replaced by the default.
type envParser struct {
	errs []error
}

func parseEnv[T any](p *envParser, key string, defaultValue T, kind string, parse func(string) (T, error)) T {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := parse(valueStr)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be %s, got %q", key, kind, valueStr))

		return defaultValue
	}

	return value
}

// int retrieves an environment variable as an integer or returns a default value.
func (p *envParser) int(key string, defaultValue int) int {
	return parseEnv(p, key, defaultValue, "an integer", strconv.Atoi)
}

// int64 retrieves an environment variable as an int64 or returns a default value.
func (p *envParser) int64(key string, defaultValue int64) int64 {
	return parseEnv(p, key, defaultValue, "an integer", func(v string) (int64, error) {
		return strconv.ParseInt(v, 10, 64)
	})
}

// float retrieves an environment variable as a float64 or returns a default value.
func (p *envParser) float(key string, defaultValue float64) float64 {
	return parseEnv(p, key, defaultValue, "a number", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

// duration retrieves an environment variable as a time.Duration (e.g. "30s") or returns a default value.
func (p *envParser) duration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(p, key, defaultValue, `a duration such as "30s"`, time.ParseDuration)
}

// err reports every parse failure seen so far.
func (p *envParser) err() error {
	return errors.Join(p.errs...)
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}

	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

// Load reads configuration from environment variables and returns a Config struct.
// It automatically loads .env file if it exists.
// Returns default values for any missing environment variables and an error for values that
// do not parse or are out of range.
func Load() (*Config, error) {
	// Load .env file if it exists. Skip logging when absent (e.g. env from secrets/parameter store).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	env := &envParser{}

	cfg := &Config{
		Host:      getEnv("HOST", "127.0.0.1"),
		Port:      getEnv("PORT", "8001"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		FaceBackend:  strings.ToLower(getEnv("FACE_BACKEND", "dlib")),
		FaceModelDir: getEnv("FACE_MODEL_DIR", "./models"),
		FaceModel:    strings.ToLower(getEnv("FACE_MODEL", "hog")),
		FaceDevice:   strings.ToLower(getEnv("FACE_DEVICE", "cpu")),

		InferenceConcurrency: env.int("INFERENCE_CONCURRENCY", 1),
		InferenceTimeout:     env.duration("INFERENCE_TIMEOUT", 30*time.Second),

		MaxUploadBytes:    env.int64("MAX_UPLOAD_BYTES", 10<<20),
		MaxImagePixels:    env.int64("MAX_IMAGE_PIXELS", 40_000_000),
		MaxImageDimension: env.int("MAX_IMAGE_DIMENSION", 10000),

		EmbedCacheSize: env.int("EMBED_CACHE_SIZE", 256),
		EmbedCacheTTL:  env.duration("EMBED_CACHE_TTL", 10*time.Minute),

		RateLimitRPS:   env.float("RATE_LIMIT_RPS", 0),
		RateLimitBurst: env.int("RATE_LIMIT_BURST", 10),

		ServiceName:         getEnv("OTEL_SERVICE_NAME", "embed-service"),
		OtelMetricsExporter: strings.ToLower(os.Getenv("OTEL_METRICS_EXPORTER")),
		OtelTracesExporter:  strings.ToLower(os.Getenv("OTEL_TRACES_EXPORTER")),

		OtelTracesSampler:    strings.ToLower(getEnv("OTEL_TRACES_SAMPLER", "parentbased_always_on")),
		OtelTracesSamplerArg: env.float("OTEL_TRACES_SAMPLER_ARG", 1),

		ShutdownTimeout: env.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := env.err(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	checks := []error{
		oneOf("LOG_LEVEL", c.LogLevel, "debug", "info", "warn", "error"),
		oneOf("LOG_FORMAT", c.LogFormat, "text", "json"),
		oneOf("FACE_BACKEND", c.FaceBackend, "dlib", "mock"),
		oneOf("FACE_MODEL", c.FaceModel, "hog", "cnn"),
		oneOf("FACE_DEVICE", c.FaceDevice, "cpu", "gpu"),
		oneOf("OTEL_METRICS_EXPORTER", c.OtelMetricsExporter, "", "prometheus", "otlp"),
		oneOf("OTEL_TRACES_EXPORTER", c.OtelTracesExporter, "", "otlp", "stdout"),
		oneOf("OTEL_TRACES_SAMPLER", c.OtelTracesSampler,
			"always_on", "always_off", "traceidratio",
			"parentbased_always_on", "parentbased_always_off", "parentbased_traceidratio"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if c.OtelTracesSamplerArg < 0 || c.OtelTracesSamplerArg > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}

	if c.InferenceConcurrency <= 0 {
		return errors.New("INFERENCE_CONCURRENCY must be a positive integer")
	}

	if c.InferenceTimeout < 0 {
		return errors.New("INFERENCE_TIMEOUT must not be negative")
	}

	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be a positive integer")
	}

	if c.MaxImagePixels < 0 || c.MaxImageDimension < 0 {
		return errors.New("MAX_IMAGE_PIXELS and MAX_IMAGE_DIMENSION must not be negative")
	}

	if c.EmbedCacheSize < 0 {
		return errors.New("EMBED_CACHE_SIZE must not be negative")
	}

	if c.RateLimitRPS < 0 {
		return errors.New("RATE_LIMIT_RPS must not be negative")
	}

	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be a positive integer when RATE_LIMIT_RPS is set")
	}

	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}

	return nil
}

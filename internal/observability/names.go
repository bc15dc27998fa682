// Package observability provides OpenTelemetry metrics and tracing for the embed service.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameRequestCount      = "http.server.request_count"
	MetricNameRequestDuration   = "http.server.duration"
	MetricNameRejectedRequests  = "embed_rejected_requests_total"
	MetricNameInferenceDuration = "embed_inference_duration_seconds"
	MetricNameOutcomes          = "embed_outcomes_total"
	MetricNameFacesDetected     = "embed_faces_detected"
	MetricNameInferenceQueued   = "embed_inference_queued"
	MetricNameCacheLookups      = "embed_cache_lookups_total"
)

// Attribute keys.
const (
	AttrOutcome = "outcome"
	AttrBackend = "backend"
	AttrResult  = "result"
	AttrReason  = "reason"
)

// Embed outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeNoFace       = "no_face"
	OutcomeInvalidInput = "invalid_input"
	OutcomeTooLarge     = "too_large"
	OutcomeTimeout      = "timeout"
	OutcomeError        = "error"
)

// Rejection reasons for embed_rejected_requests_total.
const (
	RejectBodyTooLarge = "body_too_large"
	RejectRateLimited  = "rate_limited"
)

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// AllowedOutcomes for embed_outcomes_total and embed_inference_duration_seconds.
var AllowedOutcomes = map[string]bool{
	OutcomeOK:           true,
	OutcomeNoFace:       true,
	OutcomeInvalidInput: true,
	OutcomeTooLarge:     true,
	OutcomeTimeout:      true,
	OutcomeError:        true,
}

// AllowedRejections for embed_rejected_requests_total.
var AllowedRejections = map[string]bool{
	RejectBodyTooLarge: true,
	RejectRateLimited:  true,
}

// AllowedBackends for the backend attribute.
var AllowedBackends = map[string]bool{
	"dlib-hog": true,
	"dlib-cnn": true,
	"mock":     true,
}

// NormalizeOutcome returns outcome if allowed, otherwise "other".
func NormalizeOutcome(outcome string) string {
	return NormalizeReason(outcome, AllowedOutcomes)
}

// NormalizeBackend returns backend if allowed, otherwise "other".
func NormalizeBackend(backend string) string {
	return NormalizeReason(backend, AllowedBackends)
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

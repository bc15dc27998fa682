package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/pharmacy-erp/embed-service/internal/api/response"
	"github.com/pharmacy-erp/embed-service/internal/observability"
)

// RateLimit returns middleware that applies a global token bucket of rps requests per second
// with the given burst to POST requests. Health and metrics scrapes are never limited.
// rps <= 0 disables limiting. recorder may be nil.
func RateLimit(rps float64, burst int, recorder RejectionRecorder) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	retryAfter := 1
	if rps < 1 {
		retryAfter = int(1/rps) + 1
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || limiter.Allow() {
				next.ServeHTTP(w, r)

				return
			}

			if recorder != nil {
				recorder.RecordRejected(r.Context(), observability.RejectRateLimited)
			}

			slog.WarnContext(r.Context(), "rate limit exceeded", "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			response.RespondTooManyRequests(w, "rate limit exceeded, retry later")
		})
	}
}

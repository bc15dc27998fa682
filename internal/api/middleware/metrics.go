package middleware

import (
	"net/http"
	"time"

	"github.com/pharmacy-erp/embed-service/internal/observability"
)

// knownRoutes bounds the route label; any other path is recorded as "other".
var knownRoutes = map[string]bool{
	"/embed":   true,
	"/health":  true,
	"/metrics": true,
}

// Metrics returns middleware that records HTTP request count and duration via ServerMetrics.
// When metrics is nil, recording is skipped. Put Metrics outside Logging so duration is full request time.
func Metrics(metrics observability.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			metrics.RecordRequest(r.Context(), r.Method, normalizeRoute(r.URL.Path), statusToClass(rw.statusCode), time.Since(start))
		})
	}
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}

	return "other"
}

// statusToClass maps HTTP status code to 1xx, 2xx, 3xx, 4xx, 5xx.
func statusToClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status >= 100:
		return "1xx"
	default:
		return "unknown"
	}
}

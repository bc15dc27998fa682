package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pharmacy-erp/embed-service/internal/observability"
)

const (
	requestIDHeader = "X-Request-ID"
	// maxRequestIDLen bounds client-supplied IDs so they stay usable as log fields.
	maxRequestIDLen = 128
)

// RequestID tags each request with an X-Request-ID, echoed in the response and stored in
// the context for logging. A well-formed client ID is kept, anything else is replaced by a UUIDv7.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !validRequestID(id) {
			id = uuid.Must(uuid.NewV7()).String()
		}

		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}

	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}

	return true
}

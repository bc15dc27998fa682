package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmacy-erp/embed-service/internal/observability"
)

func TestRequestID(t *testing.T) {
	var seen string

	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = observability.RequestIDFrom(r.Context())
	}))

	t.Run("generates uuid v7 when missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		id, err := uuid.Parse(rec.Header().Get(requestIDHeader))
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), id.Version())
		assert.Equal(t, id.String(), seen)
	})

	t.Run("propagates client id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(requestIDHeader, "frame-42")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "frame-42", rec.Header().Get(requestIDHeader))
		assert.Equal(t, "frame-42", seen)
	})

	t.Run("replaces malformed client id", func(t *testing.T) {
		for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("x", maxRequestIDLen+1)} {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set(requestIDHeader, bad)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get(requestIDHeader)
			assert.NotEqual(t, bad, got)
			_, err := uuid.Parse(got)
			assert.NoError(t, err)
		}
	})
}

type countingRecorder struct {
	mu      sync.Mutex
	count   int
	reasons []string
}

func (c *countingRecorder) RecordRejected(_ context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	c.reasons = append(c.reasons, reason)
}

// readAllHandler reads the body like a multipart parser would and reports a 400 on read failure.
var readAllHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if _, err := io.ReadAll(r.Body); err != nil {
		http.Error(w, "bad multipart body", http.StatusBadRequest)

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
})

// deadlineRecorder is a ResponseRecorder that supports read deadlines, like a real connection writer.
type deadlineRecorder struct {
	*httptest.ResponseRecorder

	readDeadlineSet bool
}

func (d *deadlineRecorder) SetReadDeadline(time.Time) error {
	d.readDeadlineSet = true

	return nil
}

func TestMaxBody(t *testing.T) {
	t.Run("under limit passes through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		MaxBody(16, nil)(readAllHandler).ServeHTTP(rec,
			httptest.NewRequest(http.MethodPost, "/embed", strings.NewReader("small")))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	})

	t.Run("declared content length over limit is rejected up front", func(t *testing.T) {
		recorder := &countingRecorder{}
		called := false
		next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

		rec := httptest.NewRecorder()
		MaxBody(4, recorder)(next).ServeHTTP(rec,
			httptest.NewRequest(http.MethodPost, "/embed", strings.NewReader("way too large")))

		assert.False(t, called)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		assert.Equal(t, []string{observability.RejectBodyTooLarge}, recorder.reasons)
	})

	t.Run("streamed body over limit replaces handler response with 413", func(t *testing.T) {
		recorder := &countingRecorder{}
		req := httptest.NewRequest(http.MethodPost, "/embed", io.NopCloser(strings.NewReader("way too large")))
		req.ContentLength = -1

		rec := httptest.NewRecorder()
		MaxBody(4, recorder)(readAllHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.NotContains(t, rec.Body.String(), "bad multipart body")
		assert.Equal(t, 1, recorder.count)
	})

	t.Run("response controller reaches the underlying writer", func(t *testing.T) {
		w := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder()}
		next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			rc := http.NewResponseController(w)
			assert.NoError(t, rc.SetReadDeadline(time.Now().Add(time.Minute)))
			assert.NoError(t, rc.Flush())

			w.WriteHeader(http.StatusAccepted)
		})

		MaxBody(16, nil)(next).ServeHTTP(w,
			httptest.NewRequest(http.MethodPost, "/embed", strings.NewReader("small")))

		assert.True(t, w.readDeadlineSet)
		assert.False(t, w.Flushed, "flush must not commit the held response")
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("disabled when zero", func(t *testing.T) {
		rec := httptest.NewRecorder()
		MaxBody(0, nil)(readAllHandler).ServeHTTP(rec,
			httptest.NewRequest(http.MethodPost, "/embed", strings.NewReader(strings.Repeat("x", 1024))))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("disabled when rps is zero", func(t *testing.T) {
		handler := RateLimit(0, 1, nil)(ok)

		for range 5 {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/embed", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("rejects posts over burst", func(t *testing.T) {
		recorder := &countingRecorder{}
		handler := RateLimit(0.001, 2, recorder)(ok)

		codes := make([]int, 0, 3)

		for range 3 {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/embed", nil))
			codes = append(codes, rec.Code)

			if rec.Code == http.StatusTooManyRequests {
				assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			}
		}

		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
		assert.Equal(t, []string{observability.RejectRateLimited}, recorder.reasons)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

type fakeServerMetrics struct {
	method, route, statusClass string
	calls                      int
}

func (f *fakeServerMetrics) RecordRequest(_ context.Context, method, route, statusClass string, _ time.Duration) {
	f.method, f.route, f.statusClass = method, route, statusClass
	f.calls++
}

func TestMetrics(t *testing.T) {
	t.Run("records route and status class", func(t *testing.T) {
		fake := &fakeServerMetrics{}
		handler := Metrics(fake)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/embed", nil))

		assert.Equal(t, 1, fake.calls)
		assert.Equal(t, http.MethodPost, fake.method)
		assert.Equal(t, "/embed", fake.route)
		assert.Equal(t, "4xx", fake.statusClass)
	})

	t.Run("unknown paths collapse to other", func(t *testing.T) {
		fake := &fakeServerMetrics{}
		handler := Metrics(fake)(http.NotFoundHandler())

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin/login.php", nil))

		assert.Equal(t, "other", fake.route)
	})

	t.Run("nil metrics is a no-op", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Metrics(nil)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_statusToClass(t *testing.T) {
	tests := map[int]string{
		0:   "unknown",
		101: "1xx",
		200: "2xx",
		304: "3xx",
		413: "4xx",
		503: "5xx",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusToClass(code), "status %d", code)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer

	prev := slog.Default()
	slog.SetDefault(observability.NewLogger(&buf, "info", "text"))

	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := RequestID(Logging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/embed", nil)
	req.Header.Set(requestIDHeader, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	assert.Contains(t, line, "msg=request")
	assert.Contains(t, line, "method=POST")
	assert.Contains(t, line, "path=/embed")
	assert.Contains(t, line, "status=201")
	assert.Contains(t, line, "bytes=5")
	assert.Contains(t, line, "request_id=req-1")

	buf.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String(), "health checks log at debug")
}

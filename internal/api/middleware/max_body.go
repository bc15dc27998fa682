package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pharmacy-erp/embed-service/internal/api/response"
	"github.com/pharmacy-erp/embed-service/internal/observability"
)

// RejectionRecorder counts requests rejected by middleware. Pass nil when metrics are disabled.
type RejectionRecorder interface {
	RecordRejected(ctx context.Context, reason string)
}

// MaxBody caps request bodies at maxBytes (MAX_UPLOAD_BYTES); maxBytes <= 0 disables the cap.
//
// A declared Content-Length over the cap is rejected before the handler runs. For uploads
// without one, the handler's response is held back: if it read past the cap, the response
// is dropped and replaced with 413, so a multipart parser tripping over the cap never
// surfaces as a 400.
func MaxBody(maxBytes int64, recorder RejectionRecorder) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				rejectTooLarge(w, r, recorder, maxBytes)

				return
			}

			body := &cappedBody{ReadCloser: http.MaxBytesReader(w, r.Body, maxBytes)}
			r.Body = body

			if r.Method != http.MethodPost && r.Method != http.MethodPut {
				next.ServeHTTP(w, r)

				return
			}

			held := &heldResponse{ResponseWriter: w}
			next.ServeHTTP(held, r)

			if body.exceeded {
				rejectTooLarge(w, r, recorder, maxBytes)

				return
			}

			held.release()
		})
	}
}

func rejectTooLarge(w http.ResponseWriter, r *http.Request, recorder RejectionRecorder, maxBytes int64) {
	if recorder != nil {
		recorder.RecordRejected(r.Context(), observability.RejectBodyTooLarge)
	}

	slog.WarnContext(r.Context(), "upload rejected: body too large",
		"content_length", r.ContentLength, "max_bytes", maxBytes)

	response.RespondRequestEntityTooLarge(w, fmt.Sprintf("upload exceeds the %d byte limit", maxBytes))
}

// cappedBody remembers whether the MaxBytesReader underneath hit its limit.
type cappedBody struct {
	io.ReadCloser

	exceeded bool
}

func (b *cappedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		b.exceeded = true
	}

	return n, err //nolint:wrapcheck // io.EOF must reach the caller unwrapped
}

// heldResponse buffers status and body until release. Headers go straight to the
// underlying writer.
type heldResponse struct {
	http.ResponseWriter

	status int
	body   bytes.Buffer
}

func (h *heldResponse) WriteHeader(code int) {
	if h.status == 0 {
		h.status = code
	}
}

func (h *heldResponse) Write(p []byte) (int, error) {
	return h.body.Write(p)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (h *heldResponse) Unwrap() http.ResponseWriter {
	return h.ResponseWriter
}

// FlushError keeps a flush through http.ResponseController from committing the real
// response early. Held output is written by release.
func (h *heldResponse) FlushError() error {
	return nil
}

func (h *heldResponse) release() {
	if h.status != 0 {
		h.ResponseWriter.WriteHeader(h.status)
	}

	if _, err := h.body.WriteTo(h.ResponseWriter); err != nil {
		slog.Debug("write held response", "error", err)
	}
}

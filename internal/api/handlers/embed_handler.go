package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/pharmacy-erp/embed-service/internal/api/response"
	"github.com/pharmacy-erp/embed-service/internal/embederrors"
	"github.com/pharmacy-erp/embed-service/internal/service"
)

// imageField is the multipart field name callers use for the upload.
const imageField = "image"

// multipartMemory is the part of a multipart body kept in memory; the rest spills to temp files.
const multipartMemory = 8 << 20

// ReasonNoFace is the reason reported when the image contains no detectable face.
const ReasonNoFace = "no_face"

var errNoFile = errors.New("no file field in form")

// EmbedService defines the interface the embed handler needs.
type EmbedService interface {
	Embed(ctx context.Context, data []byte) (*service.Result, error)
}

// EmbedHandler handles face embedding requests.
type EmbedHandler struct {
	service EmbedService
}

// NewEmbedHandler creates a new embed handler.
func NewEmbedHandler(service EmbedService) *EmbedHandler {
	return &EmbedHandler{service: service}
}

// EmbedResponse is the body for POST /embed. Exactly one of Embedding or Reason is set.
type EmbedResponse struct {
	OK        bool      `json:"ok"`
	Embedding []float32 `json:"embedding,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Embed handles POST /embed.
func (h *EmbedHandler) Embed(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.RespondRequestEntityTooLarge(w, "request body exceeds maximum allowed size")

			return
		}

		slog.DebugContext(r.Context(), "rejected upload", "error", err)
		response.RespondBadRequest(w, "expected multipart/form-data with an image file field")

		return
	}

	res, err := h.service.Embed(r.Context(), data)
	if err != nil {
		handleEmbedError(w, r, err)

		return
	}

	if !res.Found {
		response.RespondJSON(w, http.StatusOK, EmbedResponse{OK: false, Reason: ReasonNoFace})

		return
	}

	response.RespondJSON(w, http.StatusOK, EmbedResponse{OK: true, Embedding: res.Embedding})
}

func handleEmbedError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, embederrors.ErrValidation):
		response.RespondBadRequest(w, err.Error())
	case errors.Is(err, embederrors.ErrTooLarge):
		response.RespondUnprocessableEntity(w, err.Error())
	case errors.Is(err, embederrors.ErrUnavailable):
		slog.WarnContext(r.Context(), "embed unavailable", "error", err)
		response.RespondServiceUnavailable(w, "inference did not complete in time, retry later")
	default:
		slog.ErrorContext(r.Context(), "embed failed", "error", err)
		response.RespondInternalServerError(w, "face model failed to process the image")
	}
}

// readUpload returns the bytes of the "image" file field, or of the only file field when the
// form has exactly one under a different name.
func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, err
	}

	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.WarnContext(r.Context(), "failed to remove multipart temp files", "error", err)
		}
	}()

	fh, err := pickFile(r.MultipartForm)
	if err != nil {
		return nil, err
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

func pickFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if files := form.File[imageField]; len(files) > 0 {
		return files[0], nil
	}

	var only *multipart.FileHeader

	for _, files := range form.File {
		for _, fh := range files {
			if only != nil {
				return nil, errNoFile
			}

			only = fh
		}
	}

	if only == nil {
		return nil, errNoFile
	}

	return only, nil
}

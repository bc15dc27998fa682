package handlers

import (
	"log/slog"
	"net/http"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	model string
}

// NewHealthHandler creates a new health handler. model names the loaded analyzer and is
// sent in the X-Face-Model header.
func NewHealthHandler(model string) *HealthHandler {
	return &HealthHandler{model: model}
}

// Check handles GET /health. The model is loaded before the server starts listening,
// so a response means the service can take requests.
func (h *HealthHandler) Check(w http.ResponseWriter, _ *http.Request) {
	if h.model != "" {
		w.Header().Set("X-Face-Model", h.model)
	}

	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}

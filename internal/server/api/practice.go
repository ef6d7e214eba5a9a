package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/practice"
)

// PracticeHandler drives the practice controller.
//
//	GET  /api/practice/state
//	POST /api/practice/activate
//	POST /api/practice/deactivate
//	POST /api/practice/restart
//	POST /api/practice/throttle  {"window_ms": 500}
type PracticeHandler struct {
	controller *practice.Controller
	// base outlives any single request; activations are bound to it.
	base context.Context
	log  *zap.Logger
}

// NewPracticeHandler creates a handler for c. Activations started through
// it stop when base is canceled.
func NewPracticeHandler(base context.Context, c *practice.Controller, log *zap.Logger) *PracticeHandler {
	if base == nil {
		base = context.Background()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PracticeHandler{controller: c, base: base, log: log}
}

type throttleRequest struct {
	WindowMS int `json:"window_ms"`
}

func (h *PracticeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r, "/api/practice")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	action := parts[0]
	if action == "state" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, h.controller.State())
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "activate":
		h.activate(w)
	case "deactivate":
		h.controller.Deactivate()
		writeJSON(w, http.StatusOK, h.controller.State())
	case "restart":
		h.controller.Restart()
		writeJSON(w, http.StatusOK, h.controller.State())
	case "throttle":
		h.throttle(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *PracticeHandler) activate(w http.ResponseWriter) {
	_, err := h.controller.Activate(h.base)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.controller.State())
	case errors.Is(err, practice.ErrAlreadyActive):
		writeError(w, http.StatusConflict, "Practice is already active")
	case errors.Is(err, practice.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "Practice controller is closed")
	default:
		h.log.Warn("activate practice", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func (h *PracticeHandler) throttle(w http.ResponseWriter, r *http.Request) {
	var req throttleRequest
	if err := decodeJSON(w, r, 1<<10, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.WindowMS <= 0 {
		writeError(w, http.StatusBadRequest, "window_ms must be positive")
		return
	}
	h.controller.SetThrottleWindow(time.Duration(req.WindowMS) * time.Millisecond)
	writeJSON(w, http.StatusOK, throttleRequest{WindowMS: int(h.controller.ThrottleWindow() / time.Millisecond)})
}

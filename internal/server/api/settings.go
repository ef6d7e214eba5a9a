package api

import (
	"net/http"
	"regexp"

	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/source"
	"github.com/ayusman/mudra/internal/store"
)

var resolutionPattern = regexp.MustCompile(`^\d{2,4}x\d{2,4}$`)

// SettingsHandler serves GET|PUT /api/settings/user/{user}.
type SettingsHandler struct {
	store *store.Store
}

// NewSettingsHandler creates a new SettingsHandler with the given store.
func NewSettingsHandler(s *store.Store) *SettingsHandler {
	return &SettingsHandler{store: s}
}

func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r, "/api/settings")
	if len(parts) != 2 || parts[0] != "user" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, parts[1])
	case http.MethodPut:
		h.put(w, r, parts[1])
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// get returns the user's settings, creating defaults on first read.
func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request, userID string) {
	us, err := h.store.Settings().Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, us)
}

// put merges the request into the stored settings. Zero fields keep their
// current value.
func (h *SettingsHandler) put(w http.ResponseWriter, r *http.Request, userID string) {
	var req store.UserSettings
	if err := decodeJSON(w, r, 1<<16, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	us, err := h.store.Settings().Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get settings")
		return
	}

	if req.PerformanceMode != "" {
		profile, ok := config.Profiles[req.PerformanceMode]
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown performance_mode")
			return
		}
		us.PerformanceMode = req.PerformanceMode
		us.UseServerProcessing = profile.Mode == source.ModeSnapshot
	}
	if req.VideoResolution != "" {
		if !resolutionPattern.MatchString(req.VideoResolution) {
			writeError(w, http.StatusBadRequest, "video_resolution must look like 640x480")
			return
		}
		us.VideoResolution = req.VideoResolution
	}
	if req.FrameRate != 0 {
		if req.FrameRate < 1 || req.FrameRate > 60 {
			writeError(w, http.StatusBadRequest, "frame_rate must be within [1, 60]")
			return
		}
		us.FrameRate = req.FrameRate
	}
	if req.InferenceThrottleMS != 0 {
		if req.InferenceThrottleMS < 0 {
			writeError(w, http.StatusBadRequest, "inference_throttle_ms must be positive")
			return
		}
		us.InferenceThrottleMS = req.InferenceThrottleMS
	}
	if req.MinConfidence != 0 {
		if req.MinConfidence < 0 || req.MinConfidence > 1 {
			writeError(w, http.StatusBadRequest, "min_confidence must be within [0, 1]")
			return
		}
		us.MinConfidence = req.MinConfidence
	}

	if err := h.store.Settings().Put(r.Context(), us); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, us)
}

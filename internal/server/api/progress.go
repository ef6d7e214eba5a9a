package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/telemetry"
)

// ProgressHandler serves lesson progress, practice sessions and stats.
//
//	GET  /api/progress/user/{user}
//	POST /api/progress
//	POST /api/progress/session
//	GET  /api/progress/sessions/{user}?limit=
//	GET  /api/progress/stats/{user}
type ProgressHandler struct {
	store *store.Store
}

// NewProgressHandler creates a new ProgressHandler with the given store.
func NewProgressHandler(s *store.Store) *ProgressHandler {
	return &ProgressHandler{store: s}
}

func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r, "/api/progress")

	if len(parts) == 0 {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.upsert(w, r)
		return
	}

	switch {
	case len(parts) == 1 && parts[0] == "session":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.recordSession(w, r)
	case len(parts) == 2 && parts[0] == "user":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.listProgress(w, r, parts[1])
	case len(parts) == 2 && parts[0] == "sessions":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.listSessions(w, r, parts[1])
	case len(parts) == 2 && parts[0] == "stats":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.stats(w, r, parts[1])
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type listProgressResponse struct {
	Progress []*store.Progress `json:"progress"`
}

type listSessionsResponse struct {
	Sessions []*store.PracticeSession `json:"sessions"`
}

func validStatus(s string) bool {
	switch s {
	case "", store.StatusNotStarted, store.StatusInProgress, store.StatusMastered:
		return true
	}
	return false
}

// upsert handles POST /api/progress. A missing lesson_id is resolved from sign.
func (h *ProgressHandler) upsert(w http.ResponseWriter, r *http.Request) {
	var req telemetry.ProgressPayload
	if err := decodeJSON(w, r, 1<<16, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Attempts < 0 || req.Accuracy < 0 || req.Accuracy > 1 {
		writeError(w, http.StatusBadRequest, "attempts must be >= 0 and accuracy within [0, 1]")
		return
	}
	if !validStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	var (
		lesson *store.Lesson
		err    error
	)
	switch {
	case req.LessonID != "":
		lesson, err = h.store.Lessons().GetByID(r.Context(), req.LessonID)
	case req.Sign != "":
		lesson, err = h.store.Lessons().GetBySign(r.Context(), req.Sign)
	default:
		writeError(w, http.StatusBadRequest, "lesson_id or sign is required")
		return
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Lesson not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get lesson")
		return
	}

	p := &store.Progress{
		UserID:   req.UserID,
		LessonID: lesson.ID,
		Attempts: req.Attempts,
		Accuracy: req.Accuracy,
		Status:   req.Status,
	}
	if err := h.store.Progress().Upsert(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update progress")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// recordSession handles POST /api/progress/session.
func (h *ProgressHandler) recordSession(w http.ResponseWriter, r *http.Request) {
	var req telemetry.SessionPayload
	if err := decodeJSON(w, r, 1<<16, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.UserID == "" || req.SignDetected == "" {
		writeError(w, http.StatusBadRequest, "user_id and sign_detected are required")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		writeError(w, http.StatusBadRequest, "confidence must be within [0, 1]")
		return
	}

	ps := &store.PracticeSession{
		UserID:       req.UserID,
		SignDetected: req.SignDetected,
		Confidence:   req.Confidence,
		IsCorrect:    req.IsCorrect,
	}
	if err := h.store.Sessions().Create(r.Context(), ps); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record session")
		return
	}
	writeJSON(w, http.StatusCreated, ps)
}

// listProgress handles GET /api/progress/user/{user}.
func (h *ProgressHandler) listProgress(w http.ResponseWriter, r *http.Request, userID string) {
	rows, err := h.store.Progress().ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list progress")
		return
	}
	if rows == nil {
		rows = []*store.Progress{}
	}
	writeJSON(w, http.StatusOK, listProgressResponse{Progress: rows})
}

// listSessions handles GET /api/progress/sessions/{user}?limit=.
func (h *ProgressHandler) listSessions(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	sessions, err := h.store.Sessions().ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.PracticeSession{}
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions})
}

// stats handles GET /api/progress/stats/{user}.
func (h *ProgressHandler) stats(w http.ResponseWriter, r *http.Request, userID string) {
	st, err := h.store.Sessions().Stats(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

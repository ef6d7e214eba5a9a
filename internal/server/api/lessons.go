package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ayusman/mudra/internal/store"
)

// LessonHandler handles HTTP requests for lesson resources.
type LessonHandler struct {
	store *store.Store
}

// NewLessonHandler creates a new LessonHandler with the given store.
func NewLessonHandler(s *store.Store) *LessonHandler {
	return &LessonHandler{store: s}
}

// ServeHTTP routes /api/lessons and /api/lessons/{id}.
func (h *LessonHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r, "/api/lessons")

	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, parts[0])
		case http.MethodDelete:
			h.delete(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type createLessonRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Difficulty  string `json:"difficulty"`
	SignName    string `json:"sign_name"`
	VideoURL    string `json:"video_url"`
	OrderIndex  int    `json:"order_index"`
}

type listLessonsResponse struct {
	Lessons []*store.Lesson `json:"lessons"`
}

// list handles GET /api/lessons?category=&skip=&limit=.
func (h *LessonHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.LessonFilter{Category: q.Get("category")}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid skip")
			return
		}
		filter.Offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = n
	}

	lessons, err := h.store.Lessons().List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list lessons")
		return
	}
	if lessons == nil {
		lessons = []*store.Lesson{}
	}
	writeJSON(w, http.StatusOK, listLessonsResponse{Lessons: lessons})
}

// get handles GET /api/lessons/{id}.
func (h *LessonHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	lesson, err := h.store.Lessons().GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Lesson not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get lesson")
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

// create handles POST /api/lessons.
func (h *LessonHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createLessonRequest
	if err := decodeJSON(w, r, 1<<16, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Title == "" || req.SignName == "" {
		writeError(w, http.StatusBadRequest, "Title and sign_name are required")
		return
	}
	if req.Category == "" {
		req.Category = store.CategoryAlphabet
	}

	lesson := &store.Lesson{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Difficulty:  req.Difficulty,
		SignName:    req.SignName,
		VideoURL:    req.VideoURL,
		OrderIndex:  req.OrderIndex,
	}
	if err := h.store.Lessons().Create(r.Context(), lesson); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create lesson")
		return
	}
	writeJSON(w, http.StatusCreated, lesson)
}

// delete handles DELETE /api/lessons/{id}.
func (h *LessonHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Lessons().Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Lesson not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete lesson")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

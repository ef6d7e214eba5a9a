package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestLessonHandler(t *testing.T) {
	s := newTestStore(t)
	handler := NewLessonHandler(s)

	rec := do(handler, http.MethodPost, "/api/lessons", `{"title":"Letter Q","sign_name":"q","order_index":17}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created store.Lesson
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.ID == "" || created.SignName != "Q" || created.Category != store.CategoryAlphabet {
		t.Errorf("unexpected lesson: %+v", created)
	}

	t.Run("get", func(t *testing.T) {
		rec := do(handler, http.MethodGet, "/api/lessons/"+created.ID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}
	})

	t.Run("list by category", func(t *testing.T) {
		rec := do(handler, http.MethodGet, "/api/lessons?category=alphabet", "")
		var resp listLessonsResponse
		json.NewDecoder(rec.Body).Decode(&resp)
		if len(resp.Lessons) != 1 {
			t.Errorf("expected 1 lesson, got %d", len(resp.Lessons))
		}

		rec = do(handler, http.MethodGet, "/api/lessons?category=phrases", "")
		if !strings.Contains(rec.Body.String(), `"lessons":[]`) {
			t.Errorf("expected empty list, got %s", rec.Body.String())
		}
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name, method, path, body string
			want                     int
		}{
			{"invalid json", http.MethodPost, "/api/lessons", `{`, http.StatusBadRequest},
			{"missing sign", http.MethodPost, "/api/lessons", `{"title":"x"}`, http.StatusBadRequest},
			{"bad limit", http.MethodGet, "/api/lessons?limit=0", "", http.StatusBadRequest},
			{"bad skip", http.MethodGet, "/api/lessons?skip=-1", "", http.StatusBadRequest},
			{"unknown id", http.MethodGet, "/api/lessons/missing", "", http.StatusNotFound},
			{"nested path", http.MethodGet, "/api/lessons/a/b", "", http.StatusNotFound},
			{"put not allowed", http.MethodPut, "/api/lessons/" + created.ID, `{}`, http.StatusMethodNotAllowed},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if rec := do(handler, tt.method, tt.path, tt.body); rec.Code != tt.want {
					t.Errorf("expected status %d, got %d", tt.want, rec.Code)
				}
			})
		}
	})

	t.Run("delete", func(t *testing.T) {
		if rec := do(handler, http.MethodDelete, "/api/lessons/"+created.ID, ""); rec.Code != http.StatusNoContent {
			t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
		}
		if rec := do(handler, http.MethodDelete, "/api/lessons/"+created.ID, ""); rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d on second delete, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestProgressHandler(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Lessons().SeedAlphabet(context.Background()); err != nil {
		t.Fatalf("SeedAlphabet() error = %v", err)
	}
	b, err := s.Lessons().GetBySign(context.Background(), "B")
	if err != nil {
		t.Fatalf("GetBySign() error = %v", err)
	}
	handler := NewProgressHandler(s)

	t.Run("mastered stays mastered", func(t *testing.T) {
		rec := do(handler, http.MethodPost, "/api/progress",
			`{"user_id":"u1","lesson_id":"`+b.ID+`","attempts":10,"accuracy":1,"status":"mastered"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
		}

		rec = do(handler, http.MethodPost, "/api/progress",
			`{"user_id":"u1","sign":"B","attempts":12,"accuracy":0.75,"status":"in_progress"}`)
		var p store.Progress
		json.NewDecoder(rec.Body).Decode(&p)
		if p.Status != store.StatusMastered || p.Attempts != 12 {
			t.Errorf("got status %s attempts %d, want mastered 12", p.Status, p.Attempts)
		}

		rec = do(handler, http.MethodGet, "/api/progress/user/u1", "")
		var list listProgressResponse
		json.NewDecoder(rec.Body).Decode(&list)
		if len(list.Progress) != 1 || list.Progress[0].LessonID != b.ID {
			t.Errorf("unexpected progress list: %+v", list.Progress)
		}
	})

	t.Run("sessions with limit", func(t *testing.T) {
		for _, body := range []string{
			`{"user_id":"u2","sign_detected":"A","confidence":0.9,"is_correct":true}`,
			`{"user_id":"u2","sign_detected":"A","confidence":0.9,"is_correct":null}`,
			`{"user_id":"u2","sign_detected":"C","confidence":0.82,"is_correct":false}`,
		} {
			if rec := do(handler, http.MethodPost, "/api/progress/session", body); rec.Code != http.StatusCreated {
				t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
			}
		}

		rec := do(handler, http.MethodGet, "/api/progress/sessions/u2?limit=2", "")
		var list listSessionsResponse
		json.NewDecoder(rec.Body).Decode(&list)
		if len(list.Sessions) != 2 {
			t.Errorf("expected 2 sessions, got %d", len(list.Sessions))
		}

		rec = do(handler, http.MethodGet, "/api/progress/stats/u2", "")
		var st store.Stats
		json.NewDecoder(rec.Body).Decode(&st)
		if st.TotalAttempts != 3 || st.CorrectAttempts != 1 {
			t.Errorf("unexpected stats: %+v", st)
		}
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name, method, path, body string
			want                     int
		}{
			{"no lesson or sign", http.MethodPost, "/api/progress", `{"user_id":"u1","attempts":1,"accuracy":0.5}`, http.StatusBadRequest},
			{"accuracy out of range", http.MethodPost, "/api/progress", `{"user_id":"u1","sign":"A","accuracy":1.5}`, http.StatusBadRequest},
			{"bad status", http.MethodPost, "/api/progress", `{"user_id":"u1","sign":"A","status":"done"}`, http.StatusBadRequest},
			{"unknown sign", http.MethodPost, "/api/progress", `{"user_id":"u1","sign":"HELLO"}`, http.StatusNotFound},
			{"missing user", http.MethodPost, "/api/progress/session", `{"sign_detected":"A","confidence":0.9}`, http.StatusBadRequest},
			{"bad confidence", http.MethodPost, "/api/progress/session", `{"user_id":"u","sign_detected":"A","confidence":2}`, http.StatusBadRequest},
			{"bad limit", http.MethodGet, "/api/progress/sessions/u2?limit=x", "", http.StatusBadRequest},
			{"get on collection", http.MethodGet, "/api/progress", "", http.StatusMethodNotAllowed},
			{"unknown route", http.MethodGet, "/api/progress/other/u1", "", http.StatusNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if rec := do(handler, tt.method, tt.path, tt.body); rec.Code != tt.want {
					t.Errorf("expected status %d, got %d", tt.want, rec.Code)
				}
			})
		}
	})
}

func TestSettingsHandler(t *testing.T) {
	s := newTestStore(t)
	handler := NewSettingsHandler(s)

	rec := do(handler, http.MethodGet, "/api/settings/user/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var us store.UserSettings
	json.NewDecoder(rec.Body).Decode(&us)
	if us.PerformanceMode != "balanced" || us.InferenceThrottleMS != 250 {
		t.Errorf("expected defaults, got %+v", us)
	}

	rec = do(handler, http.MethodPut, "/api/settings/user/u1", `{"performance_mode":"max_performance","frame_rate":15}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	json.NewDecoder(rec.Body).Decode(&us)
	if !us.UseServerProcessing || us.FrameRate != 15 || us.MinConfidence != 0.8 {
		t.Errorf("unexpected merged settings: %+v", us)
	}

	tests := []struct {
		name, body string
	}{
		{"unknown mode", `{"performance_mode":"turbo"}`},
		{"bad resolution", `{"video_resolution":"big"}`},
		{"frame rate", `{"frame_rate":120}`},
		{"confidence", `{"min_confidence":1.2}`},
		{"invalid json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(handler, http.MethodPut, "/api/settings/user/u1", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}
		})
	}

	if rec := do(handler, http.MethodGet, "/api/settings/u1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

type fixedClassifier struct {
	pred classifier.Prediction
	err  error
	got  classifier.Features
}

func (c *fixedClassifier) Classify(ctx context.Context, f classifier.Features) (classifier.Prediction, error) {
	c.got = f
	return c.pred, c.err
}

func TestPredictHandler(t *testing.T) {
	hand := detector.FlatHandLandmarks()
	body, _ := json.Marshal(classifier.PredictRequest{Landmarks: hand.Triples()})

	t.Run("returns prediction", func(t *testing.T) {
		c := &fixedClassifier{pred: classifier.Prediction{Label: "B", Confidence: 0.93, Probabilities: map[string]float64{"B": 0.93}}}
		rec := do(NewPredictHandler(c, nil), http.MethodPost, "/api/predict", string(body))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var p classifier.Prediction
		json.NewDecoder(rec.Body).Decode(&p)
		if p.Label != "B" || p.Confidence != 0.93 {
			t.Errorf("unexpected prediction: %+v", p)
		}
		if c.got != hand.Flatten() {
			t.Error("features were not passed through in landmark order")
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			body string
			want int
		}{
			{"too few landmarks", nil, `{"landmarks":[[0,0,0]]}`, http.StatusBadRequest},
			{"invalid json", nil, `{`, http.StatusBadRequest},
			{"no model", classifier.ErrNoModel, string(body), http.StatusServiceUnavailable},
			{"classifier failure", errors.New("boom"), string(body), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := do(NewPredictHandler(&fixedClassifier{err: tt.err}, nil), http.MethodPost, "/api/predict", tt.body)
				if rec.Code != tt.want {
					t.Errorf("expected status %d, got %d", tt.want, rec.Code)
				}
			})
		}
	})

	if rec := do(NewPredictHandler(&fixedClassifier{}, nil), http.MethodGet, "/api/predict", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestDetectHandler_RejectsBadImages(t *testing.T) {
	handler := NewDetectHandler(detector.NewMockDetector(), nil)

	tests := []struct {
		name, body string
	}{
		{"invalid json", `{`},
		{"empty image", `{"image":""}`},
		{"not base64", `{"image":"data:image/jpeg;base64,@@@"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(handler, http.MethodPost, "/api/hand-detection/detect-hands", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}
		})
	}
}

func TestDetectHandler_Detects(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping gocv image test in short mode")
	}

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()
	jpeg, err := capture.EncodeJPEG(&frame)
	if err != nil {
		t.Fatalf("EncodeJPEG() error = %v", err)
	}
	image := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	mock := detector.NewMockDetector()
	mock.SetHands([]detector.HandLandmarks{detector.FistLandmarks()})
	handler := NewDetectHandler(mock, nil)

	body, _ := json.Marshal(detector.DetectRequest{Image: image, ReturnAnnotatedImage: true})
	rec := do(handler, http.MethodPost, "/api/hand-detection/detect-hands", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var resp detector.DetectResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.HandCount != 1 || len(resp.Hands()) != 1 {
		t.Errorf("expected one complete hand, got %d", resp.HandCount)
	}
	if !strings.HasPrefix(resp.AnnotatedImage, "data:image/jpeg;base64,") {
		t.Errorf("expected annotated data URL, got %.30q", resp.AnnotatedImage)
	}

	t.Run("fatal detector error is unavailable", func(t *testing.T) {
		mock.SetError(detector.ErrRuntime)
		body, _ := json.Marshal(detector.DetectRequest{Image: image})
		if rec := do(handler, http.MethodPost, "/api/hand-detection/detect-hands", string(body)); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
	})
}

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ayusman/mudra/internal/metrics"
	"github.com/ayusman/mudra/internal/store"
)

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", contentType)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}

		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
		if _, exists := response["practice_active"]; exists {
			t.Error("practice_active should be absent without a controller")
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/nonexistent", "/api/lessons", "/api/predict", "/api/practice/state", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	tmpDir := t.TempDir()

	testContent := "<html><body>Practice</body></html>"
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cssContent := "body { color: red; }"
	if err := os.WriteFile(filepath.Join(tmpDir, "style.css"), []byte(cssContent), 0644); err != nil {
		t.Fatalf("failed to create test CSS file: %v", err)
	}

	s := New(Config{StaticDir: tmpDir})

	t.Run("serves index.html at root path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		if rec.Body.String() != testContent {
			t.Errorf("expected body %q, got %q", testContent, rec.Body.String())
		}
	})

	t.Run("serves static files from configured directory", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		if rec.Body.String() != cssContent {
			t.Errorf("expected body %q, got %q", cssContent, rec.Body.String())
		}
	})

	t.Run("returns 404 for non-existent static files", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nonexistent.html", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestServer_Metrics(t *testing.T) {
	metrics.Register(prometheus.DefaultRegisterer)
	s := New(Config{Metrics: true})

	// Drive one request through the instrumented health route first.
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `mudra_http_requests_total{method="GET",path="/api/health",status="200"}`) {
		t.Error("expected request counter for /api/health in metrics output")
	}
}

func TestServer_RateLimit(t *testing.T) {
	s := New(Config{
		Classifier: &stubClassifier{},
		RateLimit:  RateLimit{RequestsPerSecond: 0.001, Burst: 2},
	})

	body := landmarksBody(21)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("expected burst of 2 to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected third request to be limited, got %d", codes[2])
	}

	// Another client has its own budget.
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected other client to pass, got %d", rec.Code)
	}
}

func TestIPRateLimiter_EvictsIdleClients(t *testing.T) {
	l := newIPRateLimiter(1, 1)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	first := l.limiterFor("10.0.0.1")
	now = now.Add(limiterIdleTTL + time.Second)
	l.limiterFor("10.0.0.2")

	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Error("expected idle client to be evicted")
	}
	if l.limiterFor("10.0.0.1") == first {
		t.Error("expected a fresh limiter after eviction")
	}
}

func TestNew(t *testing.T) {
	t.Run("creates server with config", func(t *testing.T) {
		cfg := Config{StaticDir: "/some/path"}
		s := New(cfg)

		if s == nil {
			t.Fatal("expected non-nil server")
		}

		if s.config.StaticDir != cfg.StaticDir {
			t.Errorf("expected StaticDir %s, got %s", cfg.StaticDir, s.config.StaticDir)
		}
		if s.limiter != nil {
			t.Error("expected no limiter without a rate")
		}
	})

	t.Run("server implements http.Handler", func(t *testing.T) {
		s := New(Config{})
		var _ http.Handler = s
	})

	t.Run("shutdown before listen is a no-op", func(t *testing.T) {
		s := New(Config{})
		if err := s.Shutdown(t.Context()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
}

func TestAPI_ProgressWorkflow(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()
	if _, err := st.Lessons().SeedAlphabet(t.Context()); err != nil {
		t.Fatalf("SeedAlphabet() error = %v", err)
	}

	ts := httptest.NewServer(New(Config{Store: st}))
	defer ts.Close()
	client := ts.Client()

	// 1. Lessons are seeded in curriculum order.
	resp, err := client.Get(ts.URL + "/api/lessons?limit=3")
	if err != nil {
		t.Fatalf("GET /api/lessons error = %v", err)
	}
	var listed struct {
		Lessons []struct {
			ID       string `json:"id"`
			SignName string `json:"sign_name"`
		} `json:"lessons"`
	}
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()
	if len(listed.Lessons) != 3 || listed.Lessons[0].SignName != "A" {
		t.Fatalf("unexpected lessons: %+v", listed.Lessons)
	}

	// 2. Record sessions, one correct and one not.
	for _, body := range []string{
		`{"user_id":"u1","sign_detected":"A","confidence":0.91,"is_correct":true}`,
		`{"user_id":"u1","sign_detected":"S","confidence":0.85,"is_correct":false}`,
	} {
		resp, err := client.Post(ts.URL+"/api/progress/session", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("POST session error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("POST session status = %d, want %d", resp.StatusCode, http.StatusCreated)
		}
	}

	// 3. Mark lesson A mastered by sign.
	resp, err = client.Post(ts.URL+"/api/progress", "application/json",
		bytes.NewBufferString(`{"user_id":"u1","sign":"a","attempts":10,"accuracy":1,"status":"mastered"}`))
	if err != nil {
		t.Fatalf("POST progress error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST progress status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// 4. Stats reflect both.
	resp, err = client.Get(ts.URL + "/api/progress/stats/u1")
	if err != nil {
		t.Fatalf("GET stats error = %v", err)
	}
	var stats store.Stats
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()

	if stats.TotalAttempts != 2 || stats.CorrectAttempts != 1 {
		t.Errorf("attempts = %d/%d, want 1/2", stats.CorrectAttempts, stats.TotalAttempts)
	}
	if stats.AccuracyRate != 50 {
		t.Errorf("accuracy rate = %v, want 50", stats.AccuracyRate)
	}
	if stats.LessonsMastered != 1 {
		t.Errorf("lessons mastered = %d, want 1", stats.LessonsMastered)
	}
}

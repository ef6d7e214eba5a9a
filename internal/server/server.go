// Package server provides the HTTP server for the Mudra practice service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/metrics"
	"github.com/ayusman/mudra/internal/practice"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

// RateLimit bounds the detection and prediction endpoints per client IP.
// A zero RequestsPerSecond disables limiting.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// Config holds the server configuration. Routes whose dependency is nil
// are not registered.
type Config struct {
	StaticDir  string
	Store      *store.Store
	Controller *practice.Controller
	Detector   detector.Detector
	Classifier classifier.Classifier
	RateLimit  RateLimit
	Metrics    bool
	Logger     *zap.Logger

	// BaseContext bounds activations started over HTTP. Defaults to
	// context.Background.
	BaseContext context.Context
}

// Server represents the HTTP server for the Mudra application.
type Server struct {
	config  Config
	mux     *http.ServeMux
	start   time.Time
	log     *zap.Logger
	limiter *ipRateLimiter

	mu   sync.Mutex
	http *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.BaseContext == nil {
		config.BaseContext = context.Background()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    config.Logger.Named("server"),
	}
	if config.RateLimit.RequestsPerSecond > 0 {
		s.limiter = newIPRateLimiter(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
	}
	s.setupRoutes()
	return s
}

// handle registers h under pattern with request metrics.
func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, metrics.Middleware(pattern, h))
}

// limited wraps h with the per-IP rate limiter when one is configured.
func (s *Server) limited(h http.Handler) http.Handler {
	if s.limiter == nil {
		return h
	}
	return s.limiter.middleware(s.log, h)
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.handle("/api/health", http.HandlerFunc(s.handleHealth))

	if s.config.Store != nil {
		lessons := api.NewLessonHandler(s.config.Store)
		s.handle("/api/lessons", lessons)
		s.handle("/api/lessons/", lessons)

		progress := api.NewProgressHandler(s.config.Store)
		s.handle("/api/progress", progress)
		s.handle("/api/progress/", progress)

		s.handle("/api/settings/", api.NewSettingsHandler(s.config.Store))
	}

	if s.config.Detector != nil {
		s.handle("/api/hand-detection/detect-hands",
			s.limited(api.NewDetectHandler(s.config.Detector, s.log)))
	}

	if s.config.Classifier != nil {
		s.handle("/api/predict", s.limited(api.NewPredictHandler(s.config.Classifier, s.log)))
	}

	if c := s.config.Controller; c != nil {
		s.handle("/api/practice/stream", NewStreamHandler(c))
		// The upgrade needs the raw writer, so no metrics wrapper here.
		s.mux.Handle("/api/practice/ws", NewStateHandler(c, s.log))
		s.handle("/api/practice/", api.NewPracticeHandler(s.config.BaseContext, c, s.log))
	}

	if s.config.Metrics {
		s.mux.Handle("/metrics", metrics.Handler())
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if c := s.config.Controller; c != nil {
		response["practice_active"] = c.Active()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address and blocks
// until Shutdown is called or the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.log.Info("listening", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

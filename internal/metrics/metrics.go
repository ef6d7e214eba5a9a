// Package metrics holds the Prometheus collectors shared by the practice pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GateDecisions counts inference gate decisions by outcome.
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mudra_gate_decisions_total",
			Help: "Inference gate decisions by outcome",
		},
		[]string{"decision"},
	)

	// ClassifierDuration observes classifier latency.
	ClassifierDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mudra_classifier_duration_seconds",
			Help:    "Duration of classifier invocations",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"result"},
	)

	// AcquisitionErrors counts source failures by kind.
	AcquisitionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mudra_acquisition_errors_total",
			Help: "Landmark source failures",
		},
		[]string{"mode", "kind"},
	)

	// TelemetryErrors counts failed session record and progress update writes.
	TelemetryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mudra_telemetry_errors_total",
			Help: "Failed telemetry writes",
		},
		[]string{"op"},
	)

	// SessionRecords counts session records emitted after dedup.
	SessionRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mudra_session_records_total",
			Help: "Session records emitted after dedup",
		},
	)

	// Completions counts mastered lessons.
	Completions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mudra_mastery_completions_total",
			Help: "Practice runs that reached the mastery goal",
		},
	)

	// RequestCounter counts HTTP requests.
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mudra_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration observes HTTP request latency.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mudra_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "path"},
	)
)

var registerOnce sync.Once

// Register adds every collector to reg. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			GateDecisions,
			ClassifierDuration,
			AcquisitionErrors,
			TelemetryErrors,
			SessionRecords,
			Completions,
			RequestCounter,
			RequestDuration,
		)
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers behind the middleware keep flushing.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request count and latency. path should be the route
// pattern, not the raw URL, to keep label cardinality bounded.
func Middleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		RequestCounter.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Package session forwards confident predictions to a telemetry sink,
// suppressing repeats of a label held steady in front of the camera.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/metrics"
)

// Defaults.
const (
	DefaultDedupWindow   = 3000 * time.Millisecond
	DefaultMinConfidence = 0.8
	DefaultSendTimeout   = 5 * time.Second
)

// ErrTelemetry marks a failed sink write. It is logged and counted, never
// surfaced to the practice loop.
var ErrTelemetry = errors.New("telemetry write failed")

// Correctness is the tri-state outcome of a prediction.
type Correctness int

const (
	// Unknown means there was no target to compare against.
	Unknown Correctness = iota
	Correct
	Incorrect
)

// Judge compares label with target. An empty target yields Unknown.
func Judge(label, target string) Correctness {
	switch {
	case target == "":
		return Unknown
	case strings.EqualFold(label, target):
		return Correct
	default:
		return Incorrect
	}
}

// Bool maps Correct and Incorrect to a pointer and Unknown to nil.
func (c Correctness) Bool() *bool {
	var b bool
	switch c {
	case Correct:
		b = true
	case Incorrect:
		b = false
	default:
		return nil
	}
	return &b
}

func (c Correctness) String() string {
	switch c {
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	default:
		return "unknown"
	}
}

// Record is one emitted session record.
type Record struct {
	ID          string
	UserID      string
	Label       string
	Confidence  float64
	Correctness Correctness
	Timestamp   time.Time
}

// Sink receives session records.
type Sink interface {
	RecordSession(ctx context.Context, r Record) error
}

// Config configures a Recorder.
type Config struct {
	UserID        string
	DedupWindow   time.Duration
	MinConfidence float64
	// SendTimeout bounds each sink write.
	SendTimeout time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
}

// Recorder deduplicates predictions per label and sends them to a sink in
// the background.
type Recorder struct {
	sink   Sink
	config Config
	log    *zap.Logger

	mu          sync.Mutex
	lastEmitted map[string]time.Time
	closed      bool

	wg       sync.WaitGroup
	emitted  atomic.Int64
	failures atomic.Int64
}

// NewRecorder creates a recorder. A nil sink discards records but still
// applies dedup.
func NewRecorder(sink Sink, config Config) *Recorder {
	if config.DedupWindow <= 0 {
		config.DedupWindow = DefaultDedupWindow
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = DefaultMinConfidence
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultSendTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		sink:        sink,
		config:      config,
		log:         log,
		lastEmitted: make(map[string]time.Time),
	}
}

// Record emits a session record for p unless it is below the confidence
// threshold, the error pseudo-label, or a repeat of a label emitted within
// the dedup window. It never blocks on the sink and reports whether a
// record was emitted.
func (r *Recorder) Record(ctx context.Context, p classifier.Prediction, c Correctness) bool {
	if p.Label == "" || p.Label == classifier.ErrorLabel || p.Confidence < r.config.MinConfidence {
		return false
	}

	now := r.config.Now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if last, ok := r.lastEmitted[p.Label]; ok && now.Sub(last) < r.config.DedupWindow {
		r.mu.Unlock()
		return false
	}
	r.lastEmitted[p.Label] = now
	r.wg.Add(1)
	r.mu.Unlock()

	rec := Record{
		ID:          uuid.NewString(),
		UserID:      r.config.UserID,
		Label:       p.Label,
		Confidence:  p.Confidence,
		Correctness: c,
		Timestamp:   now,
	}
	r.emitted.Add(1)
	metrics.SessionRecords.Inc()

	// The write outlives the caller's cancellation but not the timeout.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.SendTimeout)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.send(sendCtx, rec)
	}()
	return true
}

func (r *Recorder) send(ctx context.Context, rec Record) {
	if r.sink == nil {
		return
	}
	if err := r.sink.RecordSession(ctx, rec); err != nil {
		r.failures.Add(1)
		metrics.TelemetryErrors.WithLabelValues("session").Inc()
		r.log.Warn("record session",
			zap.Error(fmt.Errorf("%w: %w", ErrTelemetry, err)),
			zap.String("label", rec.Label),
		)
	}
}

// Emitted returns how many records passed dedup.
func (r *Recorder) Emitted() int64 {
	return r.emitted.Load()
}

// Failures returns how many sink writes failed.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}

// Flush waits for in-flight sink writes.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

// Close stops accepting records and waits for in-flight writes.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.Flush()
}

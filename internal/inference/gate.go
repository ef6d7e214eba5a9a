// Package inference throttles classifier invocations so that at most one
// runs at a time and no two start within the throttle window.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/metrics"
	"github.com/ayusman/mudra/internal/source"
)

// DefaultWindow is the minimum interval between classifier invocations.
const DefaultWindow = 250 * time.Millisecond

// ErrInference wraps classifier failures and panics.
var ErrInference = errors.New("inference failed")

// Decision is what the gate did with a submitted frame.
type Decision int

const (
	// Invoked means the classifier was started for this frame.
	Invoked Decision = iota
	// NoHands means the frame carried no hand. Callers should clear the
	// detected label.
	NoHands
	// DroppedBusy means a previous invocation is still outstanding.
	DroppedBusy
	// DroppedThrottled means the last invocation started less than one
	// window ago.
	DroppedThrottled
)

func (d Decision) String() string {
	switch d {
	case Invoked:
		return "invoked"
	case NoHands:
		return "no_hands"
	case DroppedBusy:
		return "dropped_busy"
	case DroppedThrottled:
		return "dropped_throttled"
	default:
		return "unknown"
	}
}

// Outcome is the result of one classifier invocation. Exactly one of
// Prediction and Err is meaningful.
type Outcome struct {
	Prediction classifier.Prediction
	Err        error
	// Started is when the invocation was admitted.
	Started  time.Time
	Duration time.Duration
}

// Gate admits frames to a classifier.
type Gate struct {
	classifier classifier.Classifier
	log        *zap.Logger
	now        func() time.Time

	mu             sync.Mutex
	window         time.Duration
	busy           bool
	lastInvocation time.Time
	wg             sync.WaitGroup
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// New creates a gate in front of c. A non-positive window uses DefaultWindow.
func New(c classifier.Classifier, window time.Duration, opts ...Option) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	g := &Gate{
		classifier: c,
		window:     window,
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetWindow changes the throttle window for subsequent submissions.
func (g *Gate) SetWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window = d
}

// Window returns the current throttle window.
func (g *Gate) Window() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.window
}

// Busy reports whether an invocation is outstanding.
func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

// Submit decides whether frame reaches the classifier. When it does, the
// first hand is classified on a new goroutine and done is called once with
// the outcome. done is never called for any other decision.
func (g *Gate) Submit(ctx context.Context, frame source.Frame, done func(Outcome)) Decision {
	decision := g.admit(frame)
	metrics.GateDecisions.WithLabelValues(decision.String()).Inc()
	if decision != Invoked {
		return decision
	}

	features := classifier.Features(frame.Hands[0].Flatten())
	g.wg.Add(1)
	go g.invoke(ctx, features, done)
	return Invoked
}

func (g *Gate) admit(frame source.Frame) Decision {
	if frame.Empty() {
		return NoHands
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy {
		return DroppedBusy
	}
	now := g.now()
	if !g.lastInvocation.IsZero() && now.Sub(g.lastInvocation) < g.window {
		return DroppedThrottled
	}
	g.busy = true
	g.lastInvocation = now
	return Invoked
}

func (g *Gate) invoke(ctx context.Context, features classifier.Features, done func(Outcome)) {
	defer g.wg.Done()

	out := Outcome{Started: g.lastStart()}
	start := time.Now()

	func() {
		defer g.release()
		defer func() {
			if r := recover(); r != nil {
				out.Err = fmt.Errorf("%w: classifier panic: %v", ErrInference, r)
			}
		}()

		pred, err := g.classifier.Classify(ctx, features)
		if err != nil {
			out.Err = fmt.Errorf("%w: %w", ErrInference, err)
			return
		}
		out.Prediction = pred
	}()

	out.Duration = time.Since(start)
	result := "ok"
	if out.Err != nil {
		result = "error"
		g.log.Debug("classification failed", zap.Error(out.Err))
	}
	metrics.ClassifierDuration.WithLabelValues(result).Observe(out.Duration.Seconds())

	if done != nil {
		done(out)
	}
}

func (g *Gate) lastStart() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastInvocation
}

func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy = false
}

// Wait blocks until every outstanding invocation has reported.
func (g *Gate) Wait() {
	g.wg.Wait()
}

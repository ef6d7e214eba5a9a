// Package practice wires a landmark source through the inference gate into
// the mastery machine and the session recorder, and owns the lifecycle of
// one practice session.
package practice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/inference"
	"github.com/ayusman/mudra/internal/mastery"
	"github.com/ayusman/mudra/internal/metrics"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/source"
)

var (
	// ErrAlreadyActive is returned by Activate while an activation is live.
	ErrAlreadyActive = errors.New("practice already active")
	// ErrClosed is returned by Activate after Close.
	ErrClosed = errors.New("practice controller closed")
)

// DefaultProgressTimeout bounds the progress update sent on completion.
const DefaultProgressTimeout = 10 * time.Second

// ProgressUpdate is forwarded once per mastery run.
type ProgressUpdate struct {
	UserID          string
	LessonID        string
	Label           string
	Attempts        int
	CorrectAttempts int
	Accuracy        float64
	Status          mastery.Status
	CompletedAt     time.Time
}

// ProgressStore persists lesson progress.
type ProgressStore interface {
	UpdateProgress(ctx context.Context, u ProgressUpdate) error
}

// SourceFactory builds a fresh source for an activation.
type SourceFactory func(mode source.Mode) (source.Source, error)

// Config holds the session and performance settings.
type Config struct {
	Mode     source.Mode
	Target   string
	UserID   string
	LessonID string

	ThrottleWindow  time.Duration
	MinConfidence   float64
	Goal            int
	DedupWindow     time.Duration
	ProgressTimeout time.Duration
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Sources    SourceFactory
	Classifier classifier.Classifier
	// Progress may be nil, in which case completions are only logged.
	Progress ProgressStore
	// Sink may be nil, in which case session records are dropped.
	Sink   session.Sink
	Logger *zap.Logger
	// Clock drives the inference throttle. Defaults to time.Now.
	Clock func() time.Time
}

// Controller runs practice sessions. At most one activation is live at a
// time. All state changes made while active happen on the activation's
// event loop.
type Controller struct {
	config   Config
	deps     Deps
	log      *zap.Logger
	recorder *session.Recorder

	mu       sync.Mutex
	machine  *mastery.Machine
	state    State
	current  *Activation
	reported bool
	closed   bool

	published atomic.Pointer[State]
	preview   atomic.Pointer[[]byte]

	subMu  sync.Mutex
	subs   map[int]chan State
	nextID int

	pending sync.WaitGroup
}

// New creates a controller. Nothing is started until Activate.
func New(config Config, deps Deps) *Controller {
	if config.Mode == "" {
		config.Mode = source.ModeContinuous
	}
	if config.ThrottleWindow <= 0 {
		config.ThrottleWindow = inference.DefaultWindow
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = mastery.DefaultMinConfidence
	}
	if config.ProgressTimeout <= 0 {
		config.ProgressTimeout = DefaultProgressTimeout
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Controller{
		config: config,
		deps:   deps,
		log:    log,
		recorder: session.NewRecorder(deps.Sink, session.Config{
			UserID:        config.UserID,
			DedupWindow:   config.DedupWindow,
			MinConfidence: config.MinConfidence,
			Logger:        log,
		}),
		machine: mastery.New(mastery.Config{
			Target:        config.Target,
			Goal:          config.Goal,
			MinConfidence: config.MinConfidence,
		}),
		subs: make(map[int]chan State),
	}
	c.state = State{
		Mode:    config.Mode,
		Target:  c.machine.Target(),
		Mastery: c.machine.Progress(),
		Status:  c.machine.Status(),
	}
	c.publishLocked()
	return c
}

// Activate starts a fresh source, gate and event loop. A source that
// fails to start is released before the error is returned.
func (c *Controller) Activate(ctx context.Context) (*Activation, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.current != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	src, err := c.deps.Sources(c.config.Mode)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("create %s source: %w", c.config.Mode, err)
	}

	gate := inference.New(c.deps.Classifier, c.config.ThrottleWindow,
		inference.WithClock(c.deps.Clock),
		inference.WithLogger(c.log),
	)
	a := newActivation(ctx, c, src, gate)
	c.current = a
	c.state.ActivationID = a.id
	c.state.Active = true
	c.state.Mode = src.Mode()
	c.state.AcquisitionError = ""
	c.state.Err = nil
	c.publishLocked()
	c.mu.Unlock()

	go a.loop()

	if err := src.Start(a.ctx, a.handler()); err != nil {
		a.Dispose()
		if errors.Is(err, source.ErrStopped) {
			// Deactivated while the camera was opening.
			return nil, err
		}
		c.mu.Lock()
		c.setAcquisitionErrorLocked(err)
		c.publishLocked()
		c.mu.Unlock()
		return nil, err
	}

	a.log.Info("practice activated",
		zap.String("target", c.machine.Target()),
		zap.Duration("throttle", gate.Window()),
	)
	return a, nil
}

// Deactivate disposes the current activation, if any.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	a := c.current
	c.mu.Unlock()
	if a != nil {
		a.Dispose()
	}
}

// Active reports whether an activation is live.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Restart resets mastery progress. Already persisted progress is kept.
func (c *Controller) Restart() {
	c.mu.Lock()
	a := c.current
	c.mu.Unlock()

	if a != nil {
		applied := make(chan struct{})
		if a.enqueue(func() { c.restart(); close(applied) }) {
			select {
			case <-applied:
				return
			case <-a.done:
			}
		}
	}
	c.restart()
}

func (c *Controller) restart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.Restart()
	c.reported = false
	c.state.Mastery = c.machine.Progress()
	c.state.Status = c.machine.Status()
	c.publishLocked()
}

// SetThrottleWindow changes the inference throttle for the current and
// future activations.
func (c *Controller) SetThrottleWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.config.ThrottleWindow = d
	a := c.current
	c.mu.Unlock()
	if a != nil {
		a.gate.SetWindow(d)
	}
}

// ThrottleWindow returns the configured inference throttle.
func (c *Controller) ThrottleWindow() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.ThrottleWindow
}

// State returns the latest published state without blocking on the loop.
func (c *Controller) State() State {
	return *c.published.Load()
}

// Preview returns the latest JPEG preview, or nil.
func (c *Controller) Preview() []byte {
	p := c.preview.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Subscribe returns a channel that receives every published state. Slow
// readers only see the most recent one. Call cancel to unsubscribe.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	ch <- c.State()

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// Flush waits for pending progress updates and session records.
func (c *Controller) Flush() {
	c.pending.Wait()
	c.recorder.Flush()
}

// Close deactivates, waits for telemetry and closes all subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Deactivate()
	c.pending.Wait()
	c.recorder.Close()

	c.subMu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subMu.Unlock()
}

// Recorder exposes the session recorder counters.
func (c *Controller) Recorder() *session.Recorder {
	return c.recorder
}

func (c *Controller) setAcquisitionErrorLocked(err error) {
	c.state.Err = err
	if err == nil {
		c.state.AcquisitionError = ""
		return
	}
	c.state.AcquisitionError = err.Error()
}

// publishLocked stores a copy of the state and fans it out. c.mu must be held.
func (c *Controller) publishLocked() {
	s := c.state
	c.published.Store(&s)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
			// Replace the stale value.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (c *Controller) setPreview(jpeg []byte) {
	if len(jpeg) == 0 {
		return
	}
	c.preview.Store(&jpeg)
}

// reportCompletion forwards one progress update in the background.
func (c *Controller) reportCompletion(ctx context.Context, p mastery.Progress) {
	metrics.Completions.Inc()
	u := ProgressUpdate{
		UserID:          c.config.UserID,
		LessonID:        c.config.LessonID,
		Label:           p.Target,
		Attempts:        p.TotalAttempts,
		CorrectAttempts: p.CorrectAttempts,
		Accuracy:        p.Accuracy(),
		Status:          mastery.Mastered,
		CompletedAt:     time.Now(),
	}
	c.log.Info("lesson mastered",
		zap.String("target", u.Label),
		zap.Int("attempts", u.Attempts),
		zap.Float64("accuracy", u.Accuracy),
	)
	if c.deps.Progress == nil {
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.ProgressTimeout)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		defer cancel()
		if err := c.deps.Progress.UpdateProgress(sendCtx, u); err != nil {
			metrics.TelemetryErrors.WithLabelValues("progress").Inc()
			c.log.Warn("update progress", zap.Error(err), zap.String("lesson", u.LessonID))
		}
	}()
}

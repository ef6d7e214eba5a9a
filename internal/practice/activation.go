package practice

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/inference"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/source"
)

// Activation is one live practice session. Dispose releases everything it
// started.
type Activation struct {
	id   string
	c    *Controller
	src  source.Source
	gate *inference.Gate
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	frames   chan source.Frame
	outcomes chan inference.Outcome
	errs     chan error
	cmds     chan func()
	done     chan struct{}

	disposeOnce sync.Once
}

func newActivation(parent context.Context, c *Controller, src source.Source, gate *inference.Gate) *Activation {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &Activation{
		id:       id,
		c:        c,
		src:      src,
		gate:     gate,
		log:      c.log.With(zap.String("activation", id), zap.String("mode", string(src.Mode()))),
		ctx:      ctx,
		cancel:   cancel,
		frames:   make(chan source.Frame),
		outcomes: make(chan inference.Outcome, 1),
		errs:     make(chan error, 1),
		cmds:     make(chan func(), 4),
		done:     make(chan struct{}),
	}
}

// ID identifies the activation in logs and state.
func (a *Activation) ID() string { return a.id }

// Done is closed once the activation's event loop has exited.
func (a *Activation) Done() <-chan struct{} { return a.done }

// Dispose stops the source, ends the event loop and marks the controller
// inactive. In-flight classifier results are discarded when they arrive.
// Dispose is idempotent and must not be called from a Handler callback.
func (a *Activation) Dispose() {
	a.disposeOnce.Do(func() {
		a.cancel()
		a.src.Stop()
		<-a.done

		c := a.c
		c.mu.Lock()
		if c.current == a {
			c.current = nil
		}
		c.state.Active = false
		c.state.ActivationID = ""
		c.state.DetectedLabel = ""
		c.state.Confidence = 0
		c.state.HandsVisible = 0
		c.publishLocked()
		c.mu.Unlock()

		a.log.Info("practice deactivated")
	})
}

func (a *Activation) handler() source.Handler {
	return source.Handler{
		OnFrame: func(f source.Frame) {
			// The preview path never waits on the loop.
			a.c.setPreview(f.Preview)
			select {
			case a.frames <- f:
			case <-a.ctx.Done():
			}
		},
		OnError: func(err error) {
			select {
			case a.errs <- err:
			case <-a.ctx.Done():
			}
		},
	}
}

// enqueue runs fn on the event loop. It reports false if the loop is gone.
func (a *Activation) enqueue(fn func()) bool {
	select {
	case a.cmds <- fn:
		return true
	case <-a.ctx.Done():
		return false
	}
}

func (a *Activation) deliver(o inference.Outcome) {
	select {
	case a.outcomes <- o:
	case <-a.ctx.Done():
	}
}

func (a *Activation) loop() {
	defer close(a.done)
	for {
		select {
		case <-a.ctx.Done():
			return
		case f := <-a.frames:
			a.onFrame(f)
		case o := <-a.outcomes:
			a.onOutcome(o)
		case err := <-a.errs:
			a.onError(err)
		case fn := <-a.cmds:
			fn()
		}
	}
}

func (a *Activation) alive() bool {
	return a.ctx.Err() == nil
}

func (a *Activation) onFrame(f source.Frame) {
	decision := a.gate.Submit(a.ctx, f, a.deliver)

	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.HandsVisible = handsVisible(len(f.Hands))
	if decision == inference.NoHands {
		c.state.DetectedLabel = ""
		c.state.Confidence = 0
	}
	if c.state.Err != nil && errors.Is(c.state.Err, source.ErrRemoteUnavailable) {
		c.setAcquisitionErrorLocked(nil)
	}
	c.publishLocked()
}

func (a *Activation) onOutcome(o inference.Outcome) {
	if !a.alive() {
		return
	}
	c := a.c

	if o.Err != nil {
		a.log.Debug("inference error", zap.Error(o.Err))
		c.mu.Lock()
		c.state.DetectedLabel = classifier.ErrorLabel
		c.state.Confidence = 0
		c.publishLocked()
		c.mu.Unlock()
		return
	}

	p := o.Prediction

	c.mu.Lock()
	step := c.machine.Observe(p)
	target := c.machine.Target()
	c.state.DetectedLabel = p.Label
	c.state.Confidence = p.Confidence
	c.state.Mastery = step.Progress
	c.state.Status = step.Progress.Status()
	complete := step.Completed && !c.reported
	if complete {
		c.reported = true
	}
	c.publishLocked()
	c.mu.Unlock()

	c.recorder.Record(a.ctx, p, session.Judge(p.Label, target))

	if complete {
		c.reportCompletion(a.ctx, step.Progress)
	}
}

func (a *Activation) onError(err error) {
	c := a.c
	c.mu.Lock()
	c.setAcquisitionErrorLocked(err)
	c.publishLocked()
	c.mu.Unlock()

	if errors.Is(err, source.ErrAcquisitionFailed) {
		a.log.Error("acquisition failed", zap.Error(err))
		// The source has already stopped itself.
		go a.Dispose()
		return
	}
	a.log.Warn("acquisition degraded", zap.Error(err))
}

// Package source produces hand-landmark frames from the camera. Two
// strategies share one interface: Continuous runs an on-device detector
// on every frame, Snapshot posts a still image to a remote detection
// endpoint at a fixed interval.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/detector"
)

var (
	// ErrAcquisitionFailed means the camera or the on-device detector could
	// not be started or crashed. The source has stopped.
	ErrAcquisitionFailed = errors.New("landmark acquisition failed")

	// ErrRemoteUnavailable means the remote detection endpoint failed
	// repeatedly. The source keeps ticking.
	ErrRemoteUnavailable = errors.New("remote hand detection unavailable")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("source already started")

	// ErrStopped is returned when Start is called after Stop.
	ErrStopped = errors.New("source stopped")
)

// Mode selects the acquisition strategy.
type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeSnapshot   Mode = "snapshot"
)

// ParseMode parses a mode name. Empty selects continuous.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeContinuous:
		return ModeContinuous, nil
	case ModeSnapshot:
		return ModeSnapshot, nil
	default:
		return "", fmt.Errorf("unknown acquisition mode %q", s)
	}
}

func (m Mode) String() string { return string(m) }

// Frame is one detection result. Frames are not modified after delivery.
type Frame struct {
	Hands     []detector.HandLandmarks
	Timestamp time.Time
	// Preview is an optional JPEG of the captured image.
	Preview []byte
}

// Empty reports whether no hand was detected.
func (f Frame) Empty() bool {
	return len(f.Hands) == 0
}

// Handler receives source output. Both callbacks are invoked from the
// source's own goroutine and never after Stop returns.
type Handler struct {
	OnFrame func(Frame)
	OnError func(error)
}

// Source is a landmark acquisition strategy.
type Source interface {
	// Start opens the camera and begins delivering frames to h.
	Start(ctx context.Context, h Handler) error
	// Stop halts acquisition and releases the camera. It is idempotent.
	Stop()
	Mode() Mode
}

// lifecycle holds the start/stop bookkeeping shared by both sources.
type lifecycle struct {
	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	// deliverMu serializes callbacks against Stop.
	deliverMu sync.Mutex
	halted    bool
	handler   Handler
}

func (l *lifecycle) begin(ctx context.Context, h Handler) (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil, ErrStopped
	}
	if l.started {
		return nil, ErrAlreadyStarted
	}
	l.started = true
	l.handler = h
	l.done = make(chan struct{})
	ctx, l.cancel = context.WithCancel(ctx)
	return ctx, nil
}

// live reports whether Stop has not run yet. Start checks it once the
// camera is open, since Stop may run while Open is still blocking.
func (l *lifecycle) live() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.stopped
}

// end halts delivery and cancels the loop. It reports whether this call
// performed the stop.
func (l *lifecycle) end() bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.stopped = true
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	l.deliverMu.Lock()
	l.halted = true
	l.deliverMu.Unlock()
	return true
}

// wait blocks until the loop goroutine exits or ctx is done.
func (l *lifecycle) wait(ctx context.Context) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lifecycle) frame(f Frame) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	if l.halted || l.handler.OnFrame == nil {
		return
	}
	l.handler.OnFrame(f)
}

func (l *lifecycle) fail(err error) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	if l.halted || l.handler.OnError == nil {
		return
	}
	l.handler.OnError(err)
}

package inference

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/source"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubClassifier records concurrency and can block or fail on demand.
type stubClassifier struct {
	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	block       chan struct{}
	err         error
	panicWith   any
	label       string
}

func (s *stubClassifier) Classify(ctx context.Context, f classifier.Features) (classifier.Prediction, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if s.block != nil {
		<-s.block
	}
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.err != nil {
		return classifier.Prediction{}, s.err
	}
	label := s.label
	if label == "" {
		label = "B"
	}
	return classifier.Prediction{Label: label, Confidence: 0.95}, nil
}

func handFrame() source.Frame {
	return source.Frame{Hands: []detector.HandLandmarks{detector.FlatHandLandmarks()}}
}

func TestGate_EmptyFrameNeverInvokes(t *testing.T) {
	stub := &stubClassifier{}
	g := New(stub, time.Millisecond)

	for i := 0; i < 50; i++ {
		d := g.Submit(context.Background(), source.Frame{}, func(Outcome) {
			t.Error("done must not be called for an empty frame")
		})
		assert.Equal(t, NoHands, d)
	}
	g.Wait()
	assert.Zero(t, stub.calls.Load())
}

func TestGate_InvocationBound(t *testing.T) {
	tests := []struct {
		name    string
		window  time.Duration
		elapsed time.Duration
		step    time.Duration
	}{
		{name: "default window", window: 250 * time.Millisecond, elapsed: 2 * time.Second, step: 10 * time.Millisecond},
		{name: "slow window", window: time.Second, elapsed: 5 * time.Second, step: 33 * time.Millisecond},
		{name: "frame rate slower than window", window: 100 * time.Millisecond, elapsed: time.Second, step: 150 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			stub := &stubClassifier{}
			g := New(stub, tt.window, WithClock(clock.Now))

			for at := time.Duration(0); at <= tt.elapsed; at += tt.step {
				g.Submit(context.Background(), handFrame(), nil)
				g.Wait()
				clock.Advance(tt.step)
			}

			bound := int64(math.Ceil(float64(tt.elapsed)/float64(tt.window))) + 1
			assert.LessOrEqual(t, stub.calls.Load(), bound)
			assert.Positive(t, stub.calls.Load())
		})
	}
}

func TestGate_NeverTwoOutstanding(t *testing.T) {
	clock := newFakeClock()
	stub := &stubClassifier{block: make(chan struct{})}
	g := New(stub, 250*time.Millisecond, WithClock(clock.Now))

	var outcomes atomic.Int64
	done := func(Outcome) { outcomes.Add(1) }

	require.Equal(t, Invoked, g.Submit(context.Background(), handFrame(), done))
	assert.True(t, g.Busy())

	// Well past the window but the first call has not returned.
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		assert.Equal(t, DroppedBusy, g.Submit(context.Background(), handFrame(), done))
	}

	close(stub.block)
	g.Wait()
	assert.False(t, g.Busy())
	assert.Equal(t, int64(1), outcomes.Load())
	assert.Equal(t, int64(1), stub.maxInFlight.Load())
}

func TestGate_Throttle(t *testing.T) {
	clock := newFakeClock()
	g := New(&stubClassifier{}, 250*time.Millisecond, WithClock(clock.Now))

	require.Equal(t, Invoked, g.Submit(context.Background(), handFrame(), nil))
	g.Wait()

	clock.Advance(249 * time.Millisecond)
	assert.Equal(t, DroppedThrottled, g.Submit(context.Background(), handFrame(), nil))

	clock.Advance(time.Millisecond)
	assert.Equal(t, Invoked, g.Submit(context.Background(), handFrame(), nil))
	g.Wait()

	g.SetWindow(time.Second)
	assert.Equal(t, time.Second, g.Window())
	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, DroppedThrottled, g.Submit(context.Background(), handFrame(), nil))

	g.SetWindow(0)
	assert.Equal(t, time.Second, g.Window(), "non-positive windows are ignored")
}

func TestGate_ErrorsReleaseBusy(t *testing.T) {
	boom := errors.New("model exploded")

	tests := []struct {
		name string
		stub *stubClassifier
		want error
	}{
		{name: "classifier error", stub: &stubClassifier{err: boom}, want: boom},
		{name: "classifier panic", stub: &stubClassifier{panicWith: "index out of range"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			g := New(tt.stub, 250*time.Millisecond, WithClock(clock.Now))

			var got Outcome
			require.Equal(t, Invoked, g.Submit(context.Background(), handFrame(), func(o Outcome) { got = o }))
			g.Wait()

			require.Error(t, got.Err)
			assert.ErrorIs(t, got.Err, ErrInference)
			if tt.want != nil {
				assert.ErrorIs(t, got.Err, tt.want)
			}
			assert.False(t, g.Busy())

			clock.Advance(250 * time.Millisecond)
			assert.Equal(t, Invoked, g.Submit(context.Background(), handFrame(), nil))
			g.Wait()
		})
	}
}

func TestGate_ReportsPrediction(t *testing.T) {
	g := New(&stubClassifier{label: "A"}, 0)

	results := make(chan Outcome, 1)
	require.Equal(t, Invoked, g.Submit(context.Background(), handFrame(), func(o Outcome) { results <- o }))

	select {
	case o := <-results:
		require.NoError(t, o.Err)
		assert.Equal(t, "A", o.Prediction.Label)
		assert.False(t, o.Started.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no outcome reported")
	}
	assert.Equal(t, DefaultWindow, g.Window())
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "dropped_busy", DroppedBusy.String())
	assert.Equal(t, "unknown", Decision(42).String())
}

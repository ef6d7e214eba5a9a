package detector

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a controllable Detector and ImageDetector for tests.
type MockDetector struct {
	mu     sync.Mutex
	hands  []HandLandmarks
	err    error
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	return m.detect()
}

// DetectImage returns the pre-configured hands or error.
func (m *MockDetector) DetectImage(ctx context.Context, jpeg []byte) ([]HandLandmarks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.detect()
}

func (m *MockDetector) detect() ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.hands, nil
}

// Calls returns how many times the detector was invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// FistLandmarks returns a right hand forming ASL "A": fingers curled into
// the palm with the thumb resting upright along the side of the index finger.
func FistLandmarks() HandLandmarks {
	h := HandLandmarks{Handedness: "Right", Score: 0.96}

	h.Points[Wrist] = Point3D{X: 0.50, Y: 0.82, Z: 0.0}

	h.Points[ThumbCMC] = Point3D{X: 0.56, Y: 0.77, Z: -0.01}
	h.Points[ThumbMCP] = Point3D{X: 0.59, Y: 0.69, Z: -0.02}
	h.Points[ThumbIP] = Point3D{X: 0.60, Y: 0.62, Z: -0.03}
	h.Points[ThumbTip] = Point3D{X: 0.60, Y: 0.56, Z: -0.03}

	h.Points[IndexMCP] = Point3D{X: 0.56, Y: 0.64, Z: -0.02}
	h.Points[IndexPIP] = Point3D{X: 0.56, Y: 0.58, Z: -0.06}
	h.Points[IndexDIP] = Point3D{X: 0.54, Y: 0.63, Z: -0.07}
	h.Points[IndexTip] = Point3D{X: 0.53, Y: 0.67, Z: -0.05}

	h.Points[MiddleMCP] = Point3D{X: 0.51, Y: 0.63, Z: -0.02}
	h.Points[MiddlePIP] = Point3D{X: 0.51, Y: 0.57, Z: -0.06}
	h.Points[MiddleDIP] = Point3D{X: 0.49, Y: 0.62, Z: -0.07}
	h.Points[MiddleTip] = Point3D{X: 0.48, Y: 0.66, Z: -0.05}

	h.Points[RingMCP] = Point3D{X: 0.46, Y: 0.64, Z: -0.02}
	h.Points[RingPIP] = Point3D{X: 0.46, Y: 0.59, Z: -0.05}
	h.Points[RingDIP] = Point3D{X: 0.44, Y: 0.63, Z: -0.06}
	h.Points[RingTip] = Point3D{X: 0.44, Y: 0.67, Z: -0.04}

	h.Points[PinkyMCP] = Point3D{X: 0.42, Y: 0.67, Z: -0.02}
	h.Points[PinkyPIP] = Point3D{X: 0.42, Y: 0.62, Z: -0.04}
	h.Points[PinkyDIP] = Point3D{X: 0.40, Y: 0.65, Z: -0.05}
	h.Points[PinkyTip] = Point3D{X: 0.40, Y: 0.69, Z: -0.04}

	return h
}

// FlatHandLandmarks returns a right hand forming ASL "B": four fingers
// extended and together with the thumb folded across the palm.
func FlatHandLandmarks() HandLandmarks {
	h := HandLandmarks{Handedness: "Right", Score: 0.97}

	h.Points[Wrist] = Point3D{X: 0.50, Y: 0.85, Z: 0.0}

	h.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.80, Z: -0.01}
	h.Points[ThumbMCP] = Point3D{X: 0.56, Y: 0.73, Z: -0.03}
	h.Points[ThumbIP] = Point3D{X: 0.52, Y: 0.70, Z: -0.05}
	h.Points[ThumbTip] = Point3D{X: 0.48, Y: 0.70, Z: -0.06}

	h.Points[IndexMCP] = Point3D{X: 0.55, Y: 0.66, Z: 0.0}
	h.Points[IndexPIP] = Point3D{X: 0.55, Y: 0.53, Z: 0.0}
	h.Points[IndexDIP] = Point3D{X: 0.55, Y: 0.45, Z: 0.0}
	h.Points[IndexTip] = Point3D{X: 0.55, Y: 0.38, Z: 0.0}

	h.Points[MiddleMCP] = Point3D{X: 0.51, Y: 0.65, Z: 0.0}
	h.Points[MiddlePIP] = Point3D{X: 0.51, Y: 0.50, Z: 0.0}
	h.Points[MiddleDIP] = Point3D{X: 0.51, Y: 0.41, Z: 0.0}
	h.Points[MiddleTip] = Point3D{X: 0.51, Y: 0.33, Z: 0.0}

	h.Points[RingMCP] = Point3D{X: 0.47, Y: 0.66, Z: 0.0}
	h.Points[RingPIP] = Point3D{X: 0.47, Y: 0.52, Z: 0.0}
	h.Points[RingDIP] = Point3D{X: 0.47, Y: 0.44, Z: 0.0}
	h.Points[RingTip] = Point3D{X: 0.47, Y: 0.37, Z: 0.0}

	h.Points[PinkyMCP] = Point3D{X: 0.43, Y: 0.68, Z: 0.0}
	h.Points[PinkyPIP] = Point3D{X: 0.43, Y: 0.57, Z: 0.0}
	h.Points[PinkyDIP] = Point3D{X: 0.43, Y: 0.50, Z: 0.0}
	h.Points[PinkyTip] = Point3D{X: 0.43, Y: 0.44, Z: 0.0}

	return h
}

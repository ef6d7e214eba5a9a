// Package detector provides hand landmark types and the detectors that produce them.
package detector

import (
	"errors"
	"fmt"
	"math"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21

	// NumFeatures is the length of a flattened landmark set (21 x 3).
	NumFeatures = NumLandmarks * 3
)

// ErrIncompleteHand is returned when a landmark set does not have exactly 21 points.
var ErrIncompleteHand = errors.New("hand must have exactly 21 landmarks")

// Point3D is one normalized landmark. X and Y are in [0,1] image space,
// Z is relative depth as reported by the detector.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks is one fully tracked hand. The fixed-size array means a
// set is either complete or absent, never partial.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness,omitempty"`
	// Score is the detector's confidence that this is a hand, not a
	// classification confidence. Zero when the detector does not report one.
	Score float64 `json:"score"`
}

// FromPoints builds a HandLandmarks from a variable-length slice, rejecting
// anything that is not exactly 21 points.
func FromPoints(points []Point3D) (HandLandmarks, error) {
	var h HandLandmarks
	if len(points) != NumLandmarks {
		return h, fmt.Errorf("%w: got %d", ErrIncompleteHand, len(points))
	}
	copy(h.Points[:], points)
	return h, nil
}

// Flatten returns the 63 classifier features in row-major landmark order.
func (h *HandLandmarks) Flatten() [NumFeatures]float32 {
	var out [NumFeatures]float32
	for i, p := range h.Points {
		out[i*3] = float32(p.X)
		out[i*3+1] = float32(p.Y)
		out[i*3+2] = float32(p.Z)
	}
	return out
}

// Triples returns the landmarks as [x, y, z] rows, the wire shape used by
// the classifier endpoint.
func (h *HandLandmarks) Triples() [][3]float64 {
	out := make([][3]float64, NumLandmarks)
	for i, p := range h.Points {
		out[i] = [3]float64{p.X, p.Y, p.Z}
	}
	return out
}

func distance3D(a, b Point3D) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Normalize returns a copy translated so the wrist is at the origin and
// scaled so the wrist to middle-MCP distance is 1. A degenerate hand
// (zero scale) is only translated.
func (h *HandLandmarks) Normalize() *HandLandmarks {
	if h == nil {
		return nil
	}

	out := &HandLandmarks{Handedness: h.Handedness, Score: h.Score}
	wrist := h.Points[Wrist]
	for i, p := range h.Points {
		out.Points[i] = Point3D{X: p.X - wrist.X, Y: p.Y - wrist.Y, Z: p.Z - wrist.Z}
	}

	scale := distance3D(Point3D{}, out.Points[MiddleMCP])
	if scale < 1e-10 {
		return out
	}
	for i := range out.Points {
		out.Points[i].X /= scale
		out.Points[i].Y /= scale
		out.Points[i].Z /= scale
	}
	return out
}

// HandConnections lists the landmark pairs joined when drawing a hand skeleton.
var HandConnections = [][2]int{
	{Wrist, ThumbCMC}, {ThumbCMC, ThumbMCP}, {ThumbMCP, ThumbIP}, {ThumbIP, ThumbTip},
	{Wrist, IndexMCP}, {IndexMCP, IndexPIP}, {IndexPIP, IndexDIP}, {IndexDIP, IndexTip},
	{IndexMCP, MiddleMCP}, {MiddleMCP, MiddlePIP}, {MiddlePIP, MiddleDIP}, {MiddleDIP, MiddleTip},
	{MiddleMCP, RingMCP}, {RingMCP, RingPIP}, {RingPIP, RingDIP}, {RingDIP, RingTip},
	{RingMCP, PinkyMCP}, {Wrist, PinkyMCP}, {PinkyMCP, PinkyPIP}, {PinkyPIP, PinkyDIP}, {PinkyDIP, PinkyTip},
}

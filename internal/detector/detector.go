package detector

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

// ErrRuntime marks a detector failure that cannot recover without a new
// detector instance (the runtime failed to start or died). Callers treat
// errors wrapping it as fatal.
var ErrRuntime = errors.New("detector runtime failure")

// Detector analyzes video frames on the local machine.
type Detector interface {
	// Detect returns the hands found in frame. An empty slice means no hands.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// ImageDetector detects hands in an encoded still image, usually over the network.
type ImageDetector interface {
	DetectImage(ctx context.Context, jpeg []byte) ([]HandLandmarks, error)
}

// IsFatal reports whether err should stop the acquisition loop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRuntime)
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// ScriptPath overrides the location of mediapipe_service.py.
	ScriptPath string
}

// DefaultConfig returns the detection settings used for live practice.
func DefaultConfig() Config {
	return Config{
		MaxHands:        2,
		MinConfidence:   0.7,
		MinTrackingConf: 0.5,
	}
}

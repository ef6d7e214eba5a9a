package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/metrics"
)

// Snapshot defaults.
const (
	DefaultSnapshotInterval = 2000 * time.Millisecond
	DefaultFailureThreshold = 3
	DefaultRequestTimeout   = 5 * time.Second
)

// SnapshotConfig configures a Snapshot source.
type SnapshotConfig struct {
	Interval time.Duration
	// FailureThreshold is the number of consecutive remote failures that
	// raise ErrRemoteUnavailable. The same number of consecutive capture
	// failures stops the source with ErrAcquisitionFailed.
	FailureThreshold int
	// RequestTimeout bounds each remote detection call.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

func (c SnapshotConfig) withDefaults() SnapshotConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSnapshotInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// errCapture marks failures reading or encoding the local frame, as opposed
// to failures of the remote endpoint.
var errCapture = errors.New("capture still")

// Snapshot captures a still frame every interval and sends it to a remote
// detection endpoint. Ticks that fire while a request is in flight are
// dropped.
type Snapshot struct {
	lifecycle

	camera   capture.Camera
	detector detector.ImageDetector
	config   SnapshotConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewSnapshot creates a snapshot source that owns camera.
func NewSnapshot(camera capture.Camera, det detector.ImageDetector, config SnapshotConfig) *Snapshot {
	config = config.withDefaults()
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Snapshot{
		camera:   camera,
		detector: det,
		config:   config,
		log:      log.With(zap.String("mode", string(ModeSnapshot))),
		now:      time.Now,
	}
}

func (s *Snapshot) Mode() Mode { return ModeSnapshot }

// Start opens the camera and starts the capture ticker.
func (s *Snapshot) Start(ctx context.Context, h Handler) error {
	loopCtx, err := s.begin(ctx, h)
	if err != nil {
		return err
	}
	if err := s.camera.Open(); err != nil {
		s.end()
		close(s.done)
		metrics.AcquisitionErrors.WithLabelValues(string(ModeSnapshot), "camera").Inc()
		return fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}
	if !s.live() {
		s.closeCamera()
		close(s.done)
		return ErrStopped
	}

	go s.run(loopCtx)
	s.log.Debug("snapshot source started", zap.Duration("interval", s.config.Interval))
	return nil
}

// Stop cancels the ticker and any in-flight request and closes the camera.
func (s *Snapshot) Stop() {
	if !s.end() {
		return
	}
	s.closeCamera()
	s.log.Debug("snapshot source stopped")
}

func (s *Snapshot) closeCamera() {
	if err := s.camera.Close(); err != nil {
		s.log.Warn("close camera", zap.Error(err))
	}
}

// Wait blocks until the capture loop has exited.
func (s *Snapshot) Wait(ctx context.Context) error {
	return s.wait(ctx)
}

func (s *Snapshot) run(ctx context.Context) {
	defer close(s.done)
	defer s.closeCamera()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Camera and remote failures are counted separately so a dead camera
	// is never reported as an unreachable endpoint.
	remoteFailures, cameraFailures := 0, 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := s.capture(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, errCapture):
			cameraFailures++
			metrics.AcquisitionErrors.WithLabelValues(string(ModeSnapshot), "camera").Inc()
			s.log.Warn("snapshot capture failed", zap.Error(err), zap.Int("failures", cameraFailures))
			if cameraFailures >= s.config.FailureThreshold {
				s.abort(fmt.Errorf("%w: camera: %v", ErrAcquisitionFailed, err))
				return
			}
		case err != nil:
			cameraFailures = 0
			remoteFailures++
			metrics.AcquisitionErrors.WithLabelValues(string(ModeSnapshot), "remote").Inc()
			s.log.Warn("snapshot detection failed", zap.Error(err), zap.Int("failures", remoteFailures))
			// Raised once per streak.
			if remoteFailures == s.config.FailureThreshold {
				s.fail(fmt.Errorf("%w: %v", ErrRemoteUnavailable, err))
			}
		default:
			cameraFailures, remoteFailures = 0, 0
			s.frame(frame)
		}
	}
}

// abort releases the camera and reports a fatal failure.
func (s *Snapshot) abort(err error) {
	s.log.Error("snapshot acquisition failed", zap.Error(err))
	s.closeCamera()
	s.fail(err)
}

func (s *Snapshot) capture(ctx context.Context) (Frame, error) {
	mat, err := s.camera.ReadFrame()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: read frame: %v", errCapture, err)
	}
	jpeg, err := capture.EncodeJPEG(mat)
	mat.Close()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: encode: %v", errCapture, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	hands, err := s.detector.DetectImage(reqCtx, jpeg)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Hands: hands, Timestamp: s.now(), Preview: jpeg}, nil
}

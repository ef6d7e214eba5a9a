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

// MaxReadFailures is how many consecutive camera read errors the
// continuous loop tolerates before giving up.
const MaxReadFailures = 30

// ContinuousConfig configures a Continuous source.
type ContinuousConfig struct {
	// FPS is the processing rate. Zero uses the camera's rate.
	FPS int
	// Preview attaches a JPEG of every processed frame.
	Preview bool
	Logger  *zap.Logger
}

// Continuous runs the on-device detector on every camera frame.
type Continuous struct {
	lifecycle

	camera   capture.Camera
	detector detector.Detector
	config   ContinuousConfig
	log      *zap.Logger
	now      func() time.Time
}

// NewContinuous creates a continuous source. The source owns both the
// camera and the detector and releases them when it stops.
func NewContinuous(camera capture.Camera, det detector.Detector, config ContinuousConfig) *Continuous {
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Continuous{
		camera:   camera,
		detector: det,
		config:   config,
		log:      log.With(zap.String("mode", string(ModeContinuous))),
		now:      time.Now,
	}
}

func (s *Continuous) Mode() Mode { return ModeContinuous }

// Start opens the camera and launches the frame loop. A camera that cannot
// be opened yields ErrAcquisitionFailed.
func (s *Continuous) Start(ctx context.Context, h Handler) error {
	loopCtx, err := s.begin(ctx, h)
	if err != nil {
		return err
	}

	if s.config.FPS > 0 {
		s.camera.SetFPS(s.config.FPS)
	}
	if err := s.camera.Open(); err != nil {
		s.end()
		s.detector.Close()
		close(s.done)
		metrics.AcquisitionErrors.WithLabelValues(string(ModeContinuous), "camera").Inc()
		return fmt.Errorf("%w: %v", ErrAcquisitionFailed, err)
	}
	if !s.live() {
		s.release()
		close(s.done)
		return ErrStopped
	}

	go s.run(loopCtx)
	s.log.Debug("continuous source started", zap.Int("fps", s.camera.FPS()))
	return nil
}

// Stop halts the loop and closes the camera. No callback runs after Stop
// returns. The loop closes the camera again and the detector as it exits.
func (s *Continuous) Stop() {
	if !s.end() {
		return
	}
	if err := s.camera.Close(); err != nil {
		s.log.Warn("close camera", zap.Error(err))
	}
	s.log.Debug("continuous source stopped")
}

// Wait blocks until the frame loop has exited.
func (s *Continuous) Wait(ctx context.Context) error {
	return s.wait(ctx)
}

func (s *Continuous) run(ctx context.Context) {
	defer close(s.done)
	defer s.release()

	fps := s.camera.FPS()
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	readFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := s.camera.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			readFailures++
			s.log.Debug("read frame", zap.Error(err), zap.Int("failures", readFailures))
			if readFailures >= MaxReadFailures {
				s.abort(fmt.Errorf("%w: camera: %v", ErrAcquisitionFailed, err), "camera")
				return
			}
			continue
		}
		readFailures = 0

		hands, err := s.detector.Detect(frame)

		var preview []byte
		if s.config.Preview {
			if jpeg, encErr := capture.EncodeJPEG(frame); encErr == nil {
				preview = jpeg
			}
		}
		frame.Close()

		if err != nil {
			if detector.IsFatal(err) {
				s.abort(fmt.Errorf("%w: %v", ErrAcquisitionFailed, err), "detector")
				return
			}
			if !errors.Is(err, context.Canceled) {
				s.log.Debug("detect hands", zap.Error(err))
			}
			continue
		}

		s.frame(Frame{Hands: hands, Timestamp: s.now(), Preview: preview})
	}
}

// release closes the camera and the detector. Both closes are idempotent.
func (s *Continuous) release() {
	if err := s.camera.Close(); err != nil {
		s.log.Warn("close camera", zap.Error(err))
	}
	if err := s.detector.Close(); err != nil {
		s.log.Warn("close detector", zap.Error(err))
	}
}

// abort releases the camera and reports a fatal failure.
func (s *Continuous) abort(err error, kind string) {
	metrics.AcquisitionErrors.WithLabelValues(string(ModeContinuous), kind).Inc()
	s.log.Error("continuous acquisition failed", zap.Error(err))
	if cerr := s.camera.Close(); cerr != nil {
		s.log.Warn("close camera", zap.Error(cerr))
	}
	s.fail(err)
}

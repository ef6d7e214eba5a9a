package main

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/practice"
	"github.com/ayusman/mudra/internal/source"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/telemetry"
)

// flags override the loaded configuration when set.
type flags struct {
	config   string
	addr     string
	tray     bool
	mode     string
	target   string
	user     string
	lesson   string
	activate bool
}

func (f flags) apply(cfg *config.Config) error {
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.tray {
		cfg.Server.Tray = true
	}
	if f.mode != "" {
		m, err := source.ParseMode(f.mode)
		if err != nil {
			return err
		}
		cfg.Practice.Mode = string(m)
	}
	if f.target != "" {
		cfg.Practice.Target = strings.ToUpper(strings.TrimSpace(f.target))
	}
	if f.user != "" {
		cfg.Practice.UserID = f.user
	}
	if f.lesson != "" {
		cfg.Practice.LessonID = f.lesson
	}
	return nil
}

// localAddr turns a listen address into one a local client can dial.
func localAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// detectionEndpoint is the remote endpoint used in snapshot mode. Without
// one configured, this service's own detection route is used.
func detectionEndpoint(cfg *config.Config) string {
	if cfg.Detection.Endpoint != "" {
		return cfg.Detection.Endpoint
	}
	return "http://" + localAddr(cfg.Server.Addr) + "/api/hand-detection/detect-hands"
}

func detectorConfig(d config.DetectionConfig) detector.Config {
	return detector.Config{
		MaxHands:        d.MaxHands,
		MinConfidence:   d.MinDetectionConfidence,
		MinTrackingConf: d.MinTrackingConfidence,
		ScriptPath:      d.ScriptPath,
	}
}

// sourceFactory builds a fresh camera-backed source per activation.
func sourceFactory(cfg *config.Config, log *zap.Logger) practice.SourceFactory {
	camOpts := capture.Options{
		DeviceID: cfg.Camera.DeviceID,
		Width:    cfg.Camera.Width,
		Height:   cfg.Camera.Height,
		FPS:      cfg.Camera.FrameRate,
	}
	endpoint := detectionEndpoint(cfg)

	return func(mode source.Mode) (source.Source, error) {
		cam := capture.NewCamera(camOpts)
		switch mode {
		case source.ModeSnapshot:
			remote := detector.NewRemoteClient(endpoint, cfg.Detection.Timeout(), cfg.Detection.ReturnAnnotated)
			return source.NewSnapshot(cam, remote, source.SnapshotConfig{
				Interval:         cfg.Practice.SnapshotInterval(),
				FailureThreshold: cfg.Practice.FailureThreshold,
				RequestTimeout:   cfg.Detection.Timeout(),
				Logger:           log.Named("snapshot"),
			}), nil
		default:
			det, err := detector.NewMediaPipeDetector(detectorConfig(cfg.Detection))
			if err != nil {
				return nil, err
			}
			return source.NewContinuous(cam, det, source.ContinuousConfig{
				FPS:     cfg.Camera.FrameRate,
				Preview: cfg.Practice.Preview,
				Logger:  log.Named("continuous"),
			}), nil
		}
	}
}

// serverDetector returns the detector behind the HTTP detection route, or
// nil when the MediaPipe service cannot be found.
func serverDetector(d config.DetectionConfig, log *zap.Logger) detector.Detector {
	det, err := detector.NewMediaPipeDetector(detectorConfig(d))
	if err != nil {
		log.Warn("hand detection endpoint disabled", zap.Error(err))
		return nil
	}
	return det
}

func buildClassifier(ctx context.Context, c config.ClassifierConfig, st *store.Store, log *zap.Logger) (classifier.Classifier, error) {
	alphabet := classifier.NewAlphabet(c.Alphabet)

	switch c.Kind {
	case config.ClassifierModel:
		m, err := classifier.LoadModel(c.ModelPath, alphabet)
		if err != nil {
			return nil, fmt.Errorf("load classifier model: %w", err)
		}
		log.Info("classifier model loaded", zap.String("path", c.ModelPath), zap.Int("labels", len(m.Labels())))
		return m, nil
	case config.ClassifierRemote:
		return classifier.NewHTTPClient(c.Endpoint, c.Timeout(), alphabet), nil
	default:
		m, err := loadTemplates(ctx, st, alphabet)
		if err != nil {
			return nil, err
		}
		log.Info("template classifier ready", zap.Int("templates", m.Len()))
		return m, nil
	}
}

// loadTemplates fills a matcher from the store. An empty store gets the
// built-in reference poses for A and B.
func loadTemplates(ctx context.Context, st *store.Store, alphabet classifier.Alphabet) (*classifier.TemplateMatcher, error) {
	templates, err := st.Templates().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	if len(templates) == 0 {
		for label, hand := range map[string]detector.HandLandmarks{
			"A": detector.FistLandmarks(),
			"B": detector.FlatHandLandmarks(),
		} {
			t := &store.SignTemplate{Label: label, Points: toStorePoints(hand)}
			if err := st.Templates().Create(ctx, t); err != nil {
				return nil, fmt.Errorf("seed template %s: %w", label, err)
			}
			templates = append(templates, t)
		}
	}

	m := classifier.NewTemplateMatcher(alphabet)
	for _, t := range templates {
		pts := make([]detector.Point3D, len(t.Points))
		for i, p := range t.Points {
			pts[i] = detector.Point3D{X: p.X, Y: p.Y, Z: p.Z}
		}
		hand, err := detector.FromPoints(pts)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", t.ID, err)
		}
		m.Add(t.ID, t.Label, hand)
	}
	return m, nil
}

func toStorePoints(h detector.HandLandmarks) []store.Point {
	pts := make([]store.Point, len(h.Points))
	for i, p := range h.Points {
		pts[i] = store.Point{X: p.X, Y: p.Y, Z: p.Z}
	}
	return pts
}

// buildSinks assembles the configured telemetry sinks. A Redis sink that
// cannot connect is skipped with a warning.
func buildSinks(ctx context.Context, t config.TelemetryConfig, st *store.Store, log *zap.Logger) (telemetry.MultiSink, func()) {
	var sinks telemetry.MultiSink
	closeFn := func() {}

	if t.Store {
		sinks = append(sinks, telemetry.NewStoreSink(st))
	}
	if t.ProgressEndpoint != "" {
		sinks = append(sinks, telemetry.NewHTTPSink(t.ProgressEndpoint, 0))
	}
	if t.Redis.Addr != "" {
		sink, client, err := telemetry.NewRedisSink(ctx, telemetry.RedisOptions{
			Addr:     t.Redis.Addr,
			Password: t.Redis.Password,
			DB:       t.Redis.DB,
			Stream:   t.Redis.Stream,
		})
		if err != nil {
			log.Warn("redis telemetry disabled", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
			closeFn = func() { client.Close() }
		}
	}
	return sinks, closeFn
}

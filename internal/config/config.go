// Package config loads service settings from a YAML file and MUDRA_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/source"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Camera     CameraConfig     `mapstructure:"camera"`
	Practice   PracticeConfig   `mapstructure:"practice"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Tray bool   `mapstructure:"tray"`
}

type DatabaseConfig struct {
	// Path of the SQLite file. Empty uses ~/.mudra/mudra.db.
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type CameraConfig struct {
	DeviceID  int `mapstructure:"device_id"`
	Width     int `mapstructure:"width"`
	Height    int `mapstructure:"height"`
	FrameRate int `mapstructure:"frame_rate"`
}

type PracticeConfig struct {
	// Profile fills in mode, throttle and camera settings left unset.
	Profile  string `mapstructure:"profile"`
	Mode     string `mapstructure:"mode"`
	Target   string `mapstructure:"target"`
	UserID   string `mapstructure:"user_id"`
	LessonID string `mapstructure:"lesson_id"`

	ThrottleWindowMS   int     `mapstructure:"throttle_window_ms"`
	MinConfidence      float64 `mapstructure:"min_confidence"`
	DedupWindowMS      int     `mapstructure:"dedup_window_ms"`
	Goal               int     `mapstructure:"goal"`
	SnapshotIntervalMS int     `mapstructure:"snapshot_interval_ms"`
	FailureThreshold   int     `mapstructure:"failure_threshold"`
	Preview            bool    `mapstructure:"preview"`
}

type DetectionConfig struct {
	// Endpoint is the remote detection URL used in snapshot mode.
	Endpoint               string  `mapstructure:"endpoint"`
	ReturnAnnotated        bool    `mapstructure:"return_annotated"`
	TimeoutMS              int     `mapstructure:"timeout_ms"`
	MaxHands               int     `mapstructure:"max_hands"`
	MinDetectionConfidence float64 `mapstructure:"min_detection_confidence"`
	MinTrackingConfidence  float64 `mapstructure:"min_tracking_confidence"`
	ScriptPath             string  `mapstructure:"script_path"`
}

// Classifier kinds.
const (
	ClassifierModel     = "model"
	ClassifierRemote    = "remote"
	ClassifierTemplates = "templates"
)

type ClassifierConfig struct {
	Kind      string `mapstructure:"kind"`
	ModelPath string `mapstructure:"model_path"`
	Endpoint  string `mapstructure:"endpoint"`
	Alphabet  string `mapstructure:"alphabet"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

type TelemetryConfig struct {
	// Store writes sessions and progress to the local database.
	Store bool `mapstructure:"store"`
	// ProgressEndpoint is the base URL of a remote progress API.
	ProgressEndpoint string      `mapstructure:"progress_endpoint"`
	Redis            RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ThrottleWindow returns the inference throttle as a duration.
func (p PracticeConfig) ThrottleWindow() time.Duration {
	return time.Duration(p.ThrottleWindowMS) * time.Millisecond
}

// DedupWindow returns the session dedup window as a duration.
func (p PracticeConfig) DedupWindow() time.Duration {
	return time.Duration(p.DedupWindowMS) * time.Millisecond
}

// SnapshotInterval returns the snapshot capture period as a duration.
func (p PracticeConfig) SnapshotInterval() time.Duration {
	return time.Duration(p.SnapshotIntervalMS) * time.Millisecond
}

// AcquisitionMode parses Mode.
func (p PracticeConfig) AcquisitionMode() source.Mode {
	m, err := source.ParseMode(p.Mode)
	if err != nil {
		return source.ModeContinuous
	}
	return m
}

// Timeout returns the detection request timeout.
func (d DetectionConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// Timeout returns the remote classifier timeout.
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Loader reads configuration and can watch the file for changes.
type Loader struct {
	v   *viper.Viper
	log *zap.Logger
}

// NewLoader creates a loader for the YAML file at path. An empty path
// reads defaults and environment only.
func NewLoader(path string, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MUDRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// Profile-controlled keys have no default, so they need explicit binding.
	for _, key := range []string{
		"practice.mode",
		"practice.throttle_window_ms",
		"practice.snapshot_interval_ms",
		"camera.width",
		"camera.height",
		"camera.frame_rate",
	} {
		v.BindEnv(key)
	}
	return &Loader{v: v, log: log}
}

// Load is shorthand for NewLoader(path, nil).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path, nil).Load()
}

// Load reads the file, if any, and returns a validated configuration.
func (l *Loader) Load() (*Config, error) {
	if l.v.ConfigFileUsed() != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return l.decode()
}

// Watch calls onChange with every valid configuration written to the file.
// Invalid edits are logged and ignored.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.log.Error("reload config", zap.String("file", e.Name), zap.Error(err))
			return
		}
		l.log.Info("config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.ApplyProfile(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8765")
	v.SetDefault("server.tray", false)

	v.SetDefault("database.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("camera.device_id", 0)

	v.SetDefault("practice.profile", ProfileBalanced)
	v.SetDefault("practice.target", "")
	v.SetDefault("practice.user_id", "local")
	v.SetDefault("practice.lesson_id", "")
	v.SetDefault("practice.min_confidence", 0.8)
	v.SetDefault("practice.dedup_window_ms", 3000)
	v.SetDefault("practice.goal", 10)
	v.SetDefault("practice.failure_threshold", 3)
	v.SetDefault("practice.preview", true)

	v.SetDefault("detection.endpoint", "")
	v.SetDefault("detection.return_annotated", false)
	v.SetDefault("detection.timeout_ms", 5000)
	v.SetDefault("detection.max_hands", 2)
	v.SetDefault("detection.min_detection_confidence", 0.7)
	v.SetDefault("detection.min_tracking_confidence", 0.5)
	v.SetDefault("detection.script_path", "")

	v.SetDefault("classifier.kind", ClassifierTemplates)
	v.SetDefault("classifier.model_path", "")
	v.SetDefault("classifier.endpoint", "")
	v.SetDefault("classifier.alphabet", "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	v.SetDefault("classifier.timeout_ms", 3000)

	v.SetDefault("telemetry.store", true)
	v.SetDefault("telemetry.progress_endpoint", "")
	v.SetDefault("telemetry.redis.addr", "")
	v.SetDefault("telemetry.redis.password", "")
	v.SetDefault("telemetry.redis.db", 0)
	v.SetDefault("telemetry.redis.stream", "mudra:sessions")

	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)
}

// ApplyProfile fills mode, throttle, snapshot interval and camera settings
// that were not set explicitly.
func (c *Config) ApplyProfile() error {
	p, ok := Profiles[c.Practice.Profile]
	if !ok {
		return fmt.Errorf("unknown performance profile %q", c.Practice.Profile)
	}
	if c.Practice.Mode == "" {
		c.Practice.Mode = string(p.Mode)
	}
	if c.Practice.ThrottleWindowMS <= 0 {
		c.Practice.ThrottleWindowMS = int(p.ThrottleWindow / time.Millisecond)
	}
	if c.Practice.SnapshotIntervalMS <= 0 {
		c.Practice.SnapshotIntervalMS = int(p.SnapshotInterval / time.Millisecond)
	}
	if c.Camera.Width <= 0 {
		c.Camera.Width = p.Width
	}
	if c.Camera.Height <= 0 {
		c.Camera.Height = p.Height
	}
	if c.Camera.FrameRate <= 0 {
		c.Camera.FrameRate = p.FrameRate
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := source.ParseMode(c.Practice.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Practice.MinConfidence <= 0 || c.Practice.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("practice.min_confidence must be in (0, 1], got %v", c.Practice.MinConfidence))
	}
	if c.Practice.Goal <= 0 {
		errs = append(errs, fmt.Errorf("practice.goal must be positive, got %d", c.Practice.Goal))
	}
	if c.Practice.DedupWindowMS <= 0 {
		errs = append(errs, fmt.Errorf("practice.dedup_window_ms must be positive, got %d", c.Practice.DedupWindowMS))
	}
	switch c.Classifier.Kind {
	case ClassifierModel:
		if c.Classifier.ModelPath == "" {
			errs = append(errs, errors.New("classifier.model_path is required for the model classifier"))
		}
	case ClassifierRemote:
		if c.Classifier.Endpoint == "" {
			errs = append(errs, errors.New("classifier.endpoint is required for the remote classifier"))
		}
	case ClassifierTemplates:
	default:
		errs = append(errs, fmt.Errorf("unknown classifier kind %q", c.Classifier.Kind))
	}
	if c.Classifier.Alphabet == "" {
		errs = append(errs, errors.New("classifier.alphabet must not be empty"))
	}
	return errors.Join(errs...)
}

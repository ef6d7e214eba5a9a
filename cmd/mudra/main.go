package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/metrics"
	"github.com/ayusman/mudra/internal/practice"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tray"
)

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to a YAML config file")
	flag.StringVar(&f.addr, "addr", "", "HTTP listen address")
	flag.BoolVar(&f.tray, "tray", false, "show the system tray menu")
	flag.StringVar(&f.mode, "mode", "", "acquisition mode: continuous or snapshot")
	flag.StringVar(&f.target, "target", "", "sign to practice, e.g. A")
	flag.StringVar(&f.user, "user", "", "user id for telemetry")
	flag.StringVar(&f.lesson, "lesson", "", "lesson id for progress updates")
	flag.BoolVar(&f.activate, "activate", false, "start practicing immediately")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintln(os.Stderr, "mudra:", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, err := config.Load(f.config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := f.apply(cfg); err != nil {
		return err
	}

	log, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath, err := databasePath(cfg.Database.Path)
	if err != nil {
		return err
	}
	st, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if n, err := st.Lessons().SeedAlphabet(ctx); err != nil {
		return fmt.Errorf("seed lessons: %w", err)
	} else if n > 0 {
		log.Info("seeded alphabet lessons", zap.Int("created", n))
	}

	clf, err := buildClassifier(ctx, cfg.Classifier, st, log)
	if err != nil {
		return err
	}

	sinks, closeSinks := buildSinks(ctx, cfg.Telemetry, st, log)
	defer closeSinks()

	controller := practice.New(practice.Config{
		Mode:           cfg.Practice.AcquisitionMode(),
		Target:         cfg.Practice.Target,
		UserID:         cfg.Practice.UserID,
		LessonID:       cfg.Practice.LessonID,
		ThrottleWindow: cfg.Practice.ThrottleWindow(),
		MinConfidence:  cfg.Practice.MinConfidence,
		Goal:           cfg.Practice.Goal,
		DedupWindow:    cfg.Practice.DedupWindow(),
	}, practice.Deps{
		Sources:    sourceFactory(cfg, log),
		Classifier: clf,
		Progress:   sinks,
		Sink:       sinks,
		Logger:     log.Named("practice"),
	})
	defer controller.Close()

	// Only the throttle is applied live; everything else needs a restart.
	config.NewLoader(f.config, log.Named("config")).Watch(func(next *config.Config) {
		controller.SetThrottleWindow(next.Practice.ThrottleWindow())
	})

	srv := server.New(server.Config{
		StaticDir:  findWebDir(),
		Store:      st,
		Controller: controller,
		Detector:   serverDetector(cfg.Detection, log),
		Classifier: clf,
		RateLimit: server.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		Metrics:     true,
		Logger:      log,
		BaseContext: ctx,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(cfg.Server.Addr) }()

	if f.activate {
		if _, err := controller.Activate(ctx); err != nil {
			log.Warn("initial activation failed", zap.Error(err))
		}
	}

	if cfg.Server.Tray {
		// The tray owns the main goroutine until quit or a signal.
		t := newTray(ctx, stop, controller, "http://"+localAddr(cfg.Server.Addr), log)
		go func() {
			<-ctx.Done()
			t.Quit()
		}()
		t.Run()
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	return nil
}

// newTray builds the tray menu and mirrors controller state into it.
func newTray(ctx context.Context, quit context.CancelFunc, c *practice.Controller, url string, log *zap.Logger) *tray.Tray {
	t := tray.New()
	t.OnToggle(func(active bool) {
		if !active {
			c.Deactivate()
			return
		}
		if _, err := c.Activate(ctx); err != nil {
			log.Warn("activate from tray", zap.Error(err))
		}
	})
	t.OnRestart(c.Restart)
	t.OnOpen(func() {
		if err := openBrowser(url); err != nil {
			log.Warn("open browser", zap.Error(err))
		}
	})
	t.OnQuit(quit)

	states, _ := c.Subscribe()
	go t.Watch(states)
	return t
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

// databasePath resolves the SQLite location, defaulting to ~/.mudra/mudra.db.
func databasePath(path string) (string, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".mudra", "mudra.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return path, nil
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.mudra/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".mudra", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

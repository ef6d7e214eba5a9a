package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UserSettings holds a user's performance preferences.
type UserSettings struct {
	UserID              string    `json:"user_id"`
	PerformanceMode     string    `json:"performance_mode"`
	VideoResolution     string    `json:"video_resolution"`
	FrameRate           int       `json:"frame_rate"`
	InferenceThrottleMS int       `json:"inference_throttle_ms"`
	MinConfidence       float64   `json:"min_confidence"`
	UseServerProcessing bool      `json:"use_server_processing"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DefaultSettings returns the settings created on first read.
func DefaultSettings(userID string) *UserSettings {
	return &UserSettings{
		UserID:              userID,
		PerformanceMode:     "balanced",
		VideoResolution:     "640x480",
		FrameRate:           30,
		InferenceThrottleMS: 250,
		MinConfidence:       0.8,
	}
}

// SettingsRepository stores user settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the user's settings, storing the defaults if none exist.
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*UserSettings, error) {
	us, err := r.get(ctx, userID)
	if !errors.Is(err, ErrNotFound) {
		return us, err
	}

	us = DefaultSettings(userID)
	if err := r.Put(ctx, us); err != nil {
		return nil, err
	}
	return us, nil
}

func (r *SettingsRepository) get(ctx context.Context, userID string) (*UserSettings, error) {
	us := &UserSettings{}
	var server int
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, performance_mode, video_resolution, frame_rate, inference_throttle_ms,
			min_confidence, use_server_processing, updated_at
		 FROM user_settings WHERE user_id = ?`,
		userID,
	).Scan(&us.UserID, &us.PerformanceMode, &us.VideoResolution, &us.FrameRate,
		&us.InferenceThrottleMS, &us.MinConfidence, &server, &us.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	us.UseServerProcessing = server == 1
	return us, nil
}

// Put creates or replaces the user's settings.
func (r *SettingsRepository) Put(ctx context.Context, us *UserSettings) error {
	us.UpdatedAt = time.Now()
	server := 0
	if us.UseServerProcessing {
		server = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, performance_mode, video_resolution, frame_rate,
			inference_throttle_ms, min_confidence, use_server_processing, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			performance_mode = excluded.performance_mode,
			video_resolution = excluded.video_resolution,
			frame_rate = excluded.frame_rate,
			inference_throttle_ms = excluded.inference_throttle_ms,
			min_confidence = excluded.min_confidence,
			use_server_processing = excluded.use_server_processing,
			updated_at = excluded.updated_at`,
		us.UserID, us.PerformanceMode, us.VideoResolution, us.FrameRate,
		us.InferenceThrottleMS, us.MinConfidence, server, us.UpdatedAt,
	)
	return err
}

package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Lessons table - one sign per lesson
		`CREATE TABLE IF NOT EXISTS lessons (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL DEFAULT 'beginner',
			sign_name TEXT NOT NULL,
			video_url TEXT NOT NULL DEFAULT '',
			order_index INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// User progress table - one row per user and lesson
		`CREATE TABLE IF NOT EXISTS user_progress (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			lesson_id TEXT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
			attempts INTEGER NOT NULL DEFAULT 0,
			accuracy REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'in_progress'
				CHECK(status IN ('not_started', 'in_progress', 'mastered')),
			last_practiced DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE(user_id, lesson_id)
		)`,

		// Practice sessions table - deduplicated detections
		`CREATE TABLE IF NOT EXISTS practice_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			sign_detected TEXT NOT NULL,
			confidence REAL NOT NULL,
			is_correct INTEGER CHECK(is_correct IN (0, 1)),
			timestamp DATETIME NOT NULL
		)`,

		// User settings table - performance preferences
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id TEXT PRIMARY KEY,
			performance_mode TEXT NOT NULL,
			video_resolution TEXT NOT NULL,
			frame_rate INTEGER NOT NULL,
			inference_throttle_ms INTEGER NOT NULL,
			min_confidence REAL NOT NULL,
			use_server_processing INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,

		// Sign templates table - reference hand poses for the template classifier
		`CREATE TABLE IF NOT EXISTS sign_templates (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_lessons_sign_name ON lessons(sign_name)`,
		`CREATE INDEX IF NOT EXISTS idx_user_progress_user_id ON user_progress(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_practice_sessions_user_ts ON practice_sessions(user_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_sign_templates_label ON sign_templates(label)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}

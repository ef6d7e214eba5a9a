package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Progress statuses. Mastered is sticky across upserts.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusMastered   = "mastered"
)

// Progress is a user's record for one lesson.
type Progress struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	LessonID      string    `json:"lesson_id"`
	Attempts      int       `json:"attempts"`
	Accuracy      float64   `json:"accuracy"`
	Status        string    `json:"status"`
	LastPracticed time.Time `json:"last_practiced"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProgressRepository stores per-lesson progress.
type ProgressRepository struct {
	db *sql.DB
}

// Progress returns the progress repository for this store.
func (s *Store) Progress() *ProgressRepository {
	return &ProgressRepository{db: s.db}
}

const progressColumns = `id, user_id, lesson_id, attempts, accuracy, status, last_practiced, created_at`

func scanProgress(row interface{ Scan(...any) error }) (*Progress, error) {
	p := &Progress{}
	err := row.Scan(&p.ID, &p.UserID, &p.LessonID, &p.Attempts, &p.Accuracy, &p.Status, &p.LastPracticed, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Upsert creates or updates the row for (UserID, LessonID) and fills p with
// the stored values. A lesson already mastered stays mastered.
func (r *ProgressRepository) Upsert(ctx context.Context, p *Progress) error {
	if p.Status == "" {
		p.Status = StatusInProgress
	}
	now := time.Now()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_progress (user_id, lesson_id, attempts, accuracy, status, last_practiced, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, lesson_id) DO UPDATE SET
			attempts = excluded.attempts,
			accuracy = excluded.accuracy,
			status = CASE WHEN user_progress.status = 'mastered' THEN 'mastered' ELSE excluded.status END,
			last_practiced = excluded.last_practiced`,
		p.UserID, p.LessonID, p.Attempts, p.Accuracy, p.Status, now, now,
	)
	if err != nil {
		return err
	}

	stored, err := r.Get(ctx, p.UserID, p.LessonID)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

// Get retrieves the row for a user and lesson.
func (r *ProgressRepository) Get(ctx context.Context, userID, lessonID string) (*Progress, error) {
	p, err := scanProgress(r.db.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM user_progress WHERE user_id = ? AND lesson_id = ?`,
		userID, lessonID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListByUser returns every progress row for a user, most recent first.
func (r *ProgressRepository) ListByUser(ctx context.Context, userID string) ([]*Progress, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+progressColumns+` FROM user_progress WHERE user_id = ? ORDER BY last_practiced DESC, id DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PracticeSession is one recorded detection. IsCorrect is nil when there
// was no target to compare against.
type PracticeSession struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SignDetected string    `json:"sign_detected"`
	Confidence   float64   `json:"confidence"`
	IsCorrect    *bool     `json:"is_correct"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stats aggregates a user's practice history.
type Stats struct {
	UserID            string  `json:"user_id"`
	TotalAttempts     int     `json:"total_attempts"`
	CorrectAttempts   int     `json:"correct_attempts"`
	AccuracyRate      float64 `json:"accuracy_rate"`
	AvgLessonAccuracy float64 `json:"avg_lesson_accuracy"`
	LessonsPracticed  int     `json:"lessons_practiced"`
	LessonsMastered   int     `json:"lessons_mastered"`
}

// SessionRepository stores practice sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a session. Empty ID and zero Timestamp are filled in.
func (r *SessionRepository) Create(ctx context.Context, ps *PracticeSession) error {
	if ps.ID == "" {
		ps.ID = uuid.NewString()
	}
	if ps.Timestamp.IsZero() {
		ps.Timestamp = time.Now()
	}

	var correct sql.NullInt64
	if ps.IsCorrect != nil {
		correct.Valid = true
		if *ps.IsCorrect {
			correct.Int64 = 1
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO practice_sessions (id, user_id, sign_detected, confidence, is_correct, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ps.ID, ps.UserID, ps.SignDetected, ps.Confidence, correct, ps.Timestamp,
	)
	return err
}

// ListByUser returns up to limit sessions, newest first. A non-positive
// limit means 50.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*PracticeSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, sign_detected, confidence, is_correct, timestamp
		 FROM practice_sessions WHERE user_id = ?
		 ORDER BY timestamp DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PracticeSession
	for rows.Next() {
		ps := &PracticeSession{}
		var correct sql.NullInt64
		if err := rows.Scan(&ps.ID, &ps.UserID, &ps.SignDetected, &ps.Confidence, &correct, &ps.Timestamp); err != nil {
			return nil, err
		}
		if correct.Valid {
			b := correct.Int64 == 1
			ps.IsCorrect = &b
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// Stats aggregates sessions and progress for a user. AccuracyRate is a
// percentage of sessions marked correct.
func (r *SessionRepository) Stats(ctx context.Context, userID string) (*Stats, error) {
	st := &Stats{UserID: userID}

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_correct = 1 THEN 1 ELSE 0 END), 0)
		 FROM practice_sessions WHERE user_id = ?`,
		userID,
	).Scan(&st.TotalAttempts, &st.CorrectAttempts)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(accuracy), 0),
			COALESCE(SUM(CASE WHEN status = 'mastered' THEN 1 ELSE 0 END), 0)
		 FROM user_progress WHERE user_id = ?`,
		userID,
	).Scan(&st.LessonsPracticed, &st.AvgLessonAccuracy, &st.LessonsMastered)
	if err != nil {
		return nil, err
	}

	if st.TotalAttempts > 0 {
		st.AccuracyRate = float64(st.CorrectAttempts) / float64(st.TotalAttempts) * 100
	}
	return st, nil
}

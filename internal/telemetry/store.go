package telemetry

import (
	"context"
	"fmt"

	"github.com/ayusman/mudra/internal/practice"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
)

// StoreSink writes to the local SQLite store.
type StoreSink struct {
	store *store.Store
}

// NewStoreSink creates a sink backed by s.
func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) RecordSession(ctx context.Context, r session.Record) error {
	return s.store.Sessions().Create(ctx, &store.PracticeSession{
		ID:           r.ID,
		UserID:       r.UserID,
		SignDetected: r.Label,
		Confidence:   r.Confidence,
		IsCorrect:    r.Correctness.Bool(),
		Timestamp:    r.Timestamp,
	})
}

// UpdateProgress upserts the lesson row. Without a lesson id the lesson is
// looked up by the practiced sign.
func (s *StoreSink) UpdateProgress(ctx context.Context, u practice.ProgressUpdate) error {
	lessonID := u.LessonID
	if lessonID == "" {
		lesson, err := s.store.Lessons().GetBySign(ctx, u.Label)
		if err != nil {
			return fmt.Errorf("lesson for sign %q: %w", u.Label, err)
		}
		lessonID = lesson.ID
	}

	return s.store.Progress().Upsert(ctx, &store.Progress{
		UserID:   u.UserID,
		LessonID: lessonID,
		Attempts: u.Attempts,
		Accuracy: u.Accuracy,
		Status:   string(u.Status),
	})
}

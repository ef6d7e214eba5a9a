package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/mastery"
	"github.com/ayusman/mudra/internal/practice"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSink(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Lessons().SeedAlphabet(ctx)
	require.NoError(t, err)
	sink := NewStoreSink(s)

	t.Run("records sessions with tri-state correctness", func(t *testing.T) {
		for _, c := range []session.Correctness{session.Correct, session.Incorrect, session.Unknown} {
			require.NoError(t, sink.RecordSession(ctx, session.Record{
				UserID:      "u1",
				Label:       "B",
				Confidence:  0.9,
				Correctness: c,
				Timestamp:   time.Now(),
			}))
		}
		stats, err := s.Sessions().Stats(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalAttempts)
		assert.Equal(t, 1, stats.CorrectAttempts)
	})

	t.Run("resolves lesson by sign", func(t *testing.T) {
		require.NoError(t, sink.UpdateProgress(ctx, practice.ProgressUpdate{
			UserID:   "u1",
			Label:    "B",
			Attempts: 10,
			Accuracy: 1,
			Status:   mastery.Mastered,
		}))
		lesson, err := s.Lessons().GetBySign(ctx, "B")
		require.NoError(t, err)
		p, err := s.Progress().Get(ctx, "u1", lesson.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusMastered, p.Status)
		assert.Equal(t, 10, p.Attempts)
	})

	t.Run("unknown sign", func(t *testing.T) {
		err := sink.UpdateProgress(ctx, practice.ProgressUpdate{UserID: "u1", Label: "HELLO"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestHTTPSink(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]any{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		bodies[r.URL.Path] = body
		mu.Unlock()
		if r.URL.Path == "/api/progress" && body["user_id"] == "reject" {
			http.Error(w, "nope", http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL+"/", 0)
	ctx := context.Background()

	require.NoError(t, sink.RecordSession(ctx, session.Record{UserID: "u1", Label: "A", Confidence: 0.91, Correctness: session.Unknown}))
	require.NoError(t, sink.UpdateProgress(ctx, practice.ProgressUpdate{UserID: "u1", LessonID: "l-1", Attempts: 10, Accuracy: 1, Status: mastery.Mastered}))

	mu.Lock()
	sess := bodies["/api/progress/session"]
	prog := bodies["/api/progress"]
	mu.Unlock()

	require.NotNil(t, sess)
	assert.Equal(t, "A", sess["sign_detected"])
	assert.Nil(t, sess["is_correct"])
	require.NotNil(t, prog)
	assert.Equal(t, "l-1", prog["lesson_id"])
	assert.Equal(t, "mastered", prog["status"])
	assert.EqualValues(t, 10, prog["attempts"])

	err := sink.UpdateProgress(ctx, practice.ProgressUpdate{UserID: "reject"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

type fakeStream struct {
	mu   sync.Mutex
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1-0", nil)
}

func TestRedisSink(t *testing.T) {
	stream := &fakeStream{}
	sink := newRedisSink(stream, "")
	ctx := context.Background()

	require.NoError(t, sink.RecordSession(ctx, session.Record{ID: "r1", UserID: "u1", Label: "C", Confidence: 0.8, Correctness: session.Correct}))
	require.NoError(t, sink.UpdateProgress(ctx, practice.ProgressUpdate{UserID: "u1", Label: "C", Status: mastery.Mastered}))

	require.Len(t, stream.args, 2)
	first := stream.args[0]
	assert.Equal(t, "mudra:sessions", first.Stream)
	assert.True(t, first.Approx)
	assert.Equal(t, int64(DefaultStreamMaxLen), first.MaxLen)
	values := first.Values.(map[string]any)
	assert.Equal(t, "session", values["type"])
	assert.Equal(t, "correct", values["correctness"])
	assert.Equal(t, "progress", stream.args[1].Values.(map[string]any)["type"])

	stream.err = errors.New("READONLY")
	assert.ErrorContains(t, sink.RecordSession(ctx, session.Record{}), "READONLY")
}

type countingSink struct {
	sessions, updates int
	err               error
}

func (c *countingSink) RecordSession(context.Context, session.Record) error {
	c.sessions++
	return c.err
}

func (c *countingSink) UpdateProgress(context.Context, practice.ProgressUpdate) error {
	c.updates++
	return c.err
}

func TestMultiSink(t *testing.T) {
	boom := errors.New("boom")
	a, b := &countingSink{err: boom}, &countingSink{}
	m := MultiSink{a, b}

	err := m.RecordSession(context.Background(), session.Record{})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, m.UpdateProgress(context.Background(), practice.ProgressUpdate{}), boom)

	// A failing sink does not stop the others.
	assert.Equal(t, 1, b.sessions)
	assert.Equal(t, 1, b.updates)

	a.err = nil
	assert.NoError(t, m.RecordSession(context.Background(), session.Record{}))
}

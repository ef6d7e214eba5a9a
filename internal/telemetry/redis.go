package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ayusman/mudra/internal/practice"
	"github.com/ayusman/mudra/internal/session"
)

// DefaultStreamMaxLen caps the stream length; trimming is approximate.
const DefaultStreamMaxLen = 10000

// streamWriter is the subset of the redis client RedisSink needs.
type streamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends telemetry to a Redis stream so other services can
// consume practice activity.
type RedisSink struct {
	client streamWriter
	stream string
	maxLen int64
}

// RedisOptions configures NewRedisSink.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

// NewRedisSink connects to Redis and checks the connection.
func NewRedisSink(ctx context.Context, opts RedisOptions) (*RedisSink, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return newRedisSink(client, opts.Stream), client, nil
}

func newRedisSink(client streamWriter, stream string) *RedisSink {
	if stream == "" {
		stream = "mudra:sessions"
	}
	return &RedisSink{client: client, stream: stream, maxLen: DefaultStreamMaxLen}
}

func (s *RedisSink) RecordSession(ctx context.Context, r session.Record) error {
	return s.add(ctx, map[string]any{
		"type":        "session",
		"id":          r.ID,
		"user_id":     r.UserID,
		"sign":        r.Label,
		"confidence":  strconv.FormatFloat(r.Confidence, 'f', 4, 64),
		"correctness": r.Correctness.String(),
		"ts":          r.Timestamp.UnixMilli(),
	})
}

func (s *RedisSink) UpdateProgress(ctx context.Context, u practice.ProgressUpdate) error {
	return s.add(ctx, map[string]any{
		"type":      "progress",
		"user_id":   u.UserID,
		"lesson_id": u.LessonID,
		"sign":      u.Label,
		"attempts":  u.Attempts,
		"accuracy":  strconv.FormatFloat(u.Accuracy, 'f', 4, 64),
		"status":    string(u.Status),
		"ts":        u.CompletedAt.UnixMilli(),
	})
}

func (s *RedisSink) add(ctx context.Context, values map[string]any) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

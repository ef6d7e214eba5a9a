package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ayusman/mudra/internal/practice"
	"github.com/ayusman/mudra/internal/session"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionPayload is the body of POST /api/progress/session.
type SessionPayload struct {
	UserID       string  `json:"user_id"`
	SignDetected string  `json:"sign_detected"`
	Confidence   float64 `json:"confidence"`
	IsCorrect    *bool   `json:"is_correct"`
}

// ProgressPayload is the body of POST /api/progress.
type ProgressPayload struct {
	UserID   string  `json:"user_id"`
	LessonID string  `json:"lesson_id,omitempty"`
	Sign     string  `json:"sign,omitempty"`
	Attempts int     `json:"attempts"`
	Accuracy float64 `json:"accuracy"`
	Status   string  `json:"status,omitempty"`
}

// HTTPSink posts telemetry to a remote progress API.
type HTTPSink struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSink creates a sink for the API rooted at baseURL. A zero timeout
// means 5 seconds.
func NewHTTPSink(baseURL string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) RecordSession(ctx context.Context, r session.Record) error {
	return s.post(ctx, "/api/progress/session", SessionPayload{
		UserID:       r.UserID,
		SignDetected: r.Label,
		Confidence:   r.Confidence,
		IsCorrect:    r.Correctness.Bool(),
	})
}

func (s *HTTPSink) UpdateProgress(ctx context.Context, u practice.ProgressUpdate) error {
	return s.post(ctx, "/api/progress", ProgressPayload{
		UserID:   u.UserID,
		LessonID: u.LessonID,
		Sign:     u.Label,
		Attempts: u.Attempts,
		Accuracy: u.Accuracy,
		Status:   string(u.Status),
	})
}

func (s *HTTPSink) post(ctx context.Context, path string, body any) error {
	data, err := wire.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

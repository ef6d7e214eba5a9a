package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// DetectRequest is the body accepted by the remote detection endpoint.
type DetectRequest struct {
	Image                string `json:"image"`
	ReturnAnnotatedImage bool   `json:"return_annotated_image"`
}

// DetectResponse is the body returned by the remote detection endpoint.
// Each entry of Landmarks is one hand.
type DetectResponse struct {
	Landmarks      [][]Point3D `json:"landmarks"`
	HandCount      int         `json:"hand_count"`
	AnnotatedImage string      `json:"annotated_image,omitempty"`
}

// Hands converts the response into complete landmark sets. Hands that do
// not carry exactly 21 points are dropped.
func (r *DetectResponse) Hands() []HandLandmarks {
	hands := make([]HandLandmarks, 0, len(r.Landmarks))
	for _, pts := range r.Landmarks {
		h, err := FromPoints(pts)
		if err != nil {
			continue
		}
		hands = append(hands, h)
	}
	return hands
}

// MaxResponseBytes bounds a detection response. Annotated images are the
// largest payload.
const MaxResponseBytes = 8 << 20

// RemoteClient calls a server-side hand detection endpoint with still images.
type RemoteClient struct {
	endpoint  string
	annotated bool
	client    *http.Client
}

// NewRemoteClient creates a client for the given endpoint URL. timeout bounds
// each request; zero means 5 seconds.
func NewRemoteClient(endpoint string, timeout time.Duration, annotated bool) *RemoteClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteClient{
		endpoint:  endpoint,
		annotated: annotated,
		client:    &http.Client{Timeout: timeout},
	}
}

// DetectImage posts the JPEG and returns the detected hands.
func (c *RemoteClient) DetectImage(ctx context.Context, jpeg []byte) ([]HandLandmarks, error) {
	body, err := wire.Marshal(DetectRequest{
		Image:                "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
		ReturnAnnotatedImage: c.annotated,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect hands: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect hands: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out DetectResponse
	if err := wire.NewDecoder(io.LimitReader(resp.Body, MaxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Hands(), nil
}

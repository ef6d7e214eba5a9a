package classifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// PredictRequest is the body accepted by a remote classifier endpoint.
type PredictRequest struct {
	Landmarks [][3]float64 `json:"landmarks"`
}

// HTTPClient classifies by POSTing landmarks to a remote inference endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	alphabet Alphabet
}

// NewHTTPClient returns a client for endpoint. timeout bounds each call; zero means 5 seconds.
func NewHTTPClient(endpoint string, timeout time.Duration, alphabet Alphabet) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if alphabet == nil {
		alphabet = Letters
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		alphabet: alphabet,
	}
}

// Classify sends the 21 landmarks and decodes the prediction. Probabilities
// outside the alphabet are dropped without renormalizing.
func (c *HTTPClient) Classify(ctx context.Context, features Features) (Prediction, error) {
	req := PredictRequest{Landmarks: make([][3]float64, len(features)/3)}
	for i := range req.Landmarks {
		req.Landmarks[i] = [3]float64{float64(features[i*3]), float64(features[i*3+1]), float64(features[i*3+2])}
	}

	body, err := wire.Marshal(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Prediction{}, fmt.Errorf("predict: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var p Prediction
	if err := wire.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	if p.Label == "" {
		return Prediction{}, fmt.Errorf("predict: empty label")
	}
	for label := range p.Probabilities {
		if !c.alphabet.Contains(label) {
			delete(p.Probabilities, label)
		}
	}
	return p, nil
}

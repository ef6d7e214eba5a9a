package detector

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const epsilon = 1e-9

func TestHandLandmarks_Normalize(t *testing.T) {
	t.Run("wrist at origin and unit palm", func(t *testing.T) {
		hand := FlatHandLandmarks()
		normalized := hand.Normalize()

		w := normalized.Points[Wrist]
		if math.Abs(w.X)+math.Abs(w.Y)+math.Abs(w.Z) > epsilon {
			t.Errorf("expected wrist at origin, got %+v", w)
		}

		m := normalized.Points[MiddleMCP]
		dist := math.Sqrt(m.X*m.X + m.Y*m.Y + m.Z*m.Z)
		if math.Abs(dist-1.0) > epsilon {
			t.Errorf("expected wrist to middle MCP distance 1.0, got %f", dist)
		}

		if normalized.Handedness != hand.Handedness || normalized.Score != hand.Score {
			t.Error("expected handedness and score to be preserved")
		}
	})

	t.Run("nil hand returns nil", func(t *testing.T) {
		var hand *HandLandmarks
		if hand.Normalize() != nil {
			t.Error("expected nil result for nil input")
		}
	})

	t.Run("zero scale is translated only", func(t *testing.T) {
		hand := HandLandmarks{}
		for i := range hand.Points {
			hand.Points[i] = Point3D{X: 0.3, Y: 0.4, Z: 0.1}
		}
		normalized := hand.Normalize()
		if math.Abs(normalized.Points[IndexTip].X) > epsilon {
			t.Errorf("expected translated X 0, got %f", normalized.Points[IndexTip].X)
		}
	})
}

func TestFromPoints(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantErr bool
	}{
		{name: "complete hand", n: 21},
		{name: "partial hand", n: 20, wantErr: true},
		{name: "too many points", n: 22, wantErr: true},
		{name: "empty", n: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := make([]Point3D, tt.n)
			for i := range points {
				points[i] = Point3D{X: float64(i) / 21}
			}
			h, err := FromPoints(points)
			if tt.wantErr {
				if !errors.Is(err, ErrIncompleteHand) {
					t.Errorf("expected ErrIncompleteHand, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h.Points[20].X != points[20].X {
				t.Errorf("last point not copied")
			}
		})
	}
}

func TestHandLandmarks_Flatten(t *testing.T) {
	hand := FistLandmarks()
	features := hand.Flatten()

	if len(features) != NumFeatures {
		t.Fatalf("expected %d features, got %d", NumFeatures, len(features))
	}
	// Row-major: landmark i occupies 3i..3i+2.
	tip := hand.Points[IndexTip]
	if features[IndexTip*3] != float32(tip.X) || features[IndexTip*3+1] != float32(tip.Y) || features[IndexTip*3+2] != float32(tip.Z) {
		t.Errorf("index tip features = %v, want %+v", features[IndexTip*3:IndexTip*3+3], tip)
	}

	triples := hand.Triples()
	if len(triples) != NumLandmarks || triples[Wrist][1] != hand.Points[Wrist].Y {
		t.Errorf("unexpected triples: %v", triples[Wrist])
	}
}

func TestMockDetector(t *testing.T) {
	t.Run("returns empty hands by default", func(t *testing.T) {
		mock := NewMockDetector()
		hands, err := mock.Detect(nil)
		if err != nil || hands != nil {
			t.Errorf("expected nil hands and error, got %v, %v", hands, err)
		}
		if mock.Calls() != 1 {
			t.Errorf("expected 1 call, got %d", mock.Calls())
		}
	})

	t.Run("returns configured hands", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetHands([]HandLandmarks{FistLandmarks(), FlatHandLandmarks()})

		hands, err := mock.DetectImage(context.Background(), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hands) != 2 {
			t.Errorf("expected 2 hands, got %d", len(hands))
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetError(ErrRuntime)

		_, err := mock.Detect(nil)
		if !IsFatal(err) {
			t.Errorf("expected fatal error, got %v", err)
		}
	})

	t.Run("close is recorded", func(t *testing.T) {
		mock := NewMockDetector()
		if err := mock.Close(); err != nil {
			t.Errorf("expected Close to return nil, got %v", err)
		}
		if !mock.Closed() {
			t.Error("expected Closed() to be true")
		}
	})

	t.Run("implements detector interfaces", func(t *testing.T) {
		var _ Detector = (*MockDetector)(nil)
		var _ ImageDetector = (*MockDetector)(nil)
		var _ ImageDetector = (*RemoteClient)(nil)
	})
}

func TestFixtures(t *testing.T) {
	t.Run("fist has curled fingers", func(t *testing.T) {
		h := FistLandmarks()
		for _, f := range [][2]int{{IndexMCP, IndexTip}, {MiddleMCP, MiddleTip}, {RingMCP, RingTip}, {PinkyMCP, PinkyTip}} {
			if ext := h.Points[f[0]].Y - h.Points[f[1]].Y; ext > 0.05 {
				t.Errorf("finger %d appears extended (extension %f)", f[1], ext)
			}
		}
		if h.Points[ThumbTip].Y >= h.Points[ThumbMCP].Y {
			t.Error("thumb tip should sit above the thumb MCP")
		}
	})

	t.Run("flat hand has extended fingers and tucked thumb", func(t *testing.T) {
		h := FlatHandLandmarks()
		for _, f := range [][2]int{{IndexMCP, IndexTip}, {MiddleMCP, MiddleTip}, {RingMCP, RingTip}, {PinkyMCP, PinkyTip}} {
			if ext := h.Points[f[0]].Y - h.Points[f[1]].Y; ext < 0.2 {
				t.Errorf("finger %d not extended (extension %f)", f[1], ext)
			}
		}
		if h.Points[ThumbTip].X >= h.Points[ThumbMCP].X {
			t.Error("thumb tip should cross the palm")
		}
	})
}

func TestRemoteClient_DetectImage(t *testing.T) {
	hand := FlatHandLandmarks()

	t.Run("maps landmarks and drops partial hands", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req DetectRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if !strings.HasPrefix(req.Image, "data:image/jpeg;base64,") {
				t.Errorf("unexpected image prefix: %.30s", req.Image)
			}
			json.NewEncoder(w).Encode(DetectResponse{
				Landmarks: [][]Point3D{hand.Points[:], hand.Points[:10]},
				HandCount: 2,
			})
		}))
		defer srv.Close()

		client := NewRemoteClient(srv.URL, 0, false)
		hands, err := client.DetectImage(context.Background(), []byte{0xff, 0xd8})
		if err != nil {
			t.Fatalf("DetectImage() error = %v", err)
		}
		if len(hands) != 1 {
			t.Fatalf("expected 1 complete hand, got %d", len(hands))
		}
		if hands[0].Points[MiddleTip] != hand.Points[MiddleTip] {
			t.Errorf("middle tip = %+v, want %+v", hands[0].Points[MiddleTip], hand.Points[MiddleTip])
		}
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := NewRemoteClient(srv.URL, 0, false)
		if _, err := client.DetectImage(context.Background(), nil); err == nil {
			t.Error("expected error for 500 response")
		}
	})

	t.Run("oversized response is rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(DetectResponse{
				Landmarks:      [][]Point3D{hand.Points[:]},
				HandCount:      1,
				AnnotatedImage: strings.Repeat("A", MaxResponseBytes),
			})
		}))
		defer srv.Close()

		client := NewRemoteClient(srv.URL, 0, true)
		if _, err := client.DetectImage(context.Background(), nil); err == nil {
			t.Error("expected error for a response over MaxResponseBytes")
		}
	})
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
)

// DefaultPredictTimeout bounds one classification request.
const DefaultPredictTimeout = 3 * time.Second

// PredictHandler serves POST /api/predict with the configured classifier.
type PredictHandler struct {
	classifier classifier.Classifier
	timeout    time.Duration
	log        *zap.Logger
}

// NewPredictHandler creates a handler backed by c.
func NewPredictHandler(c classifier.Classifier, log *zap.Logger) *PredictHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PredictHandler{classifier: c, timeout: DefaultPredictTimeout, log: log}
}

func (h *PredictHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req classifier.PredictRequest
	if err := decodeJSON(w, r, 1<<16, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	features, err := toFeatures(req.Landmarks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, err := h.classifier.Classify(ctx, features)
	if err != nil {
		h.log.Error("prediction failed", zap.Error(err))
		if errors.Is(err, classifier.ErrNoModel) {
			writeError(w, http.StatusServiceUnavailable, "No classifier model loaded")
			return
		}
		writeError(w, http.StatusInternalServerError, "Prediction failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func toFeatures(landmarks [][3]float64) (classifier.Features, error) {
	var f classifier.Features
	if len(landmarks) != detector.NumLandmarks {
		return f, fmt.Errorf("expected %d landmarks, got %d", detector.NumLandmarks, len(landmarks))
	}
	for i, l := range landmarks {
		f[i*3] = float32(l[0])
		f[i*3+1] = float32(l[1])
		f[i*3+2] = float32(l[2])
	}
	return f, nil
}

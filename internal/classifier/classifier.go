// Package classifier turns a hand's landmark features into a sign prediction.
package classifier

import (
	"context"
	"errors"
	"math"

	"github.com/ayusman/mudra/internal/detector"
)

// Features is one hand flattened to 21 x 3 floats in row-major landmark order.
type Features = [detector.NumFeatures]float32

// ErrorLabel is the pseudo-label shown while classification is failing. It
// is never part of an alphabet.
const ErrorLabel = "error"

// ErrNoModel is returned when a classifier has nothing to predict with.
var ErrNoModel = errors.New("classifier has no model")

// Classifier predicts a sign label for one hand. Implementations may run a
// local model or call a remote endpoint; callers only rely on the result.
type Classifier interface {
	Classify(ctx context.Context, features Features) (Prediction, error)
}

// Prediction is a classification result. Probabilities covers only the
// alphabet labels and is not renormalized after the restriction, so its
// values need not sum to 1 and Confidence is the unrestricted softmax value.
type Prediction struct {
	Label         string             `json:"sign"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Alphabet is a closed set of valid labels.
type Alphabet map[string]struct{}

// Letters is the default alphabet, A through Z.
var Letters = NewAlphabet("ABCDEFGHIJKLMNOPQRSTUVWXYZ")

// NewAlphabet builds an alphabet where every rune of letters is one label.
func NewAlphabet(letters string) Alphabet {
	a := make(Alphabet, len(letters))
	for _, r := range letters {
		a[string(r)] = struct{}{}
	}
	return a
}

// Contains reports whether label is in the alphabet.
func (a Alphabet) Contains(label string) bool {
	_, ok := a[label]
	return ok
}

// Softmax converts logits to probabilities.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Restrict picks the most probable label inside the alphabet and builds the
// alphabet-only probability map. When no label is in the alphabet the global
// argmax is used. probs is the full model output, indexed like labels.
func Restrict(labels []string, probs []float64, alphabet Alphabet) Prediction {
	best, bestProb := -1, -1.0
	pm := make(map[string]float64)
	for i, p := range probs {
		if i >= len(labels) {
			break
		}
		if !alphabet.Contains(labels[i]) {
			continue
		}
		pm[labels[i]] = p
		if p > bestProb {
			best, bestProb = i, p
		}
	}

	if best == -1 {
		for i, p := range probs {
			if i < len(labels) && p > bestProb {
				best, bestProb = i, p
			}
		}
	}
	if best == -1 {
		return Prediction{Probabilities: pm}
	}

	return Prediction{Label: labels[best], Confidence: probs[best], Probabilities: pm}
}

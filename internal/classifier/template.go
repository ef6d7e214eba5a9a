package classifier

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ayusman/mudra/internal/detector"
)

// Template is a reference hand pose for one label, stored normalized.
type Template struct {
	ID        string
	Label     string
	Landmarks [detector.NumLandmarks]detector.Point3D
}

// Match is the distance between an input hand and one template.
type Match struct {
	Template *Template
	Score    float64 // 1 / (1 + distance)
	Distance float64
}

// TemplateMatcher classifies by nearest normalized template. Per-label
// probabilities are a softmax over negative best distances scaled by
// Sharpness, which keeps it interchangeable with the model classifiers.
type TemplateMatcher struct {
	mu        sync.RWMutex
	templates []*Template
	alphabet  Alphabet

	// Sharpness scales distances before the softmax. Higher values make the
	// nearest template dominate.
	Sharpness float64
}

// NewTemplateMatcher creates an empty matcher restricted to alphabet.
func NewTemplateMatcher(alphabet Alphabet) *TemplateMatcher {
	if alphabet == nil {
		alphabet = Letters
	}
	return &TemplateMatcher{alphabet: alphabet, Sharpness: 4}
}

// Add registers a template built from a raw hand. The hand is normalized first.
func (m *TemplateMatcher) Add(id, label string, hand detector.HandLandmarks) {
	n := hand.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = append(m.templates, &Template{ID: id, Label: label, Landmarks: n.Points})
}

// Remove drops the template with the given id.
func (m *TemplateMatcher) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.templates {
		if t.ID == id {
			m.templates = append(m.templates[:i], m.templates[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered templates.
func (m *TemplateMatcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.templates)
}

// Match returns every template sorted by score, best first.
func (m *TemplateMatcher) Match(hand *detector.HandLandmarks) []Match {
	n := hand.Normalize()
	if n == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.templates))
	for _, t := range m.templates {
		d := landmarkDistance(&n.Points, &t.Landmarks)
		matches = append(matches, Match{Template: t, Score: 1.0 / (1.0 + d), Distance: d})
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// Classify implements Classifier.
func (m *TemplateMatcher) Classify(ctx context.Context, features Features) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	var hand detector.HandLandmarks
	for i := range hand.Points {
		hand.Points[i] = detector.Point3D{
			X: float64(features[i*3]),
			Y: float64(features[i*3+1]),
			Z: float64(features[i*3+2]),
		}
	}

	matches := m.Match(&hand)
	if len(matches) == 0 {
		return Prediction{}, ErrNoModel
	}

	// Best distance per label, in first-seen order.
	var labels []string
	best := make(map[string]float64)
	for _, match := range matches {
		l := match.Template.Label
		if _, ok := best[l]; !ok {
			labels = append(labels, l)
			best[l] = match.Distance
		}
	}

	logits := make([]float64, len(labels))
	for i, l := range labels {
		logits[i] = -m.Sharpness * best[l]
	}
	return Restrict(labels, Softmax(logits), m.alphabet), nil
}

// landmarkDistance sums point-wise Euclidean distances.
func landmarkDistance(a, b *[detector.NumLandmarks]detector.Point3D) float64 {
	var total float64
	for i := range a {
		dx := a[i].X - b[i].X
		dy := a[i].Y - b[i].Y
		dz := a[i].Z - b[i].Z
		total += math.Sqrt(dx*dx + dy*dy + dz*dz)
	}
	return total
}

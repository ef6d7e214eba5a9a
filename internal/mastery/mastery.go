// Package mastery tracks consecutive correct predictions against a target
// sign and decides when a lesson is mastered.
package mastery

import (
	"strings"

	"github.com/ayusman/mudra/internal/classifier"
)

// Defaults.
const (
	DefaultGoal          = 10
	DefaultMinConfidence = 0.8
)

// Status is the lesson state for the current target.
type Status string

const (
	NotStarted Status = "not_started"
	InProgress Status = "in_progress"
	Mastered   Status = "mastered"
)

// Progress is a snapshot of the counters.
type Progress struct {
	Target             string `json:"target,omitempty"`
	TotalAttempts      int    `json:"total_attempts"`
	CorrectAttempts    int    `json:"correct_attempts"`
	ConsecutiveCorrect int    `json:"consecutive_correct"`
	Goal               int    `json:"goal"`
	Completed          bool   `json:"completed"`
}

// Accuracy is correct/total, or 0 before the first attempt.
func (p Progress) Accuracy() float64 {
	if p.TotalAttempts == 0 {
		return 0
	}
	return float64(p.CorrectAttempts) / float64(p.TotalAttempts)
}

// Status derives the lesson state from the counters.
func (p Progress) Status() Status {
	switch {
	case p.Completed:
		return Mastered
	case p.TotalAttempts > 0:
		return InProgress
	default:
		return NotStarted
	}
}

// Step describes what one observation did.
type Step struct {
	// Counted is true when the prediction was an attempt.
	Counted bool
	// Correct is true when a counted prediction matched the target.
	Correct bool
	// Completed is true only on the observation that reached the goal.
	Completed bool
	Progress  Progress
}

// Config configures a Machine.
type Config struct {
	// Target is the sign being practiced. Empty means free practice.
	Target        string
	Goal          int
	MinConfidence float64
}

// Machine is the mastery state machine. It is not safe for concurrent use;
// the practice controller drives it from a single goroutine.
type Machine struct {
	minConfidence float64
	progress      Progress
}

// New creates a machine for config, filling in defaults.
func New(config Config) *Machine {
	if config.Goal <= 0 {
		config.Goal = DefaultGoal
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = DefaultMinConfidence
	}
	return &Machine{
		minConfidence: config.MinConfidence,
		progress: Progress{
			Target: strings.ToUpper(strings.TrimSpace(config.Target)),
			Goal:   config.Goal,
		},
	}
}

// Observe applies a prediction. Predictions below the confidence threshold,
// predictions in free practice and predictions after completion change
// nothing.
func (m *Machine) Observe(p classifier.Prediction) Step {
	if m.progress.Target == "" || m.progress.Completed || p.Confidence < m.minConfidence {
		return Step{Progress: m.progress}
	}

	step := Step{Counted: true}
	m.progress.TotalAttempts++

	if strings.EqualFold(p.Label, m.progress.Target) {
		step.Correct = true
		m.progress.CorrectAttempts++
		m.progress.ConsecutiveCorrect++
		if m.progress.ConsecutiveCorrect >= m.progress.Goal {
			m.progress.Completed = true
			step.Completed = true
		}
	} else {
		m.progress.ConsecutiveCorrect = 0
	}

	step.Progress = m.progress
	return step
}

// Restart resets every counter and the completed flag. The target and goal
// are kept.
func (m *Machine) Restart() {
	m.progress = Progress{Target: m.progress.Target, Goal: m.progress.Goal}
}

// Progress returns the current counters.
func (m *Machine) Progress() Progress {
	return m.progress
}

// Status returns the current lesson state.
func (m *Machine) Status() Status {
	return m.progress.Status()
}

// Target returns the normalized target, empty in free practice.
func (m *Machine) Target() string {
	return m.progress.Target
}

// MinConfidence returns the threshold a prediction must meet to count.
func (m *Machine) MinConfidence() float64 {
	return m.minConfidence
}

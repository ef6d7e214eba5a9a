package practice

import (
	"github.com/ayusman/mudra/internal/mastery"
	"github.com/ayusman/mudra/internal/source"
)

// State is the externally observable practice state.
type State struct {
	ActivationID  string           `json:"activation_id,omitempty"`
	Active        bool             `json:"active"`
	Mode          source.Mode      `json:"mode"`
	Target        string           `json:"target,omitempty"`
	DetectedLabel string           `json:"detected_label"`
	Confidence    float64          `json:"confidence"`
	HandsVisible  int              `json:"hands_visible"`
	Mastery       mastery.Progress `json:"mastery"`
	Status        mastery.Status   `json:"status"`
	// AcquisitionError is the last source failure, cleared by a good frame
	// or a new activation.
	AcquisitionError string `json:"acquisition_error,omitempty"`

	// Err is the error behind AcquisitionError.
	Err error `json:"-"`
}

// handsVisible caps the count at two.
func handsVisible(n int) int {
	if n > 2 {
		return 2
	}
	return n
}

package config

import (
	"time"

	"github.com/ayusman/mudra/internal/source"
)

// Performance profile names.
const (
	ProfileBalanced       = "balanced"
	ProfileLowEnd         = "low_end"
	ProfileAccuracy       = "accuracy"
	ProfileMaxPerformance = "max_performance"
)

// Profile trades accuracy against device load.
type Profile struct {
	Mode             source.Mode
	ThrottleWindow   time.Duration
	SnapshotInterval time.Duration
	Width            int
	Height           int
	FrameRate        int
}

// Profiles maps profile names to their settings. max_performance moves
// detection to the server.
var Profiles = map[string]Profile{
	ProfileBalanced: {
		Mode:             source.ModeContinuous,
		ThrottleWindow:   250 * time.Millisecond,
		SnapshotInterval: 2000 * time.Millisecond,
		Width:            640,
		Height:           480,
		FrameRate:        30,
	},
	ProfileLowEnd: {
		Mode:             source.ModeContinuous,
		ThrottleWindow:   1000 * time.Millisecond,
		SnapshotInterval: 2000 * time.Millisecond,
		Width:            320,
		Height:           240,
		FrameRate:        15,
	},
	ProfileAccuracy: {
		Mode:             source.ModeContinuous,
		ThrottleWindow:   250 * time.Millisecond,
		SnapshotInterval: 2000 * time.Millisecond,
		Width:            1280,
		Height:           720,
		FrameRate:        30,
	},
	ProfileMaxPerformance: {
		Mode:             source.ModeSnapshot,
		ThrottleWindow:   2000 * time.Millisecond,
		SnapshotInterval: 2000 * time.Millisecond,
		Width:            640,
		Height:           480,
		FrameRate:        15,
	},
}

// ProfileFor returns the named profile, falling back to balanced.
func ProfileFor(name string) Profile {
	if p, ok := Profiles[name]; ok {
		return p
	}
	return Profiles[ProfileBalanced]
}

// Package tray provides a system tray interface for the Mudra practice service.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/mudra/internal/mastery"
	"github.com/ayusman/mudra/internal/practice"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle  func(active bool)
	onRestart func()
	onOpen    func()
	onQuit    func()
	active    bool
	labels    Labels
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuTarget *systray.MenuItem
	menuLast   *systray.MenuItem
	menuStreak *systray.MenuItem
}

// Labels are the menu texts derived from one practice state.
type Labels struct {
	Toggle string
	Target string
	Last   string
	Streak string
}

// LabelsFor renders a practice state for the menu.
func LabelsFor(s practice.State) Labels {
	l := Labels{
		Toggle: "○ Paused",
		Target: "Target: none",
		Last:   "Last: none",
		Streak: fmt.Sprintf("Streak: %d/%d", s.Mastery.ConsecutiveCorrect, s.Mastery.Goal),
	}
	if s.Active {
		l.Toggle = "● Practicing"
	}
	if s.Target != "" {
		l.Target = "Target: " + s.Target
	}
	if s.DetectedLabel != "" {
		l.Last = fmt.Sprintf("Last: %s (%.0f%%)", s.DetectedLabel, s.Confidence*100)
	}
	if s.Status == mastery.Mastered {
		l.Streak = "Mastered ✓"
	}
	if s.AcquisitionError != "" {
		l.Last = "Camera: " + s.AcquisitionError
	}
	return l
}

// New creates a new Tray instance. Practice starts inactive.
func New() *Tray {
	return &Tray{labels: LabelsFor(practice.State{})}
}

// OnToggle sets the callback called when practice is toggled from the menu.
func (t *Tray) OnToggle(fn func(active bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnRestart sets the callback called when the restart menu item is clicked.
func (t *Tray) OnRestart(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRestart = fn
}

// OnOpen sets the callback called when the open menu item is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit ends Run.
func (t *Tray) Quit() {
	systray.Quit()
}

// Watch mirrors every state from states into the menu until the channel closes.
func (t *Tray) Watch(states <-chan practice.State) {
	for s := range states {
		t.Update(s)
	}
}

// Update applies one practice state to the menu.
func (t *Tray) Update(s practice.State) {
	labels := LabelsFor(s)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = s.Active
	t.labels = labels
	t.applyLocked()
}

// applyLocked pushes the current labels to the menu items once they exist.
func (t *Tray) applyLocked() {
	if t.menuToggle == nil {
		return
	}
	t.menuToggle.SetTitle(t.labels.Toggle)
	t.menuTarget.SetTitle(t.labels.Target)
	t.menuLast.SetTitle(t.labels.Last)
	t.menuStreak.SetTitle(t.labels.Streak)
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Mudra")
	systray.SetTooltip("Mudra sign practice")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem("", "Start or pause practice")
	systray.AddSeparator()

	t.menuTarget = systray.AddMenuItem("", "Sign being practiced")
	t.menuTarget.Disable()
	t.menuLast = systray.AddMenuItem("", "Last detected sign")
	t.menuLast.Disable()
	t.menuStreak = systray.AddMenuItem("", "Consecutive correct detections")
	t.menuStreak.Disable()
	t.applyLocked()
	t.mu.Unlock()
	systray.AddSeparator()

	menuRestart := systray.AddMenuItem("Restart Lesson", "Reset mastery progress")
	menuOpen := systray.AddMenuItem("Open Practice...", "Open the practice page in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuRestart.ClickedCh:
				t.call(func() func() { return t.onRestart })
			case <-menuOpen.ClickedCh:
				t.call(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle asks for the opposite of the current state. The menu title
// follows the next Update rather than the click.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	want := !t.active
	callback := t.onToggle
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(want)
	}
}

// call runs the callback returned by get, which is read under the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	fn := get()
	t.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// IsActive reports whether the last applied state was active.
func (t *Tray) IsActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// Current returns the labels last applied.
func (t *Tray) Current() Labels {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.labels
}

package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/phoenix/internal/util"
)

// RestartTracker keeps the recovery history for a workspace so repeated
// recoveries show up as a crash loop in status output. It only observes:
// the watchdog still recovers on every invalid tick.
type RestartTracker struct {
	dir   string
	now   func() time.Time
	mu    sync.RWMutex
	state *RestartState
}

// RestartState is persisted to survive daemon restarts.
type RestartState struct {
	// RecoveryCount is the number of recoveries in the current sequence.
	RecoveryCount int `json:"recoveryCount"`

	// ConsecutiveFailures counts failed recoveries since the last success.
	ConsecutiveFailures int `json:"consecutiveFailures"`

	// FirstRecovery is when the current sequence began.
	FirstRecovery time.Time `json:"firstRecovery,omitempty"`

	// LastRecovery is the most recent recovery attempt time.
	LastRecovery time.Time `json:"lastRecovery,omitempty"`

	// LastTrigger and LastOutcome describe the most recent attempt.
	LastTrigger string `json:"lastTrigger,omitempty"`
	LastOutcome string `json:"lastOutcome,omitempty"`

	// LastSuccess is when recovery last left the system operational.
	LastSuccess time.Time `json:"lastSuccess,omitempty"`

	CrashLoopDetected   bool      `json:"crashLoopDetected"`
	CrashLoopDetectedAt time.Time `json:"crashLoopDetectedAt,omitempty"`
}

const (
	// CrashLoopThreshold is the number of recoveries within the window to
	// flag a crash loop.
	CrashLoopThreshold = 5

	// CrashLoopWindow is the time window to detect crash loops.
	CrashLoopWindow = 15 * time.Minute

	// HistoryResetDuration is how long without a recovery before the
	// sequence starts over.
	HistoryResetDuration = 30 * time.Minute
)

// NewRestartTracker creates a tracker persisting under dir.
func NewRestartTracker(dir string) *RestartTracker {
	return &RestartTracker{
		dir:   dir,
		now:   time.Now,
		state: &RestartState{},
	}
}

// RestartStatePath returns the history file path in dir.
func RestartStatePath(dir string) string {
	return filepath.Join(dir, "recoveries.json")
}

// Load loads the history from disk. A missing file starts fresh.
func (rt *RestartTracker) Load() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	data, err := os.ReadFile(RestartStatePath(rt.dir)) //nolint:gosec // G304: path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading recovery history: %w", err)
	}

	var state RestartState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshaling recovery history: %w", err)
	}
	rt.state = &state
	return nil
}

func (rt *RestartTracker) save() error {
	return util.AtomicWriteJSON(RestartStatePath(rt.dir), rt.state)
}

// Record adds one recovery attempt. It returns true when this attempt
// pushed the workspace into a crash loop.
func (rt *RestartTracker) Record(trigger, outcome string, success bool) (bool, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := rt.now()
	st := rt.state

	if !st.LastRecovery.IsZero() && now.Sub(st.LastRecovery) > HistoryResetDuration {
		st.RecoveryCount = 0
		st.ConsecutiveFailures = 0
		st.FirstRecovery = time.Time{}
		st.CrashLoopDetected = false
	}
	if st.FirstRecovery.IsZero() {
		st.FirstRecovery = now
	}

	st.RecoveryCount++
	st.LastRecovery = now
	st.LastTrigger = trigger
	st.LastOutcome = outcome
	if success {
		st.LastSuccess = now
		st.ConsecutiveFailures = 0
	} else {
		st.ConsecutiveFailures++
	}

	entered := false
	if !st.CrashLoopDetected && rt.detectCrashLoop(now) {
		st.CrashLoopDetected = true
		st.CrashLoopDetectedAt = now
		entered = true
	}

	return entered, rt.save()
}

// detectCrashLoop is true when the threshold was reached inside the window.
func (rt *RestartTracker) detectCrashLoop(now time.Time) bool {
	if rt.state.RecoveryCount < CrashLoopThreshold {
		return false
	}
	return !rt.state.FirstRecovery.Before(now.Add(-CrashLoopWindow))
}

// IsInCrashLoop reports whether a crash loop was detected recently.
func (rt *RestartTracker) IsInCrashLoop() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if !rt.state.CrashLoopDetected {
		return false
	}
	return rt.now().Sub(rt.state.CrashLoopDetectedAt) <= HistoryResetDuration
}

// Clear resets the history.
func (rt *RestartTracker) Clear() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.state = &RestartState{}
	return rt.save()
}

// Status returns a copy of the history.
func (rt *RestartTracker) Status() *RestartState {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	cp := *rt.state
	return &cp
}

// LoadRestartState reads the history in dir for display. A missing file
// yields an empty history.
func LoadRestartState(dir string) (*RestartState, error) {
	rt := NewRestartTracker(dir)
	if err := rt.Load(); err != nil {
		return nil, err
	}
	return rt.Status(), nil
}

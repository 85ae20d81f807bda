// Package crash decides whether a boot should be treated as recovery from
// an unclean shutdown.
package crash

import (
	"os"

	"github.com/steveyegge/phoenix/internal/runstate"
)

// Detector combines the crash-lock artifact with run-state validity.
// It only reads; the crash lock is owned by whatever process failed to
// clean it up, and phoenix never creates or removes it.
type Detector struct {
	lockPath  string
	statePath string
}

// NewDetector creates a Detector.
func NewDetector(lockPath, statePath string) *Detector {
	return &Detector{lockPath: lockPath, statePath: statePath}
}

// LockPresent reports whether the crash-lock artifact exists.
func (d *Detector) LockPresent() bool {
	_, err := os.Stat(d.lockPath)
	return err == nil
}

// StateInvalid reports whether the run-state document is missing,
// unparseable, or fails the liveness check.
func (d *Detector) StateInvalid() bool {
	return runstate.Check(d.statePath) != nil
}

// DetectCrash is true if the crash lock exists or the run state is invalid.
func (d *Detector) DetectCrash() bool {
	return d.LockPresent() || d.StateInvalid()
}

// Reason describes why DetectCrash is true, or returns "" when it is not.
func (d *Detector) Reason() string {
	if d.LockPresent() {
		return "crash lock present: " + d.lockPath
	}
	if err := runstate.Check(d.statePath); err != nil {
		return err.Error()
	}
	return ""
}

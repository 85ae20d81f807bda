package crash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/steveyegge/phoenix/internal/runstate"
)

func setup(t *testing.T) (dir string, d *Detector) {
	t.Helper()
	dir = t.TempDir()
	return dir, NewDetector(filepath.Join(dir, "crash.lock"), filepath.Join(dir, "runstate.json"))
}

func TestDetectCrash_CleanBoot(t *testing.T) {
	dir, d := setup(t)
	if err := runstate.Write(filepath.Join(dir, "runstate.json"), true, []string{"planner"}); err != nil {
		t.Fatal(err)
	}

	if d.DetectCrash() {
		t.Errorf("DetectCrash() = true, want false (reason %q)", d.Reason())
	}
	if d.Reason() != "" {
		t.Errorf("Reason() = %q, want empty", d.Reason())
	}
}

func TestDetectCrash_LockPresent(t *testing.T) {
	dir, d := setup(t)
	if err := runstate.Write(filepath.Join(dir, "runstate.json"), true, []string{"planner"}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "crash.lock"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	if !d.DetectCrash() {
		t.Error("DetectCrash() = false with crash lock present")
	}
	if d.StateInvalid() {
		t.Error("StateInvalid() should ignore the crash lock")
	}

	// Read-only: the lock must still be there.
	if _, err := os.Stat(filepath.Join(dir, "crash.lock")); err != nil {
		t.Errorf("crash lock was removed: %v", err)
	}
}

func TestDetectCrash_MissingRunState(t *testing.T) {
	_, d := setup(t)
	if !d.DetectCrash() {
		t.Error("DetectCrash() = false with no run state")
	}
	if !d.StateInvalid() {
		t.Error("StateInvalid() = false with no run state")
	}
	if d.Reason() == "" {
		t.Error("Reason() should explain the invalid run state")
	}
}

func TestDetectCrash_InactiveRunState(t *testing.T) {
	dir, d := setup(t)
	if err := runstate.Write(filepath.Join(dir, "runstate.json"), false, []string{"planner"}); err != nil {
		t.Fatal(err)
	}
	if !d.DetectCrash() {
		t.Error("DetectCrash() = false with inactive run state")
	}
}

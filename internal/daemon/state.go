package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/phoenix/internal/lock"
	"github.com/steveyegge/phoenix/internal/util"
)

// State is the daemon's self-reported status, rewritten on every
// heartbeat and recovery.
type State struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`

	LastHeartbeat  time.Time `json:"lastHeartbeat,omitempty"`
	HeartbeatCount int64     `json:"heartbeatCount"`

	CrashDetected bool   `json:"crashDetected"`
	CrashReason   string `json:"crashReason,omitempty"`
	BootOutcome   string `json:"bootOutcome,omitempty"`

	LastRecovery       time.Time `json:"lastRecovery,omitempty"`
	LastOutcome        string    `json:"lastOutcome,omitempty"`
	WatchdogTicks      int64     `json:"watchdogTicks"`
	WatchdogRecoveries int       `json:"watchdogRecoveries"`
	CrashLoop          bool      `json:"crashLoop"`

	Failsafe          bool   `json:"failsafe"`
	FailsafeSessionID string `json:"failsafeSessionId,omitempty"`
	FailsafeAttempts  int    `json:"failsafeAttempts"`
}

// StateFile returns the state file path in dir.
func StateFile(dir string) string {
	return filepath.Join(dir, "state.json")
}

// PidFile returns the PID file path in dir.
func PidFile(dir string) string {
	return filepath.Join(dir, "phoenix.pid")
}

// SaveState writes state atomically.
func SaveState(dir string, state *State) error {
	return util.AtomicWriteJSON(StateFile(dir), state)
}

// LoadState reads the state file. A missing file yields a zero State.
func LoadState(dir string) (*State, error) {
	data, err := os.ReadFile(StateFile(dir)) //nolint:gosec // G304: path is constructed internally
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{}, nil
		}
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing daemon state: %w", err)
	}
	return &s, nil
}

// IsRunning checks the PID file in dir and whether that process is alive.
// A PID file naming a dead process is removed and reported as an error so
// the caller can mention it. The instance lock held by Run is what
// actually prevents duplicates; this is for status and stop.
func IsRunning(dir string) (bool, int, error) {
	pidFile := PidFile(dir)
	data, err := os.ReadFile(pidFile) //nolint:gosec // G304: path is constructed internally
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false, 0, fmt.Errorf("invalid PID in file %q: %w", pidStr, err)
	}

	if (&lock.Info{PID: pid}).IsStale() {
		if err := os.Remove(pidFile); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (process %d not found)", pid)
		}
		return false, 0, nil
	}
	return true, pid, nil
}

// ErrNotRunning is returned by StopDaemon when no daemon is running.
var ErrNotRunning = errors.New("daemon is not running")

// StopDaemon sends a termination signal to the daemon in dir and waits up
// to grace for it to exit before killing it.
func StopDaemon(dir string, grace time.Duration) error {
	running, pid, err := IsRunning(dir)
	if err != nil {
		return err
	}
	if !running {
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := terminate(process); err != nil {
		return fmt.Errorf("signalling daemon: %w", err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if (&lock.Info{PID: pid}).IsStale() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = process.Kill()
	_ = os.Remove(PidFile(dir))
	return nil
}

// Package lock keeps at most one phoenix instance running per workspace.
//
// The lock is an advisory file lock (gofrs/flock) on <dir>/phoenix.lock.
// Next to it, phoenix.lock.json records who holds it and when the holder
// last heartbeated, so a blocked caller can report the owner.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/phoenix/internal/util"
)

// FileName is the lock file inside the lock directory.
const FileName = "phoenix.lock"

var (
	// ErrLocked means another live process holds the lock.
	ErrLocked = errors.New("another phoenix instance is running")

	// ErrNotHeld is returned by Heartbeat when the lock is not held.
	ErrNotHeld = errors.New("instance lock not held")
)

// Info describes the lock holder.
type Info struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname,omitempty"`
	Command    string    `json:"command,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt"`
	Heartbeat  time.Time `json:"heartbeat"`
}

// IsStale reports whether the recorded holder process is gone.
func (i *Info) IsStale() bool {
	return !processExists(i.PID)
}

// InstanceLock is a workspace-wide single-instance lock.
type InstanceLock struct {
	lockPath string
	infoPath string
	fl       *flock.Flock

	mu   sync.Mutex
	info *Info
}

// New returns an InstanceLock for dir. Nothing is created until TryAcquire.
func New(dir string) *InstanceLock {
	lockPath := filepath.Join(dir, FileName)
	return &InstanceLock{
		lockPath: lockPath,
		infoPath: InfoPath(dir),
		fl:       flock.New(lockPath),
	}
}

// InfoPath returns the holder-info file for dir.
func InfoPath(dir string) string {
	return filepath.Join(dir, FileName+".json")
}

// TryAcquire takes the lock without blocking. When another process holds
// it, the returned error matches ErrLocked and names the holder if known.
func (l *InstanceLock) TryAcquire(command string) error {
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	locked, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		if holder, rerr := ReadInfo(filepath.Dir(l.lockPath)); rerr == nil {
			return fmt.Errorf("%w: PID %d (%s, since %s)",
				ErrLocked, holder.PID, holder.Command, holder.AcquiredAt.Format(time.RFC3339))
		}
		return ErrLocked
	}

	host, _ := os.Hostname()
	now := time.Now().UTC()
	info := &Info{
		PID:        os.Getpid(),
		Hostname:   host,
		Command:    command,
		AcquiredAt: now,
		Heartbeat:  now,
	}
	if err := util.AtomicWriteJSON(l.infoPath, info); err != nil {
		_ = l.fl.Unlock()
		return fmt.Errorf("writing lock info: %w", err)
	}

	l.mu.Lock()
	l.info = info
	l.mu.Unlock()
	return nil
}

// Heartbeat refreshes the holder's heartbeat timestamp.
func (l *InstanceLock) Heartbeat() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.info == nil {
		return ErrNotHeld
	}
	l.info.Heartbeat = time.Now().UTC()
	return util.AtomicWriteJSON(l.infoPath, l.info)
}

// Release removes the holder info and unlocks. Safe to call when not held.
func (l *InstanceLock) Release() error {
	l.mu.Lock()
	held := l.info != nil
	l.info = nil
	l.mu.Unlock()

	if !held {
		return nil
	}
	if err := os.Remove(l.infoPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = l.fl.Unlock()
		return fmt.Errorf("removing lock info: %w", err)
	}
	return l.fl.Unlock()
}

// ReadInfo reads the holder info for dir.
func ReadInfo(dir string) (*Info, error) {
	data, err := os.ReadFile(InfoPath(dir)) //nolint:gosec // G304: path is constructed internally
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing lock info: %w", err)
	}
	return &info, nil
}

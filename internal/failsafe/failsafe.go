// Package failsafe is the last-resort mode entered when startup itself
// fails unexpectedly. It persists a diagnostic record and retries the
// fallback restart on a fixed interval until the process exits.
package failsafe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/phoenix/internal/telemetry"
	"github.com/steveyegge/phoenix/internal/util"
	"github.com/steveyegge/phoenix/internal/watchdog"
)

// DefaultInterval is the reference retry interval.
const DefaultInterval = 60 * time.Second

// ErrAlreadyEntered is returned by Enter after the first entry.
var ErrAlreadyEntered = errors.New("failsafe mode already entered")

// Record is the diagnostic record written on entry. It is overwritten by
// each new entry and never read back by recovery.
type Record struct {
	SessionID string    `json:"sessionId"`
	EnterTime time.Time `json:"enterTime"`
	Reason    string    `json:"reason"`
	SafeMode  bool      `json:"safeMode"`
}

// FallbackRunner runs the fallback restart.
type FallbackRunner interface {
	Fallback(ctx context.Context) error
}

// Options configures a Mode.
type Options struct {
	// Interval between fallback attempts (default: DefaultInterval).
	Interval time.Duration

	// NewTicker creates the tick source (default: watchdog.NewTicker).
	NewTicker func(time.Duration) watchdog.Ticker

	// Logger receives structured lines (default: slog.Default()).
	Logger *slog.Logger

	// OnAttempt, if set, is called after each fallback attempt.
	OnAttempt func(attempt int, err error)
}

// Mode retries the fallback forever once entered. It has no success exit:
// a successful attempt is logged and the next tick tries again.
type Mode struct {
	path   string
	runner FallbackRunner
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	entered  atomic.Bool
	attempts atomic.Int64

	mu     sync.Mutex
	record *Record
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Mode that writes its record to path.
func New(path string, runner FallbackRunner, opts Options) *Mode {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.NewTicker == nil {
		opts.NewTicker = watchdog.NewTicker
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Mode{
		path:   path,
		runner: runner,
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
	}
}

// Enter persists a new Record and starts the retry loop. It succeeds once
// per Mode; later calls return ErrAlreadyEntered. A record that cannot be
// written is logged and the loop starts anyway.
func (m *Mode) Enter(ctx context.Context, reason string) (*Record, error) {
	if !m.entered.CompareAndSwap(false, true) {
		return nil, ErrAlreadyEntered
	}

	rec := &Record{
		SessionID: uuid.NewString(),
		EnterTime: m.now().UTC(),
		Reason:    reason,
		SafeMode:  true,
	}
	if err := util.AtomicWriteJSON(m.path, rec); err != nil {
		m.logger.Error("writing failsafe record", "path", m.path, "err", err)
	}
	telemetry.RecordFailsafeEntry(ctx, rec.SessionID, reason)
	m.logger.Error("entered failsafe mode", "session_id", rec.SessionID, "reason", reason,
		"retry_interval", m.opts.Interval)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	m.record = rec
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	ticker := m.opts.NewTicker(m.opts.Interval)
	go m.loop(ctx, ticker, rec.SessionID, done)

	return rec, nil
}

func (m *Mode) loop(ctx context.Context, ticker watchdog.Ticker, sessionID string, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			attempt := int(m.attempts.Add(1))
			err := m.attempt(ctx)
			telemetry.RecordFailsafeAttempt(ctx, sessionID, attempt, err)
			if err != nil {
				m.logger.Error("failsafe fallback attempt failed", "attempt", attempt, "err", err)
			} else {
				m.logger.Info("failsafe fallback attempt succeeded", "attempt", attempt)
			}
			if m.opts.OnAttempt != nil {
				m.opts.OnAttempt(attempt, err)
			}
		}
	}
}

// attempt runs one fallback. A panic is converted to an error so the loop
// keeps going.
func (m *Mode) attempt(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fallback panicked: %v", r)
		}
	}()
	return m.runner.Fallback(ctx)
}

// Entered reports whether Enter has been called.
func (m *Mode) Entered() bool {
	return m.entered.Load()
}

// Record returns the record written on entry, or nil.
func (m *Mode) Record() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record
}

// Attempts returns the number of fallback attempts started so far.
func (m *Mode) Attempts() int {
	return int(m.attempts.Load())
}

// Done is closed when the retry loop exits. Nil before Enter.
func (m *Mode) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Stop ends the retry loop and waits for it. Only used at process shutdown.
func (m *Mode) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ReadRecord reads a failsafe record for status display.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from settings
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing failsafe record: %w", err)
	}
	return &rec, nil
}

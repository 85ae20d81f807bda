// Package watchdog periodically re-validates the run-state document and
// dispatches recovery when it is invalid.
//
// Ticks never wait on recovery: an invalid state starts one recovery in
// the background, and further invalid ticks are skipped while it runs.
package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyegge/phoenix/internal/recovery"
	"github.com/steveyegge/phoenix/internal/telemetry"
)

// DefaultInterval is the reference tick interval.
const DefaultInterval = 30 * time.Second

// ErrRunning is returned by Start on a watchdog that is already running.
var ErrRunning = errors.New("watchdog already running")

// StateChecker reports whether the run state needs recovery.
type StateChecker interface {
	StateInvalid() bool
}

// Recoverer runs the recovery path.
type Recoverer interface {
	Recover(ctx context.Context, trigger recovery.Trigger) recovery.Result
}

// Options configures a Watchdog.
type Options struct {
	// Interval between checks (default: DefaultInterval).
	Interval time.Duration

	// Timeout bounds one dispatched recovery. Zero means the recovery is
	// bounded only by its own per-command timeouts.
	Timeout time.Duration

	// NewTicker creates the tick source (default: NewTicker).
	NewTicker func(time.Duration) Ticker

	// Logger receives structured lines (default: slog.Default()).
	Logger *slog.Logger

	// OnRecovery, if set, is called with the result of each dispatched recovery.
	OnRecovery func(recovery.Result)
}

// Watchdog is a cancellable periodic check.
type Watchdog struct {
	checker   StateChecker
	recoverer Recoverer
	opts      Options
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflight atomic.Bool
	ticks    atomic.Int64
	wg       sync.WaitGroup
}

// New creates a stopped Watchdog.
func New(checker StateChecker, recoverer Recoverer, opts Options) *Watchdog {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTicker
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watchdog{
		checker:   checker,
		recoverer: recoverer,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		select {
		case <-w.done:
		default:
			return ErrRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	ticker := w.opts.NewTicker(w.opts.Interval)
	go w.loop(ctx, ticker, w.done)

	w.logger.Info("watchdog started", "interval", w.opts.Interval)
	return nil
}

func (w *Watchdog) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return
		case <-ticker.C():
			w.Tick(ctx)
		}
	}
}

// Tick runs one check and reports whether a recovery was dispatched.
func (w *Watchdog) Tick(ctx context.Context) bool {
	w.ticks.Add(1)

	invalid := w.checker.StateInvalid()
	telemetry.RecordWatchdogTick(ctx, invalid)
	if !invalid {
		w.logger.Debug("watchdog check ok")
		return false
	}

	if !w.inflight.CompareAndSwap(false, true) {
		w.logger.Info("run state invalid; recovery already in progress")
		return false
	}

	w.logger.Warn("run state invalid; dispatching recovery")
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		rctx := ctx
		if w.opts.Timeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
			defer cancel()
		}

		res := w.recoverer.Recover(rctx, recovery.TriggerWatchdog)
		w.inflight.Store(false)

		if res.Success() {
			w.logger.Info("watchdog recovery succeeded", "outcome", res.Outcome)
		} else {
			w.logger.Error("watchdog recovery failed", "outcome", res.Outcome, "err", res.Err())
		}
		if w.opts.OnRecovery != nil {
			w.opts.OnRecovery(res)
		}
	}()
	return true
}

// Stop cancels the loop and waits for it and any dispatched recovery to finish.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	w.wg.Wait()
}

// Done is closed when the loop exits. Nil before the first Start.
func (w *Watchdog) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Running reports whether the tick loop is active.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Ticks returns the number of checks performed.
func (w *Watchdog) Ticks() int64 {
	return w.ticks.Load()
}

// Package daemon runs the supervision loop: it takes the instance lock,
// performs the boot recovery, starts the watchdog, and keeps a heartbeat
// until it is signalled to stop.
//
// Any unexpected failure while booting (a panic, or an error that is not a
// recovery outcome) puts the daemon into failsafe mode instead of exiting.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/steveyegge/phoenix/internal/activation"
	"github.com/steveyegge/phoenix/internal/config"
	"github.com/steveyegge/phoenix/internal/crash"
	"github.com/steveyegge/phoenix/internal/exitcode"
	"github.com/steveyegge/phoenix/internal/failsafe"
	"github.com/steveyegge/phoenix/internal/lock"
	"github.com/steveyegge/phoenix/internal/recovery"
	"github.com/steveyegge/phoenix/internal/session"
	"github.com/steveyegge/phoenix/internal/watchdog"
)

// Options configures a Daemon. Zero values use production defaults.
type Options struct {
	// Logger receives structured lines (default: slog.Default()).
	Logger *slog.Logger

	// Executor runs the external commands (default: activation.ExecExecutor).
	Executor activation.Executor

	// Reporter receives orchestration stages (default: log lines).
	Reporter recovery.Reporter

	// WatchdogTicker and FailsafeTicker create the two periodic tick
	// sources (default: watchdog.NewTicker).
	WatchdogTicker func(time.Duration) watchdog.Ticker
	FailsafeTicker func(time.Duration) watchdog.Ticker

	// HeartbeatInterval is how often the lock and state file are refreshed
	// (default: the watchdog interval).
	HeartbeatInterval time.Duration

	// Command is recorded in the lock info (default: "phx daemon run").
	Command string

	// HandleSignals installs SIGINT/SIGTERM/SIGUSR1 handlers.
	HandleSignals bool
}

// Daemon is one supervision process for a workspace.
type Daemon struct {
	settings *config.Settings
	opts     Options
	logger   *slog.Logger

	lock     *lock.InstanceLock
	detector *crash.Detector
	orch     *recovery.Orchestrator
	watchdog *watchdog.Watchdog
	failsafe *failsafe.Mode
	restarts *RestartTracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // manual recoveries

	mu    sync.Mutex
	state *State
}

// New wires the recovery components for settings.
func New(settings *config.Settings, opts Options) *Daemon {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Command == "" {
		opts.Command = "phx daemon run"
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = settings.WatchdogInterval.Duration
	}
	logger := opts.Logger

	store := session.NewStore(settings.SessionPath(), settings.StatusDocPath())
	runner := activation.NewRunner(store, activation.Options{
		Dir:        settings.Root,
		Activation: settings.ActivationCommand,
		Fallback:   settings.FallbackCommand,
		Timeout:    settings.CommandTimeout.Duration,
		Executor:   opts.Executor,
		Logger:     logger.With("component", "activation"),
	})

	orchOpts := []recovery.Option{recovery.WithLogger(logger.With("component", "recovery"))}
	if opts.Reporter != nil {
		orchOpts = append(orchOpts, recovery.WithReporter(opts.Reporter))
	}
	orch := recovery.New(config.NewGate(settings.EnvPath()), store, runner, orchOpts...)

	detector := crash.NewDetector(settings.CrashLockPath(), settings.RunStatePath())

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		settings: settings,
		opts:     opts,
		logger:   logger,
		lock:     lock.New(settings.DaemonDir()),
		restarts: NewRestartTracker(settings.DaemonDir()),
		detector: detector,
		orch:     orch,
		ctx:      ctx,
		cancel:   cancel,
	}

	// Activation and fallback together can take two command timeouts.
	d.watchdog = watchdog.New(detector, orch, watchdog.Options{
		Interval:   settings.WatchdogInterval.Duration,
		Timeout:    2 * runner.Timeout(),
		NewTicker:  opts.WatchdogTicker,
		Logger:     logger.With("component", "watchdog"),
		OnRecovery: d.recordWatchdogRecovery,
	})
	d.failsafe = failsafe.New(settings.FailsafePath(), orch, failsafe.Options{
		Interval:  settings.FailsafeInterval.Duration,
		NewTicker: opts.FailsafeTicker,
		Logger:    logger.With("component", "failsafe"),
		OnAttempt: d.recordFailsafeAttempt,
	})
	return d
}

// Orchestrator returns the daemon's recovery orchestrator.
func (d *Daemon) Orchestrator() *recovery.Orchestrator {
	return d.orch
}

// Run holds the instance lock and supervises until Stop, a termination
// signal, or a boot outcome that leaves nothing to supervise.
//
// Errors are coded: exitcode.ErrBusy when another instance runs and
// exitcode.ErrRecoveryDisabled when the gate is closed at boot. Failsafe
// entry is not an error; Run keeps supervising.
func (d *Daemon) Run() error {
	d.logger.Info("daemon starting", "pid", os.Getpid(), "root", d.settings.Root)

	if err := d.lock.TryAcquire(d.opts.Command); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return exitcode.Busy(err)
		}
		return err
	}
	defer func() {
		if err := d.lock.Release(); err != nil {
			d.logger.Warn("releasing instance lock", "err", err)
		}
	}()

	pidFile := PidFile(d.settings.DaemonDir())
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil { //nolint:gosec // G306: pid file is not sensitive
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(pidFile) }()

	if err := d.restarts.Load(); err != nil {
		d.logger.Warn("loading recovery history; starting fresh", "err", err)
	}

	d.setState(&State{
		Running:   true,
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
	})
	d.saveState()

	sigChan := make(chan os.Signal, 1)
	if d.opts.HandleSignals {
		signal.Notify(sigChan, daemonSignals()...)
		defer signal.Stop(sigChan)
	}

	res, err := d.safeBoot(d.ctx)
	switch {
	case err != nil:
		d.enterFailsafe(err.Error())
	case res.Outcome == recovery.OutcomeDisabled:
		d.logger.Info("recovery disabled; daemon exiting", "source", d.settings.EnvPath())
		d.shutdown()
		return exitcode.RecoveryDisabled(d.settings.EnvFile)
	}

	timer := time.NewTimer(d.opts.HeartbeatInterval)
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("daemon context canceled, shutting down")
			d.shutdown()
			return nil

		case sig := <-sigChan:
			if isRecoverSignal(sig) {
				d.logger.Info("received recover signal, running manual recovery")
				d.manualRecover()
				continue
			}
			d.logger.Info("received signal, shutting down", "signal", sig.String())
			d.shutdown()
			return nil

		case <-timer.C:
			d.heartbeat()
			timer.Reset(d.opts.HeartbeatInterval)
		}
	}
}

// safeBoot runs boot and converts a panic into an error.
func (d *Daemon) safeBoot(ctx context.Context) (res recovery.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("boot panic: %v", r)
		}
	}()
	return d.boot(ctx)
}

// boot is the startup orchestration: crash check, gate, session, activation,
// conditional fallback, then watchdog start. The watchdog starts after a
// failed orchestration too; it is skipped only when recovery is disabled.
func (d *Daemon) boot(ctx context.Context) (recovery.Result, error) {
	crashed := d.detector.DetectCrash()
	reason := d.detector.Reason()
	if crashed {
		d.logger.Warn("unclean shutdown detected", "reason", reason)
	} else {
		d.logger.Info("clean start")
	}
	d.updateState(func(s *State) {
		s.CrashDetected = crashed
		s.CrashReason = reason
	})

	res := d.orch.Execute(ctx, recovery.TriggerBoot)
	d.updateState(func(s *State) { s.BootOutcome = string(res.Outcome) })

	if res.Outcome == recovery.OutcomeDisabled {
		d.saveState()
		return res, nil
	}
	d.recordRecovery(res)
	if !res.Success() {
		d.logger.Error("boot recovery failed; watchdog will retry on invalid state", "err", res.Err())
	}

	if err := d.watchdog.Start(ctx); err != nil {
		return res, fmt.Errorf("starting watchdog: %w", err)
	}
	return res, nil
}

func (d *Daemon) enterFailsafe(reason string) {
	rec, err := d.failsafe.Enter(d.ctx, reason)
	if err != nil {
		d.logger.Error("entering failsafe mode", "err", err)
		return
	}
	d.updateState(func(s *State) {
		s.Failsafe = true
		s.FailsafeSessionID = rec.SessionID
	})
	d.saveState()
}

func (d *Daemon) heartbeat() {
	if err := d.lock.Heartbeat(); err != nil {
		d.logger.Warn("refreshing lock heartbeat", "err", err)
	}
	d.updateState(func(s *State) {
		s.LastHeartbeat = time.Now().UTC()
		s.HeartbeatCount++
		s.WatchdogTicks = d.watchdog.Ticks()
		s.FailsafeAttempts = d.failsafe.Attempts()
	})
	d.saveState()
	d.logger.Debug("heartbeat")
}

func (d *Daemon) recordWatchdogRecovery(res recovery.Result) {
	d.updateState(func(s *State) { s.WatchdogRecoveries++ })
	d.recordRecovery(res)
}

// recordRecovery updates the state file and recovery history after an
// orchestration.
func (d *Daemon) recordRecovery(res recovery.Result) {
	loop, err := d.restarts.Record(string(res.Trigger), string(res.Outcome), res.Success())
	if err != nil {
		d.logger.Warn("saving recovery history", "err", err)
	}
	if loop {
		st := d.restarts.Status()
		d.logger.Error("crash loop detected", "recoveries", st.RecoveryCount,
			"window", CrashLoopWindow, "consecutive_failures", st.ConsecutiveFailures)
	}
	d.updateState(func(s *State) {
		s.LastRecovery = time.Now().UTC()
		s.LastOutcome = string(res.Outcome)
		s.CrashLoop = d.restarts.IsInCrashLoop()
	})
	d.saveState()
}

// manualRecover runs one manual recovery in the background. shutdown waits
// for it before the final state is written.
func (d *Daemon) manualRecover() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.recordRecovery(d.orch.Recover(d.ctx, recovery.TriggerManual))
	}()
}

func (d *Daemon) recordFailsafeAttempt(attempt int, _ error) {
	d.updateState(func(s *State) { s.FailsafeAttempts = attempt })
	d.saveState()
}

func (d *Daemon) shutdown() {
	d.logger.Info("daemon shutting down")

	d.cancel()
	d.watchdog.Stop()
	d.failsafe.Stop()
	d.wg.Wait()

	d.updateState(func(s *State) { s.Running = false })
	d.saveState()
	d.logger.Info("daemon stopped")
}

// Stop signals the daemon to stop.
func (d *Daemon) Stop() {
	d.cancel()
}

// State returns a copy of the current state, or nil before Run.
func (d *Daemon) State() *State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == nil {
		return nil
	}
	cp := *d.state
	return &cp
}

func (d *Daemon) setState(s *State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Daemon) updateState(fn func(*State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != nil {
		fn(d.state)
	}
}

func (d *Daemon) saveState() {
	st := d.State()
	if st == nil {
		return
	}
	if err := SaveState(d.settings.DaemonDir(), st); err != nil {
		d.logger.Warn("saving daemon state", "err", err)
	}
}

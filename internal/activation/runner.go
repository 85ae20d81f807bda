// Package activation invokes the external activation and fallback-restart
// commands with a bounded timeout.
//
// Both commands are opaque: success is a zero exit status within the
// timeout. A non-zero exit, an expired timeout or a command that cannot be
// started is returned as a *CommandError and is never retried here.
package activation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/steveyegge/phoenix/internal/session"
)

// DefaultTimeout is the upper bound on a single command invocation.
const DefaultTimeout = 30 * time.Second

// Options configures a Runner.
type Options struct {
	// Dir is the working directory for both commands.
	Dir string

	// Activation is the primary activation command argv.
	Activation []string

	// Fallback is the fallback restart command argv.
	Fallback []string

	// Timeout bounds each invocation (default: DefaultTimeout).
	Timeout time.Duration

	// Executor runs commands (default: ExecExecutor).
	Executor Executor

	// Logger receives structured progress lines (default: slog.Default()).
	Logger *slog.Logger
}

// Runner resumes a session or restarts via the fallback command.
type Runner struct {
	store      *session.Store
	dir        string
	activation []string
	fallback   []string
	timeout    time.Duration
	exec       Executor
	logger     *slog.Logger
	now        func() time.Time
}

// NewRunner creates a Runner persisting fresh descriptors to store.
func NewRunner(store *session.Store, opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Executor == nil {
		opts.Executor = ExecExecutor{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		store:      store,
		dir:        opts.Dir,
		activation: opts.Activation,
		fallback:   opts.Fallback,
		timeout:    opts.Timeout,
		exec:       opts.Executor,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// Timeout returns the per-command bound.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// ResumeSession prepares the session cache and runs the activation command.
//
// The cache directory is created if absent. If no cache file exists yet, a
// fresh descriptor (prior phase or default, recovery count 1) is persisted
// before the command runs. prior may be nil.
func (r *Runner) ResumeSession(ctx context.Context, prior *session.Descriptor) error {
	if err := r.store.EnsureDir(); err != nil {
		return fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}

	if !r.store.CacheExists() {
		fresh := session.Fresh(prior, r.now())
		if err := r.store.Save(fresh); err != nil {
			// The command can still bring the system up; the cache is advisory.
			r.logger.Warn("persisting fresh session failed", "path", r.store.CachePath(), "err", err)
		} else {
			r.logger.Info("persisted fresh session", "phase", fresh.Phase, "recovery_count", fresh.RecoveryCount)
		}
	}

	return r.run(ctx, StageActivation, r.activation)
}

// FallbackRestart runs the fallback restart command.
func (r *Runner) FallbackRestart(ctx context.Context) error {
	return r.run(ctx, StageFallback, r.fallback)
}

func (r *Runner) run(ctx context.Context, stage Stage, argv []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.now()
	r.logger.Info("running command", "stage", stage, "argv", argv, "timeout", r.timeout)

	res := r.exec.Run(ctx, r.dir, argv)
	kind := classify(ctx, res)
	elapsed := time.Since(start).Round(time.Millisecond)

	if kind == nil {
		r.logger.Info("command succeeded", "stage", stage, "elapsed", elapsed)
		return nil
	}

	cmdErr := &CommandError{
		Stage:    stage,
		Command:  argv,
		Kind:     kind,
		ExitCode: res.ExitCode,
		Stderr:   res.Stderr,
		Err:      res.Err,
	}
	r.logger.Warn("command failed", "stage", stage, "elapsed", elapsed, "err", cmdErr)
	return cmdErr
}

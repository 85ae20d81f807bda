// Package recovery implements the recovery policy: gate on configuration,
// load the last session, resume it, and fall back to a full restart only
// when resuming failed and there was no prior session to resume.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/steveyegge/phoenix/internal/session"
	"github.com/steveyegge/phoenix/internal/telemetry"
)

// Gate reports whether recovery is enabled.
type Gate interface {
	Enabled() bool
}

// Loader loads the last known session.
type Loader interface {
	Load() (*session.Descriptor, error)
}

// Activator runs the activation and fallback commands.
type Activator interface {
	ResumeSession(ctx context.Context, prior *session.Descriptor) error
	FallbackRestart(ctx context.Context) error
}

// Trigger names what started a recovery attempt.
type Trigger string

const (
	TriggerBoot     Trigger = "boot"
	TriggerWatchdog Trigger = "watchdog"
	TriggerManual   Trigger = "manual"
	TriggerFailsafe Trigger = "failsafe"
)

// Orchestrator runs the recovery policy. Concurrent Recover calls share a
// single in-flight attempt, as do concurrent Fallback calls.
type Orchestrator struct {
	gate     Gate
	sessions Loader
	runner   Activator
	reporter Reporter
	logger   *slog.Logger

	group singleflight.Group
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithReporter sets the stage reporter (default: log lines only).
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithLogger sets the structured logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(gate Gate, sessions Loader, runner Activator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gate:     gate,
		sessions: sessions,
		runner:   runner,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.reporter == nil {
		o.reporter = NewLogReporter(o.logger)
	}
	return o
}

// Execute is the top-level entry: a disabled gate returns OutcomeDisabled
// without touching the session or running any command; otherwise it runs
// Recover.
func (o *Orchestrator) Execute(ctx context.Context, trigger Trigger) Result {
	o.reporter.Stage(StageConfig)
	if !o.gate.Enabled() {
		o.reporter.Done(StageConfig, ErrDisabled)
		o.logger.Info("recovery disabled by configuration")
		return Result{Outcome: OutcomeDisabled, Trigger: trigger}
	}
	o.reporter.Done(StageConfig, nil)

	return o.Recover(ctx, trigger)
}

// Recover loads the session and attempts activation, falling back to a
// restart only when activation failed and no prior session was found.
// There are no retries inside one call.
func (o *Orchestrator) Recover(ctx context.Context, trigger Trigger) Result {
	v, _, shared := o.group.Do("recover", func() (interface{}, error) {
		return o.recover(ctx, trigger), nil
	})
	res := v.(Result)
	if shared {
		o.logger.Debug("joined in-flight recovery", "trigger", trigger, "outcome", res.Outcome)
	}
	return res
}

func (o *Orchestrator) recover(ctx context.Context, trigger Trigger) Result {
	start := time.Now()
	res := Result{Trigger: trigger}
	defer func() {
		telemetry.RecordRecovery(ctx, string(trigger), string(res.Outcome), time.Since(start))
		o.logger.Info("recovery finished", "trigger", trigger, "outcome", res.Outcome,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}()

	o.reporter.Stage(StageSession)
	prior, err := o.sessions.Load()
	res.Session, res.SessionErr = prior, err
	o.reporter.Done(StageSession, err)
	if err != nil {
		o.logger.Info("no prior session", "err", err)
	} else {
		o.logger.Info("loaded session", "phase", prior.Phase, "status", prior.Status,
			"source", prior.Source, "recovery_count", prior.RecoveryCount)
	}

	o.reporter.Stage(StageActivation)
	cmdStart := time.Now()
	res.ActivationErr = o.runner.ResumeSession(ctx, prior)
	telemetry.RecordCommand(ctx, string(StageActivation), res.ActivationErr, time.Since(cmdStart))
	o.reporter.Done(StageActivation, res.ActivationErr)
	if res.ActivationErr == nil {
		res.Outcome = OutcomeResumed
		return res
	}

	// A loaded session means the failure was a single command failing;
	// a broader restart is reserved for when there was nothing to resume.
	if !errors.Is(res.SessionErr, session.ErrNotFound) {
		o.logger.Warn("activation failed with a prior session; not falling back", "err", res.ActivationErr)
		res.Outcome = OutcomeFailed
		return res
	}

	res.FallbackAttempted = true
	res.FallbackErr = o.fallback(ctx)
	if res.FallbackErr == nil {
		res.Outcome = OutcomeRestarted
		return res
	}

	o.logger.Error("recovery failed; manual intervention required",
		"activation_err", res.ActivationErr, "fallback_err", res.FallbackErr)
	res.Outcome = OutcomeFailed
	return res
}

// Fallback runs only the fallback restart command. Used by failsafe mode.
func (o *Orchestrator) Fallback(ctx context.Context) error {
	_, err, _ := o.group.Do("fallback", func() (interface{}, error) {
		return nil, o.fallback(ctx)
	})
	return err
}

func (o *Orchestrator) fallback(ctx context.Context) error {
	o.reporter.Stage(StageFallback)
	start := time.Now()
	err := o.runner.FallbackRestart(ctx)
	telemetry.RecordCommand(ctx, string(StageFallback), err, time.Since(start))
	o.reporter.Done(StageFallback, err)
	return err
}

package activation

import (
	"errors"
	"fmt"
	"strings"
)

// Stage sentinels. Every error returned by ResumeSession matches
// ErrActivationFailed; every error from FallbackRestart matches
// ErrFallbackFailed.
var (
	ErrActivationFailed = errors.New("activation failed")
	ErrFallbackFailed   = errors.New("fallback restart failed")
)

// Kind sentinels describe how a command failed.
var (
	ErrTimeout     = errors.New("command timed out")
	ErrNonZeroExit = errors.New("command exited non-zero")
	ErrUnreachable = errors.New("command could not be started")
)

// Stage names which command a CommandError belongs to.
type Stage string

const (
	StageActivation Stage = "activation"
	StageFallback   Stage = "fallback"
)

func (s Stage) sentinel() error {
	if s == StageFallback {
		return ErrFallbackFailed
	}
	return ErrActivationFailed
}

// CommandError reports a failed external command invocation.
type CommandError struct {
	Stage    Stage
	Command  []string
	Kind     error
	ExitCode int
	Stderr   string
	Err      error
}

// Error returns a one-line description including the stderr tail, if any.
func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s command %q: %v", e.Stage, strings.Join(e.Command, " "), e.Kind)
	if errors.Is(e.Kind, ErrNonZeroExit) {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil && !errors.Is(e.Kind, ErrNonZeroExit) {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, ": %s", e.Stderr)
	}
	return b.String()
}

// Unwrap exposes the stage sentinel, the kind sentinel and the cause.
func (e *CommandError) Unwrap() []error {
	errs := []error{e.Stage.sentinel(), e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

package recovery

import (
	"errors"

	"github.com/steveyegge/phoenix/internal/session"
)

// Outcome is the overall result of one orchestration call.
type Outcome string

const (
	// OutcomeDisabled means the configuration gate was closed.
	OutcomeDisabled Outcome = "disabled"

	// OutcomeResumed means the activation command succeeded.
	OutcomeResumed Outcome = "resumed"

	// OutcomeRestarted means activation failed and the fallback succeeded.
	OutcomeRestarted Outcome = "restarted"

	// OutcomeFailed means no command brought the system back.
	OutcomeFailed Outcome = "failed"
)

var (
	// ErrDisabled is reported when the configuration gate is closed.
	ErrDisabled = errors.New("recovery disabled by configuration")

	// ErrRecoveryFailed is reported when neither activation nor fallback succeeded.
	ErrRecoveryFailed = errors.New("recovery failed")
)

// Result records what happened during one orchestration call.
type Result struct {
	Outcome Outcome
	Trigger Trigger

	// Session is the loaded descriptor, nil when SessionErr is set.
	Session    *session.Descriptor
	SessionErr error

	ActivationErr error

	// FallbackAttempted is true only when activation failed and no prior
	// session was found.
	FallbackAttempted bool
	FallbackErr       error
}

// Success reports whether the system is operational after the call.
func (r Result) Success() bool {
	return r.Outcome == OutcomeResumed || r.Outcome == OutcomeRestarted
}

// Err returns nil on success, ErrDisabled for a closed gate, or an error
// matching ErrRecoveryFailed that wraps the command failures.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeResumed, OutcomeRestarted:
		return nil
	case OutcomeDisabled:
		return ErrDisabled
	}

	causes := []error{ErrRecoveryFailed}
	if r.ActivationErr != nil {
		causes = append(causes, r.ActivationErr)
	}
	if r.FallbackErr != nil {
		causes = append(causes, r.FallbackErr)
	}
	return errors.Join(causes...)
}

// String summarizes the result for status lines.
func (r Result) String() string {
	switch r.Outcome {
	case OutcomeResumed:
		return "operational (session resumed)"
	case OutcomeRestarted:
		return "operational (fallback restart)"
	case OutcomeDisabled:
		return "recovery disabled"
	default:
		if r.FallbackAttempted {
			return "failed (activation and fallback failed)"
		}
		return "failed (activation failed; fallback not eligible with a prior session)"
	}
}

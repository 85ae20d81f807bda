// Package session persists and restores the session descriptor: the minimal
// record of where the supervised system left off before it stopped.
//
// The descriptor is loaded from a primary JSON cache. When the cache is
// missing or malformed, an approximate descriptor is derived from the
// human-readable status document. When neither is usable, Load returns
// ErrNotFound, which callers treat as a first boot rather than a failure.
package session

import (
	"time"
)

// Source records where a Descriptor came from.
type Source string

const (
	// SourceCache marks a descriptor parsed from the primary JSON cache.
	SourceCache Source = "cache"

	// SourceFallback marks a descriptor derived from the status document.
	SourceFallback Source = "fallback-derived"
)

// Defaults used when the status document lacks a token.
const (
	DefaultPhase   = "1.0"
	StatusRecovery = "RECOVERY"
)

// Descriptor is the last known session state.
type Descriptor struct {
	Phase         string    `json:"phase"`
	LastSync      time.Time `json:"lastSync"`
	Status        string    `json:"status"`
	Source        Source    `json:"source"`
	RecoveryCount int       `json:"recoveryCount"`
}

// PhaseOrDefault returns the descriptor phase, or DefaultPhase for a nil
// descriptor or empty phase.
func (d *Descriptor) PhaseOrDefault() string {
	if d == nil || d.Phase == "" {
		return DefaultPhase
	}
	return d.Phase
}

// Fresh builds the descriptor persisted when resuming without a cache file.
func Fresh(prior *Descriptor, now time.Time) *Descriptor {
	return &Descriptor{
		Phase:         prior.PhaseOrDefault(),
		LastSync:      now.UTC(),
		Status:        StatusRecovery,
		Source:        SourceCache,
		RecoveryCount: 1,
	}
}

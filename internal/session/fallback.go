package session

import (
	"fmt"
	"os"
	"regexp"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	phasePattern  = regexp.MustCompile(`\bPhase\s+(\d+\.\d+)`)
	statusPattern = regexp.MustCompile(`(?i)\bstatus\b[^\w\n]*(\w+)`)

	upper = cases.Upper(language.Und)
)

// ParseStatusDocument extracts phase and status tokens from free text.
// Missing tokens fall back to DefaultPhase and StatusRecovery.
func ParseStatusDocument(text string) (phase, status string) {
	phase = DefaultPhase
	if m := phasePattern.FindStringSubmatch(text); m != nil {
		phase = m[1]
	}

	status = StatusRecovery
	if m := statusPattern.FindStringSubmatch(text); m != nil {
		status = upper.String(m[1])
	}

	return phase, status
}

// deriveFromDocument reads the status document at path and builds a
// fallback descriptor from it. LastSync is the document's modification time.
func deriveFromDocument(path string) (*Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading status document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("status document %s is a directory", path)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from settings
	if err != nil {
		return nil, fmt.Errorf("reading status document: %w", err)
	}

	phase, status := ParseStatusDocument(string(data))
	return &Descriptor{
		Phase:    phase,
		LastSync: info.ModTime().UTC(),
		Status:   status,
		Source:   SourceFallback,
	}, nil
}

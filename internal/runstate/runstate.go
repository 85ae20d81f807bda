// Package runstate reads and validates the run-state document, the JSON
// record that declares whether the supervised system is active and which
// components are considered live.
//
// A document is valid when it declares "isActive": true and a non-empty
// "agents" collection (array or object). Anything else, including a missing
// or unparseable file, is reported as ErrCorrupt.
package runstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/steveyegge/phoenix/internal/util"
)

// ErrCorrupt means the document is missing, unparseable, or not live.
var ErrCorrupt = errors.New("run state corrupt")

// Document is the run-state record. Unknown fields are ignored.
type Document struct {
	IsActive  *bool           `json:"isActive"`
	Agents    json.RawMessage `json:"agents"`
	UpdatedAt time.Time       `json:"updatedAt,omitempty"`
}

// Active reports the declared active flag; absent counts as false.
func (d *Document) Active() bool {
	return d != nil && d.IsActive != nil && *d.IsActive
}

// AgentCount returns the number of entries in the agents collection, or -1
// if agents is absent or neither an array nor an object.
func (d *Document) AgentCount() int {
	if d == nil {
		return -1
	}
	raw := bytes.TrimSpace(d.Agents)
	if len(raw) == 0 {
		return -1
	}

	switch raw[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return -1
		}
		return len(list)
	case '{':
		var set map[string]json.RawMessage
		if err := json.Unmarshal(raw, &set); err != nil {
			return -1
		}
		return len(set)
	default:
		return -1
	}
}

// Validate checks the liveness shape.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: no document", ErrCorrupt)
	}
	if d.IsActive == nil {
		return fmt.Errorf("%w: isActive missing", ErrCorrupt)
	}
	if !*d.IsActive {
		return fmt.Errorf("%w: isActive is false", ErrCorrupt)
	}
	switch n := d.AgentCount(); {
	case n < 0:
		return fmt.Errorf("%w: agents missing or not a collection", ErrCorrupt)
	case n == 0:
		return fmt.Errorf("%w: agents is empty", ErrCorrupt)
	}
	return nil
}

// Read parses the document at path without validating it.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from settings
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: parsing: %w", ErrCorrupt, err)
	}
	return &d, nil
}

// Check reads and validates the document at path. A nil return means the
// system is live; any error matches ErrCorrupt.
func Check(path string) error {
	d, err := Read(path)
	if err != nil {
		return err
	}
	return d.Validate()
}

// Write persists a document atomically. Used by tooling and tests; the
// supervised system normally owns this file.
func Write(path string, active bool, agents []string) error {
	if agents == nil {
		agents = []string{}
	}
	raw, err := json.Marshal(agents)
	if err != nil {
		return err
	}
	d := Document{
		IsActive:  &active,
		Agents:    raw,
		UpdatedAt: time.Now().UTC(),
	}
	return util.AtomicWriteJSON(path, &d)
}

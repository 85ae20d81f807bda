package runstate

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runstate.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		content string
		valid   bool
	}{
		{"active with agent list", `{"isActive": true, "agents": ["planner", "executor"]}`, true},
		{"active with agent map", `{"isActive": true, "agents": {"planner": {"live": true}}}`, true},
		{"extra fields tolerated", `{"isActive": true, "agents": ["a"], "phase": "7.5"}`, true},
		{"inactive", `{"isActive": false, "agents": ["planner"]}`, false},
		{"missing active flag", `{"agents": ["planner"]}`, false},
		{"empty agent list", `{"isActive": true, "agents": []}`, false},
		{"empty agent map", `{"isActive": true, "agents": {}}`, false},
		{"agents missing", `{"isActive": true}`, false},
		{"agents null", `{"isActive": true, "agents": null}`, false},
		{"agents scalar", `{"isActive": true, "agents": 3}`, false},
		{"active flag wrong type", `{"isActive": "yes", "agents": ["a"]}`, false},
		{"truncated", `{"isActive": true, "agen`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(writeDoc(t, tt.content))
			if tt.valid && err != nil {
				t.Errorf("Check() = %v, want nil", err)
			}
			if !tt.valid && err == nil {
				t.Error("Check() = nil, want ErrCorrupt")
			}
		})
	}
}

func TestCheck_Missing(t *testing.T) {
	if err := Check(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("missing document should be corrupt")
	}
}

func TestWriteThenCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "runstate.json")

	if err := Write(path, true, []string{"planner"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Check(path); err != nil {
		t.Errorf("Check after live write = %v", err)
	}

	if err := Write(path, true, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Check(path); err == nil {
		t.Error("Check after empty-agents write should fail")
	}

	d, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !d.Active() {
		t.Error("Active() = false, want true")
	}
	if n := d.AgentCount(); n != 0 {
		t.Errorf("AgentCount() = %d, want 0", n)
	}
}

func TestNilDocument(t *testing.T) {
	var d *Document
	if d.Active() {
		t.Error("nil document should not be active")
	}
	if d.AgentCount() != -1 {
		t.Error("nil document should report -1 agents")
	}
	if d.Validate() == nil {
		t.Error("nil document should not validate")
	}
}

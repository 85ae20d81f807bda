package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "cache", "session.json"), filepath.Join(dir, "STATUS.md")), dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_FromCache(t *testing.T) {
	s, _ := newTestStore(t)
	writeFile(t, s.CachePath(), `{
  "phase": "7.5",
  "lastSync": "2026-03-01T12:00:00Z",
  "status": "OPERATIONAL",
  "recoveryCount": 4,
  "extra": {"ignored": true}
}`)

	d, err := s.Load()
	require.NoError(t, err)

	assert.Equal(t, "7.5", d.Phase)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), d.LastSync.UTC())
	assert.Equal(t, "OPERATIONAL", d.Status)
	assert.Equal(t, 4, d.RecoveryCount)
	assert.Equal(t, SourceCache, d.Source)
}

func TestLoad_CacheTaggedEvenIfFileSaysOtherwise(t *testing.T) {
	s, _ := newTestStore(t)
	writeFile(t, s.CachePath(), `{"phase":"2.0","status":"X","source":"fallback-derived"}`)

	d, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, SourceCache, d.Source)
}

func TestLoad_MalformedCacheFallsBackToDocument(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, s.CachePath(), `{"phase": "7.5", broken`)
	writeFile(t, filepath.Join(dir, "STATUS.md"), "# Project\n\nPhase 7.5 complete\n\nStatus: RECOVERY\n")

	d, err := s.Load()
	require.NoError(t, err)

	assert.Equal(t, "7.5", d.Phase)
	assert.Equal(t, "RECOVERY", d.Status)
	assert.Equal(t, SourceFallback, d.Source)
	assert.Equal(t, 0, d.RecoveryCount)
	assert.False(t, d.LastSync.IsZero())
}

func TestLoad_MissingCacheFallsBackToDocument(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, filepath.Join(dir, "STATUS.md"), "Phase 3.2\n**Status**: operational\n")

	d, err := s.Load()
	require.NoError(t, err)

	assert.Equal(t, "3.2", d.Phase)
	assert.Equal(t, "OPERATIONAL", d.Status)
	assert.Equal(t, SourceFallback, d.Source)
}

func TestLoad_DocumentWithoutTokensUsesDefaults(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, filepath.Join(dir, "STATUS.md"), "nothing useful here\n")

	d, err := s.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPhase, d.Phase)
	assert.Equal(t, StatusRecovery, d.Status)
	assert.Equal(t, SourceFallback, d.Source)
}

func TestLoad_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	d, err := s.Load()
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_NeverWrites(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, filepath.Join(dir, "STATUS.md"), "Phase 1.1\n")

	_, err := s.Load()
	require.NoError(t, err)

	assert.False(t, s.CacheExists())
	_, err = os.Stat(s.CacheDir())
	assert.True(t, os.IsNotExist(err), "Load must not create the cache directory")
}

func TestParseStatusDocument(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantPhase  string
		wantStatus string
	}{
		{"both tokens", "Phase 7.5\nStatus: RECOVERY", "7.5", "RECOVERY"},
		{"markdown emphasis", "## Phase 12.03 rollout\n- **Status**: ✅ ACTIVE", "12.03", "ACTIVE"},
		{"status heading on its own line", "Status\nPhase 2.4\nstatus = degraded", "2.4", "DEGRADED"},
		{"statusline is not a status label", "# Statusline integration\n**Status**: OPERATIONAL", DefaultPhase, "OPERATIONAL"},
		{"substatus is not a status label", "Phase 7.5 substatus tracking\nStatus: RECOVERY", "7.5", "RECOVERY"},
		{"subphase is not a phase label", "SubPhase 3.1\nPhase 4.2", "4.2", StatusRecovery},
		{"phase without minor is ignored", "Phase 7 only\nStatus: OK", DefaultPhase, "OK"},
		{"empty", "", DefaultPhase, StatusRecovery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase, status := ParseStatusDocument(tt.text)
			assert.Equal(t, tt.wantPhase, phase)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestSave_WritesAndEnforcesMonotonicCount(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.EnsureDir())
	require.NoError(t, s.EnsureDir(), "EnsureDir must be idempotent")

	d := Fresh(nil, time.Now())
	require.NoError(t, s.Save(d))

	data, err := os.ReadFile(s.CachePath())
	require.NoError(t, err)
	var onDisk Descriptor
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, DefaultPhase, onDisk.Phase)
	assert.Equal(t, 1, onDisk.RecoveryCount)

	d.RecoveryCount = 3
	require.NoError(t, s.Save(d))

	d.RecoveryCount = 2
	assert.ErrorIs(t, s.Save(d), ErrCountDecrease)

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.RecoveryCount)
}

func TestFresh(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	d := Fresh(&Descriptor{Phase: "7.5", RecoveryCount: 9}, now)
	assert.Equal(t, "7.5", d.Phase)
	assert.Equal(t, 1, d.RecoveryCount)
	assert.Equal(t, StatusRecovery, d.Status)
	assert.Equal(t, SourceCache, d.Source)
	assert.Equal(t, now, d.LastSync)

	assert.Equal(t, DefaultPhase, Fresh(nil, now).Phase)
	assert.Equal(t, DefaultPhase, Fresh(&Descriptor{}, now).Phase)
}

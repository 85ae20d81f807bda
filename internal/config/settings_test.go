package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	root := t.TempDir()

	s, err := LoadSettings(root)
	require.NoError(t, err)

	assert.Equal(t, root, s.Root)
	assert.Equal(t, filepath.Join(root, ".env"), s.EnvPath())
	assert.Equal(t, filepath.Join(root, ".phoenix", "cache", "session.json"), s.SessionPath())
	assert.Equal(t, filepath.Join(root, "STATUS.md"), s.StatusDocPath())
	assert.Equal(t, filepath.Join(root, ".phoenix", "runstate.json"), s.RunStatePath())
	assert.Equal(t, filepath.Join(root, ".phoenix", "crash.lock"), s.CrashLockPath())
	assert.Equal(t, filepath.Join(root, ".phoenix", "failsafe.json"), s.FailsafePath())
	assert.Equal(t, filepath.Join(root, ".phoenix", "daemon", "phoenix.log"), s.LogPath())
	assert.Equal(t, 30*time.Second, s.CommandTimeout.Duration)
	assert.Equal(t, 30*time.Second, s.WatchdogInterval.Duration)
	assert.Equal(t, 60*time.Second, s.FailsafeInterval.Duration)
	assert.NoError(t, s.Validate())
}

func TestLoadSettings_FromFile(t *testing.T) {
	root := t.TempDir()
	content := `
env_file = "config/app.env"
status_doc = "/abs/STATUS.md"
activation_command = ["node", "scripts/activate.js", "--resume"]
fallback_command = ["./restart.sh"]
command_timeout = "10s"
watchdog_interval = "1m"
log_level = "debug"
`
	require.NoError(t, os.WriteFile(SettingsPath(root), []byte(content), 0644))

	s, err := LoadSettings(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "config", "app.env"), s.EnvPath())
	assert.Equal(t, "/abs/STATUS.md", s.StatusDocPath())
	assert.Equal(t, []string{"node", "scripts/activate.js", "--resume"}, s.ActivationCommand)
	assert.Equal(t, []string{"./restart.sh"}, s.FallbackCommand)
	assert.Equal(t, 10*time.Second, s.CommandTimeout.Duration)
	assert.Equal(t, time.Minute, s.WatchdogInterval.Duration)
	// Unset keys keep their defaults.
	assert.Equal(t, 60*time.Second, s.FailsafeInterval.Duration)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoadSettings_Malformed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(SettingsPath(root), []byte("command_timeout = [oops"), 0644))

	_, err := LoadSettings(root)
	assert.Error(t, err)
}

func TestLoadSettings_BadDuration(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(SettingsPath(root), []byte(`command_timeout = "soon"`), 0644))

	_, err := LoadSettings(root)
	assert.Error(t, err)
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings("/tmp/x")
	s.FallbackCommand = nil
	assert.ErrorContains(t, s.Validate(), "fallback_command")

	s = DefaultSettings("/tmp/x")
	s.WatchdogInterval = Duration{}
	assert.ErrorContains(t, s.Validate(), "watchdog_interval")
}

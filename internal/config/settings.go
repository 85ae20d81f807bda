package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// SettingsFileName is the optional settings file at the workspace root.
const SettingsFileName = "phoenix.toml"

// StateDirName holds everything phoenix itself writes.
const StateDirName = ".phoenix"

// Duration is a time.Duration that decodes from TOML strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Settings locates the files phoenix reads and writes and the commands it runs.
// Relative paths are resolved against Root by Resolve.
type Settings struct {
	Root string `toml:"-"`

	EnvFile      string `toml:"env_file"`
	CacheDir     string `toml:"cache_dir"`
	SessionFile  string `toml:"session_file"`
	StatusDoc    string `toml:"status_doc"`
	RunStateFile string `toml:"runstate_file"`
	CrashLock    string `toml:"crash_lock"`
	FailsafeFile string `toml:"failsafe_file"`

	ActivationCommand []string `toml:"activation_command"`
	FallbackCommand   []string `toml:"fallback_command"`

	CommandTimeout   Duration `toml:"command_timeout"`
	WatchdogInterval Duration `toml:"watchdog_interval"`
	FailsafeInterval Duration `toml:"failsafe_interval"`

	LogLevel string `toml:"log_level"`
}

// Reference intervals.
const (
	DefaultCommandTimeout   = 30 * time.Second
	DefaultWatchdogInterval = 30 * time.Second
	DefaultFailsafeInterval = 60 * time.Second
)

// DefaultSettings returns the settings used when no phoenix.toml exists.
func DefaultSettings(root string) *Settings {
	return &Settings{
		Root:              root,
		EnvFile:           ".env",
		CacheDir:          filepath.Join(StateDirName, "cache"),
		SessionFile:       "session.json",
		StatusDoc:         "STATUS.md",
		RunStateFile:      filepath.Join(StateDirName, "runstate.json"),
		CrashLock:         filepath.Join(StateDirName, "crash.lock"),
		FailsafeFile:      filepath.Join(StateDirName, "failsafe.json"),
		ActivationCommand: []string{"./scripts/activate.sh"},
		FallbackCommand:   []string{"./scripts/restart.sh"},
		CommandTimeout:    Duration{DefaultCommandTimeout},
		WatchdogInterval:  Duration{DefaultWatchdogInterval},
		FailsafeInterval:  Duration{DefaultFailsafeInterval},
		LogLevel:          "info",
	}
}

// SettingsPath returns the settings file path for a workspace root.
func SettingsPath(root string) string {
	return filepath.Join(root, SettingsFileName)
}

// LoadSettings reads phoenix.toml from root over the defaults.
// A missing file is not an error.
func LoadSettings(root string) (*Settings, error) {
	s := DefaultSettings(root)

	path := SettingsPath(root)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("checking settings file: %w", err)
	}

	if _, err := toml.DecodeFile(path, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", SettingsFileName, err)
	}
	s.Root = root

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", SettingsFileName, err)
	}
	return s, nil
}

// Validate checks that commands are present and intervals are positive.
func (s *Settings) Validate() error {
	if len(s.ActivationCommand) == 0 || s.ActivationCommand[0] == "" {
		return errors.New("activation_command must not be empty")
	}
	if len(s.FallbackCommand) == 0 || s.FallbackCommand[0] == "" {
		return errors.New("fallback_command must not be empty")
	}
	if s.CommandTimeout.Duration <= 0 {
		return errors.New("command_timeout must be positive")
	}
	if s.WatchdogInterval.Duration <= 0 {
		return errors.New("watchdog_interval must be positive")
	}
	if s.FailsafeInterval.Duration <= 0 {
		return errors.New("failsafe_interval must be positive")
	}
	return nil
}

// Resolve joins a settings path with Root unless it is already absolute.
func (s *Settings) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.Root, p)
}

// EnvPath returns the resolved configuration source path.
func (s *Settings) EnvPath() string { return s.Resolve(s.EnvFile) }

// CacheDirPath returns the resolved session cache directory.
func (s *Settings) CacheDirPath() string { return s.Resolve(s.CacheDir) }

// SessionPath returns the resolved primary session cache file.
func (s *Settings) SessionPath() string {
	return filepath.Join(s.CacheDirPath(), s.SessionFile)
}

// StatusDocPath returns the resolved fallback status document.
func (s *Settings) StatusDocPath() string { return s.Resolve(s.StatusDoc) }

// RunStatePath returns the resolved run-state document.
func (s *Settings) RunStatePath() string { return s.Resolve(s.RunStateFile) }

// CrashLockPath returns the resolved crash-lock artifact.
func (s *Settings) CrashLockPath() string { return s.Resolve(s.CrashLock) }

// FailsafePath returns the resolved failsafe record path.
func (s *Settings) FailsafePath() string { return s.Resolve(s.FailsafeFile) }

// DaemonDir returns the directory for daemon state, lock and log files.
func (s *Settings) DaemonDir() string {
	return filepath.Join(s.Root, StateDirName, "daemon")
}

// LogPath returns the daemon log file path.
func (s *Settings) LogPath() string {
	return filepath.Join(s.DaemonDir(), "phoenix.log")
}

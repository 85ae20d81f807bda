// Package config provides phoenix configuration: the recovery enable flag
// read from a KEY=VALUE source, and the TOML settings file that locates
// state files and external commands.
package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// RecoveryKey is the configuration key that gates automatic recovery.
const RecoveryKey = "RECOVERY_MODE"

// EnableToken is the only value of RecoveryKey that enables recovery.
const EnableToken = "auto"

// IsRecoveryEnabled reports whether the KEY=VALUE source at path enables
// automatic recovery. Each line is evaluated on its own: lines without "="
// are skipped, the key must equal RecoveryKey exactly, and the trimmed value
// must equal EnableToken. The last matching line wins. A missing or
// unreadable file, a missing key, or any other value disables recovery.
// It never returns an error.
func IsRecoveryEnabled(path string) bool {
	value, ok := lookup(path, RecoveryKey)
	if !ok {
		return false
	}
	return value == EnableToken
}

// lookup returns the trimmed raw value of the last line in path whose key
// is exactly key. The value is not unquoted, expanded or stripped of
// comments.
func lookup(path, key string) (string, bool) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from settings
	if err != nil {
		return "", false
	}

	value, found := "", false
	for _, line := range strings.Split(string(data), "\n") {
		k, v, ok := strings.Cut(strings.TrimSuffix(line, "\r"), "=")
		if !ok || strings.TrimSpace(k) != key {
			continue
		}
		value, found = strings.TrimSpace(v), true
	}
	if !found {
		return "", false
	}
	return value, isolatedValue(key, value) == value
}

// isolatedValue runs viper's env reader over the single KEY=VALUE line. Any
// dotenv rewriting (quotes, comments, ${VAR} expansion) makes the result
// differ from the raw value.
func isolatedValue(key, value string) string {
	v := viper.New()
	v.SetConfigType("env")
	if err := v.ReadConfig(strings.NewReader(key + "=" + value + "\n")); err != nil {
		return ""
	}
	return v.GetString(key)
}

// Gate binds IsRecoveryEnabled to a fixed source path.
type Gate struct {
	path string
}

// NewGate returns a Gate reading the given source.
func NewGate(path string) *Gate {
	return &Gate{path: path}
}

// Enabled re-reads the source on every call.
func (g *Gate) Enabled() bool {
	return IsRecoveryEnabled(g.path)
}

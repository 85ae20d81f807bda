// Package cmd provides CLI commands for the phx tool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/phoenix/internal/config"
	"github.com/steveyegge/phoenix/internal/daemon"
	"github.com/steveyegge/phoenix/internal/exitcode"
	"github.com/steveyegge/phoenix/internal/style"
	"github.com/steveyegge/phoenix/internal/telemetry"
)

var (
	rootDir     string
	logLevel    string
	telProvider *telemetry.Provider
)

var rootCmd = &cobra.Command{
	Use:     "phx",
	Short:   "Phoenix - crash recovery and process supervision",
	Version: Version,
	Long: `Phoenix (phx) brings a workspace back to an operational state after an
unclean shutdown.

It resumes the last known session when one exists, falls back to a full
restart when none does, watches the run state while the system is up, and
keeps retrying from failsafe mode if startup itself breaks.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initTelemetry,
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	err := rootCmd.Execute()
	shutdownTelemetry()
	if err == nil {
		return exitcode.Success
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", style.ErrorPrefix, err)
	return exitcode.Code(err)
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupRecovery = "recovery"
	GroupServices = "services"
	GroupDiag     = "diag"
)

func init() {
	// Enable prefix matching for subcommands (e.g., "phx dae st" -> "phx daemon status")
	cobra.EnablePrefixMatching = true

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupRecovery, Title: "Recovery:"},
		&cobra.Group{ID: GroupServices, Title: "Services:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupDiag)

	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: from phoenix.toml)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitcode.Wrap(exitcode.ErrUsage, "invalid flags", err)
	})
}

func initTelemetry(cmd *cobra.Command, _ []string) error {
	p, err := telemetry.Init(cmd.Context(), "phx", Version)
	if err != nil {
		// Telemetry never blocks recovery.
		style.PrintWarning(cmd.ErrOrStderr(), "telemetry disabled: %v", err)
		return nil
	}
	telProvider = p
	return nil
}

func shutdownTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = telProvider.Shutdown(ctx)
}

// workspaceRoot returns --root, or the current directory.
func workspaceRoot() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return wd, nil
}

// loadSettings reads phoenix.toml for the workspace and applies --log-level.
func loadSettings() (*config.Settings, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitcode.FileNotFound(root)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, exitcode.Newf(exitcode.ErrUsage, "workspace root %s is not a directory", root)
	}

	settings, err := config.LoadSettings(root)
	if err != nil {
		return nil, exitcode.Wrap(exitcode.ErrUsage, "loading settings", err)
	}
	if logLevel != "" {
		if _, err := daemon.ParseLevel(logLevel); err != nil {
			return nil, exitcode.Wrap(exitcode.ErrUsage, "--log-level", err)
		}
		settings.LogLevel = logLevel
	}
	return settings, nil
}

// openLogger returns a JSON logger appending to the workspace log file.
// If the file cannot be opened the logger writes to fallback instead.
func openLogger(settings *config.Settings, fallback io.Writer) (*slog.Logger, func(), error) {
	var (
		w       = fallback
		closeFn = func() {}
	)
	if f, err := daemon.OpenLogFile(settings.LogPath()); err == nil {
		w = f
		closeFn = func() { _ = f.Close() }
	}
	logger, err := daemon.NewLogger(w, settings.LogLevel)
	if err != nil {
		closeFn()
		return nil, nil, exitcode.Wrap(exitcode.ErrUsage, "log level", err)
	}
	return logger, closeFn, nil
}

// buildCommandPath walks the command hierarchy to build the full command path.
// For example: "phx daemon start", "phx status", etc.
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand returns a RunE function for parent commands that require
// a subcommand. Without this, Cobra silently shows help and exits 0 for
// unknown subcommands like "phx daemon foobar", masking errors.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return exitcode.Newf(exitcode.ErrUsage, "requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return exitcode.Newf(exitcode.ErrUsage, "unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}

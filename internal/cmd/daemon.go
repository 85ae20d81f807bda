package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/phoenix/internal/config"
	"github.com/steveyegge/phoenix/internal/daemon"
	"github.com/steveyegge/phoenix/internal/style"
	"github.com/steveyegge/phoenix/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: GroupServices,
	Short:   "Manage the background supervisor",
	RunE:    requireSubcommand,
	Long: `Manage the phx background supervisor.

The supervisor performs the boot recovery, then runs the watchdog that
re-runs recovery whenever the run state becomes invalid. Only one
supervisor may run per workspace.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the supervisor",
	Long:  `Start the supervisor in the background, logging to .phoenix/daemon/phoenix.log.`,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the supervisor",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show supervisor status",
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View supervisor logs",
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the supervisor in the foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the supervisor",
	RunE:  runDaemonRestart,
}

var daemonClearHistoryCmd = &cobra.Command{
	Use:   "clear-history",
	Short: "Forget the recovery history and any crash loop flag",
	Long: `Reset the recovery history kept in .phoenix/daemon/recoveries.json.

The supervisor owns the history while it runs, so stop it first.`,
	RunE: runDaemonClearHistory,
}

var (
	daemonLogLines  int
	daemonLogFollow bool
	daemonStopGrace time.Duration
)

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonClearHistoryCmd)

	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "Follow log output")
	daemonStopCmd.Flags().DurationVar(&daemonStopGrace, "grace", 10*time.Second, "How long to wait before killing")
	daemonRestartCmd.Flags().DurationVar(&daemonStopGrace, "grace", 10*time.Second, "How long to wait before killing")

	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	running, pid, err := daemon.IsRunning(settings.DaemonDir())
	if err != nil {
		// Stale PID file was cleaned up; note it and carry on.
		style.PrintWarning(cmd.ErrOrStderr(), "%v", err)
	}
	if running {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}

	pid, err = spawnDaemon(settings)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s Daemon started (PID %d)\n", ui.RenderPassIcon(), pid)
	fmt.Fprintf(out, "  Log: %s\n", ui.ShortenPath(settings.LogPath()))
	return nil
}

// spawnDaemon starts "phx daemon run" detached and waits briefly for it to
// write its PID file.
func spawnDaemon(settings *config.Settings) (int, error) {
	phxPath, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("finding executable: %w", err)
	}

	argv := []string{"--root", settings.Root}
	if logLevel != "" {
		argv = append(argv, "--log-level", logLevel)
	}
	argv = append(argv, "daemon", "run")

	daemonProc := exec.Command(phxPath, argv...) //nolint:gosec // G204: our own binary
	daemonProc.Dir = settings.Root
	daemonProc.Stdin = nil
	daemonProc.Stdout = nil
	daemonProc.Stderr = nil

	if err := daemonProc.Start(); err != nil {
		return 0, fmt.Errorf("starting daemon: %w", err)
	}
	_ = daemonProc.Process.Release()

	// Wait for it to initialize
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		running, pid, _ := daemon.IsRunning(settings.DaemonDir())
		if running {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("daemon failed to start (check %s)", settings.LogPath())
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	_, pid, _ := daemon.IsRunning(settings.DaemonDir())
	if err := daemon.StopDaemon(settings.DaemonDir(), daemonStopGrace); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			return err
		}
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Daemon stopped (was PID %d)\n", ui.RenderPassIcon(), pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	running, pid, err := daemon.IsRunning(settings.DaemonDir())
	if err != nil {
		style.PrintWarning(cmd.ErrOrStderr(), "%v", err)
	}

	if !running {
		fmt.Fprintf(out, "%s Daemon not running\n", ui.RenderPendingIcon())
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Workspace:  %s\n", ui.ShortenPath(settings.Root))
		if st, err := daemon.LoadState(settings.DaemonDir()); err == nil && !st.StartedAt.IsZero() {
			fmt.Fprintf(out, "  Last run:   %s (outcome: %s)\n",
				ui.RelativeTime(st.StartedAt), orDash(st.LastOutcome))
		}
		writeHistory(out, settings.DaemonDir())
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Start with: %s\n", ui.RenderMuted("phx daemon start"))
		return nil
	}

	state, stateErr := daemon.LoadState(settings.DaemonDir())

	header := fmt.Sprintf("%s Daemon running (PID %d, v%s)", ui.RenderPassIcon(), pid, Version)
	if stateErr == nil && state.Failsafe {
		header = fmt.Sprintf("%s Daemon in FAILSAFE mode (PID %d, v%s)", ui.RenderFailIcon(), pid, Version)
	}
	fmt.Fprintln(out, header)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Workspace:  %s\n", ui.ShortenPath(settings.Root))

	if stateErr == nil && !state.StartedAt.IsZero() {
		fmt.Fprintf(out, "  Started:    %s (%s)\n",
			state.StartedAt.Local().Format("2006-01-02 15:04:05"),
			ui.RelativeTime(state.StartedAt))
		if !state.LastHeartbeat.IsZero() {
			fmt.Fprintf(out, "  Heartbeat:  #%d (%s)\n",
				state.HeartbeatCount, ui.RelativeTime(state.LastHeartbeat))
		}
		fmt.Fprintln(out)
		writeStateTable(out, state)
	}
	writeHistory(out, settings.DaemonDir())

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Log:        %s\n", ui.ShortenPath(settings.LogPath()))

	if stateErr == nil && !state.StartedAt.IsZero() {
		if binaryModTime, err := getBinaryModTime(); err == nil && binaryModTime.After(state.StartedAt) {
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  %s Binary updated since daemon start\n", ui.RenderWarnIcon())
			fmt.Fprintf(out, "    Run: %s\n", ui.RenderMuted("phx daemon restart"))
		}
	}
	return nil
}

func writeStateTable(w io.Writer, st *daemon.State) {
	tbl := style.NewTable(
		style.Column{Name: "FIELD", Width: 20},
		style.Column{Name: "VALUE", Width: 48},
	)
	crash := "clean start"
	if st.CrashDetected {
		crash = st.CrashReason
	}
	tbl.AddRow("boot", crash)
	tbl.AddRow("boot outcome", orDash(st.BootOutcome))
	if !st.LastRecovery.IsZero() {
		tbl.AddRow("last recovery", fmt.Sprintf("%s (%s)", orDash(st.LastOutcome), ui.RelativeTime(st.LastRecovery)))
	}
	tbl.AddRow("watchdog ticks", strconv.FormatInt(st.WatchdogTicks, 10))
	tbl.AddRow("watchdog recoveries", strconv.Itoa(st.WatchdogRecoveries))
	if st.CrashLoop {
		tbl.AddRow("crash loop", fmt.Sprintf("%d+ recoveries within %s", daemon.CrashLoopThreshold, daemon.CrashLoopWindow))
	}
	if st.Failsafe {
		tbl.AddRow("failsafe session", st.FailsafeSessionID)
		tbl.AddRow("failsafe attempts", strconv.Itoa(st.FailsafeAttempts))
	}
	fmt.Fprint(w, tbl.Render())
}

// writeHistory prints the persisted recovery history, if any.
func writeHistory(w io.Writer, dir string) {
	h, err := daemon.LoadRestartState(dir)
	if err != nil {
		fmt.Fprintf(w, "  History:    %s\n", ui.RenderMuted(err.Error()))
		return
	}
	if h.RecoveryCount == 0 {
		return
	}
	fmt.Fprintf(w, "  History:    %d recoveries since %s, %d consecutive failures\n",
		h.RecoveryCount, ui.RelativeTime(h.FirstRecovery), h.ConsecutiveFailures)
	fmt.Fprintf(w, "  Last:       %s -> %s (%s)\n",
		orDash(h.LastTrigger), orDash(h.LastOutcome), ui.RelativeTime(h.LastRecovery))
	if h.CrashLoopDetected {
		fmt.Fprintf(w, "  %s Crash loop flagged %s; clear with %s\n", ui.RenderWarnIcon(),
			ui.RelativeTime(h.CrashLoopDetectedAt), ui.RenderMuted("phx daemon clear-history"))
	}
}

func runDaemonClearHistory(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if running, pid, _ := daemon.IsRunning(settings.DaemonDir()); running {
		return fmt.Errorf("daemon is running (PID %d); stop it before clearing history", pid)
	}
	if err := daemon.NewRestartTracker(settings.DaemonDir()).Clear(); err != nil {
		return fmt.Errorf("clearing recovery history: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Recovery history cleared\n", ui.RenderPassIcon())
	return nil
}

// getBinaryModTime returns the modification time of the current executable
func getBinaryModTime() (time.Time, error) {
	exePath, err := os.Executable()
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(exePath)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	logFile := settings.LogPath()
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log file found at %s", logFile)
	}

	if daemonLogFollow {
		// Use tail -f for following
		tailCmd := exec.Command("tail", "-f", logFile) //nolint:gosec // G204: path from settings
		tailCmd.Stdout = cmd.OutOrStdout()
		tailCmd.Stderr = cmd.ErrOrStderr()
		return tailCmd.Run()
	}

	tailCmd := exec.Command("tail", "-n", strconv.Itoa(daemonLogLines), logFile) //nolint:gosec // G204: path from settings
	tailCmd.Stdout = cmd.OutOrStdout()
	tailCmd.Stderr = cmd.ErrOrStderr()
	return tailCmd.Run()
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger, closeLog, err := openLogger(settings, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()
	return superviseWith(settings, logger, buildCommandPath(cmd))
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	running, pid, _ := daemon.IsRunning(settings.DaemonDir())
	if running {
		fmt.Fprintf(out, "Stopping daemon (PID %d)...\n", pid)
		if err := daemon.StopDaemon(settings.DaemonDir(), daemonStopGrace); err != nil && !errors.Is(err, daemon.ErrNotRunning) {
			return fmt.Errorf("stopping daemon: %w", err)
		}
		// Brief pause to ensure clean shutdown
		time.Sleep(200 * time.Millisecond)
	}

	fmt.Fprintln(out, "Starting daemon...")
	pid, err = spawnDaemon(settings)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Daemon restarted (PID %d)\n", ui.RenderPassIcon(), pid)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

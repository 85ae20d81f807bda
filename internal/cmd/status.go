package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/phoenix/internal/config"
	"github.com/steveyegge/phoenix/internal/crash"
	"github.com/steveyegge/phoenix/internal/daemon"
	"github.com/steveyegge/phoenix/internal/exitcode"
	"github.com/steveyegge/phoenix/internal/failsafe"
	"github.com/steveyegge/phoenix/internal/runstate"
	"github.com/steveyegge/phoenix/internal/session"
	"github.com/steveyegge/phoenix/internal/ui"
)

var (
	statusDoc  bool
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: GroupDiag,
	Short:   "Show recovery state for the workspace",
	Long: `Show everything recovery would look at: the RECOVERY_MODE gate, the last
known session, the run-state document, the crash lock, the failsafe record,
and whether the supervisor is running.

Use --doc to render the status document itself.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusDoc, "doc", false, "Render the status document")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

// StatusReport is the machine-readable form of phx status.
type StatusReport struct {
	Root            string              `json:"root"`
	RecoveryEnabled bool                `json:"recoveryEnabled"`
	Session         *session.Descriptor `json:"session,omitempty"`
	SessionError    string              `json:"sessionError,omitempty"`
	RunStateValid   bool                `json:"runStateValid"`
	RunStateError   string              `json:"runStateError,omitempty"`
	CrashLock       bool                `json:"crashLock"`
	CrashReason     string              `json:"crashReason,omitempty"`
	Failsafe        *failsafe.Record    `json:"failsafe,omitempty"`
	DaemonRunning   bool                `json:"daemonRunning"`
	DaemonPID       int                 `json:"daemonPid,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if statusDoc {
		data, err := os.ReadFile(settings.StatusDocPath())
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return exitcode.FileNotFound(settings.StatusDocPath())
			}
			return err
		}
		fmt.Fprint(out, ui.RenderMarkdown(string(data)))
		return nil
	}

	report := collectStatus(settings)
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printStatus(out, report)
	return nil
}

func collectStatus(settings *config.Settings) *StatusReport {
	r := &StatusReport{
		Root:            settings.Root,
		RecoveryEnabled: config.NewGate(settings.EnvPath()).Enabled(),
	}

	store := session.NewStore(settings.SessionPath(), settings.StatusDocPath())
	if d, err := store.Load(); err == nil {
		r.Session = d
	} else {
		r.SessionError = err.Error()
	}

	if err := runstate.Check(settings.RunStatePath()); err != nil {
		r.RunStateError = err.Error()
	} else {
		r.RunStateValid = true
	}

	detector := crash.NewDetector(settings.CrashLockPath(), settings.RunStatePath())
	r.CrashLock = detector.LockPresent()
	r.CrashReason = detector.Reason()

	if rec, err := failsafe.ReadRecord(settings.FailsafePath()); err == nil {
		r.Failsafe = rec
	}

	r.DaemonRunning, r.DaemonPID, _ = daemon.IsRunning(settings.DaemonDir())
	return r
}

func printStatus(w io.Writer, r *StatusReport) {
	fmt.Fprintf(w, "%s %s\n\n", ui.RenderBold("Workspace:"), ui.ShortenPath(r.Root))

	if r.RecoveryEnabled {
		fmt.Fprintf(w, "  %s Recovery    enabled (%s=%s)\n", ui.RenderPassIcon(), config.RecoveryKey, config.EnableToken)
	} else {
		fmt.Fprintf(w, "  %s Recovery    disabled\n", ui.RenderWarnIcon())
	}

	if r.Session != nil {
		fmt.Fprintf(w, "  %s Session     phase %s, %s (%s)\n", ui.RenderPassIcon(),
			r.Session.PhaseOrDefault(), orDash(r.Session.Status), r.Session.Source)
		fmt.Fprintf(w, "                last sync %s, %d recoveries\n",
			ui.RelativeTime(r.Session.LastSync), r.Session.RecoveryCount)
	} else {
		fmt.Fprintf(w, "  %s Session     none %s\n", ui.RenderWarnIcon(), ui.RenderMuted("(fallback restart eligible)"))
	}

	if r.RunStateValid {
		fmt.Fprintf(w, "  %s Run state   active\n", ui.RenderPassIcon())
	} else {
		fmt.Fprintf(w, "  %s Run state   %s\n", ui.RenderFailIcon(), ui.RenderMuted(r.RunStateError))
	}

	if r.CrashLock {
		fmt.Fprintf(w, "  %s Crash lock  present\n", ui.RenderFailIcon())
	} else {
		fmt.Fprintf(w, "  %s Crash lock  absent\n", ui.RenderPassIcon())
	}

	if r.Failsafe != nil {
		fmt.Fprintf(w, "  %s Failsafe    entered %s: %s\n", ui.RenderWarnIcon(),
			ui.RelativeTime(r.Failsafe.EnterTime), r.Failsafe.Reason)
		fmt.Fprintf(w, "                session %s\n", ui.RenderMuted(r.Failsafe.SessionID))
	}

	if r.DaemonRunning {
		fmt.Fprintf(w, "  %s Supervisor  running (PID %d)\n", ui.RenderPassIcon(), r.DaemonPID)
	} else {
		fmt.Fprintf(w, "  %s Supervisor  not running\n", ui.RenderPendingIcon())
	}

	if r.CrashReason != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Next boot is a recovery: %s\n", ui.RenderMuted(r.CrashReason))
	}
}

package cmd

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/steveyegge/phoenix/internal/activation"
	"github.com/steveyegge/phoenix/internal/daemon"
	"github.com/steveyegge/phoenix/internal/exitcode"
	"github.com/steveyegge/phoenix/internal/lock"
	"github.com/steveyegge/phoenix/internal/recovery"
	"github.com/steveyegge/phoenix/internal/session"
	"github.com/steveyegge/phoenix/internal/style"
	"github.com/steveyegge/phoenix/internal/ui"
)

// executor overrides how commands are run. Nil means real processes.
var executor activation.Executor

var recoverCmd = &cobra.Command{
	Use:     "recover",
	GroupID: GroupRecovery,
	Short:   "Run one recovery attempt now",
	Long: `Run the recovery sequence once in the foreground.

The sequence is: check RECOVERY_MODE in the env file, load the last session
(cache first, then the status document), run the activation command, and
run the fallback restart only if activation failed and no prior session
exists.

Exit codes:
  0   operational (resumed or restarted)
  52  another phx instance holds the workspace lock
  60  recovery failed; manual intervention required
  61  recovery disabled by configuration`,
	RunE: runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	instance := lock.New(settings.DaemonDir())
	if err := instance.TryAcquire(buildCommandPath(cmd)); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return exitcode.Busy(err)
		}
		return err
	}
	defer func() { _ = instance.Release() }()

	logger, closeLog, err := openLogger(settings, io.Discard)
	if err != nil {
		return err
	}
	defer closeLog()

	out := cmd.OutOrStdout()
	d := daemon.New(settings, daemon.Options{
		Logger:   logger,
		Executor: executor,
		Reporter: newCLIReporter(out),
	})

	res := d.Orchestrator().Execute(cmd.Context(), recovery.TriggerManual)
	fmt.Fprintln(out)
	switch {
	case res.Outcome == recovery.OutcomeDisabled:
		return exitcode.RecoveryDisabled(settings.EnvFile)
	case !res.Success():
		return exitcode.RecoveryFailed(res.Err())
	}
	fmt.Fprintf(out, "%s %s\n", ui.RenderPassIcon(), res.String())
	if res.Session != nil {
		fmt.Fprintf(out, "  Phase:     %s\n", res.Session.PhaseOrDefault())
		fmt.Fprintf(out, "  Source:    %s\n", res.Session.Source)
	}
	return nil
}

// cliReporter prints orchestration stages for an interactive run.
type cliReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func newCLIReporter(w io.Writer) *cliReporter {
	return &cliReporter{w: w}
}

func (r *cliReporter) Stage(stage recovery.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	style.PrintStage(r.w, string(stage))
}

func (r *cliReporter) Done(stage recovery.Stage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if errors.Is(err, session.ErrNotFound) {
		fmt.Fprintf(r.w, "  %s %s: %s\n", style.WarningPrefix, stage, style.Dim.Render("no prior session"))
		return
	}
	style.PrintDone(r.w, string(stage), err)
}

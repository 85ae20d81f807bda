package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/steveyegge/phoenix/internal/config"
	"github.com/steveyegge/phoenix/internal/daemon"
	"github.com/steveyegge/phoenix/internal/exitcode"
)

var runLogStderr bool

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: GroupServices,
	Short:   "Run the supervisor in the foreground",
	Long: `Run the supervisor in the foreground until interrupted.

On start it checks for an unclean shutdown, runs the recovery sequence,
then starts the watchdog, which re-runs recovery whenever the run state
is missing, corrupt or inactive. If startup itself fails unexpectedly the
supervisor enters failsafe mode and retries the fallback restart until it
is stopped.

Send SIGUSR1 to trigger a manual recovery; SIGINT or SIGTERM to stop.`,
	RunE: runForeground,
}

func init() {
	runCmd.Flags().BoolVar(&runLogStderr, "stderr", false, "log to stderr instead of the log file")
	rootCmd.AddCommand(runCmd)
}

func runForeground(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	var logger *slog.Logger
	if runLogStderr {
		logger, err = daemon.NewLogger(cmd.ErrOrStderr(), settings.LogLevel)
		if err != nil {
			return exitcode.Wrap(exitcode.ErrUsage, "log level", err)
		}
	} else {
		var closeLog func()
		logger, closeLog, err = openLogger(settings, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeLog()
	}
	return superviseWith(settings, logger, buildCommandPath(cmd))
}

// superviseWith runs a daemon with signal handling until it stops.
func superviseWith(settings *config.Settings, logger *slog.Logger, command string) error {
	d := daemon.New(settings, daemon.Options{
		Logger:        logger,
		Executor:      executor,
		Command:       command,
		HandleSignals: true,
	})
	return d.Run()
}

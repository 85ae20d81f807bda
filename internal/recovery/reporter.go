package recovery

import "log/slog"

// Stage names an orchestration step for status reporting.
type Stage string

const (
	StageConfig     Stage = "config"
	StageSession    Stage = "session"
	StageActivation Stage = "activation"
	StageFallback   Stage = "fallback"
)

// Reporter receives stage transitions. Implementations must be safe for
// concurrent use when shared by the watchdog and failsafe loops.
type Reporter interface {
	Stage(stage Stage)
	Done(stage Stage, err error)
}

// LogReporter writes stage transitions to a structured logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a Reporter backed by logger.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Stage implements Reporter.
func (r *LogReporter) Stage(stage Stage) {
	r.logger.Debug("stage started", "stage", stage)
}

// Done implements Reporter.
func (r *LogReporter) Done(stage Stage, err error) {
	if err != nil {
		r.logger.Info("stage finished", "stage", stage, "ok", false, "err", err)
		return
	}
	r.logger.Info("stage finished", "stage", stage, "ok", true)
}

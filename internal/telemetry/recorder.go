package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/steveyegge/phoenix"
	loggerName        = "phoenix"
)

type recorderInstruments struct {
	recoveryTotal   metric.Int64Counter
	commandTotal    metric.Int64Counter
	watchdogTicks   metric.Int64Counter
	failsafeEntries metric.Int64Counter
	failsafeTotal   metric.Int64Counter

	recoveryDuration metric.Float64Histogram
	commandDuration  metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers instruments against the current global
// MeterProvider. Called from Init and lazily on first use; before Init the
// global provider is a no-op.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.recoveryTotal, _ = m.Int64Counter("phoenix.recovery.total",
			metric.WithDescription("Total recovery orchestrations by trigger and outcome"),
		)
		inst.commandTotal, _ = m.Int64Counter("phoenix.command.total",
			metric.WithDescription("Total activation and fallback command invocations"),
		)
		inst.watchdogTicks, _ = m.Int64Counter("phoenix.watchdog.ticks.total",
			metric.WithDescription("Total watchdog checks"),
		)
		inst.failsafeEntries, _ = m.Int64Counter("phoenix.failsafe.entries.total",
			metric.WithDescription("Total failsafe mode entries"),
		)
		inst.failsafeTotal, _ = m.Int64Counter("phoenix.failsafe.attempts.total",
			metric.WithDescription("Total failsafe fallback attempts"),
		)

		inst.recoveryDuration, _ = m.Float64Histogram("phoenix.recovery.duration_ms",
			metric.WithDescription("Recovery orchestration latency in milliseconds"),
			metric.WithUnit("ms"),
		)
		inst.commandDuration, _ = m.Float64Histogram("phoenix.command.duration_ms",
			metric.WithDescription("External command latency in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordRecovery records one orchestration call.
func RecordRecovery(ctx context.Context, trigger, outcome string, elapsed time.Duration) {
	initInstruments()
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	)
	inst.recoveryTotal.Add(ctx, 1, attrs)
	inst.recoveryDuration.Record(ctx, ms(elapsed), attrs)

	sev := otellog.SeverityInfo
	if outcome == "failed" {
		sev = otellog.SeverityError
	}
	emit(ctx, "recovery", sev,
		otellog.String("trigger", trigger),
		otellog.String("outcome", outcome),
		otellog.Float64("duration_ms", ms(elapsed)),
	)
}

// RecordCommand records one activation or fallback command invocation.
func RecordCommand(ctx context.Context, stage string, err error, elapsed time.Duration) {
	initInstruments()
	status := statusStr(err)
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	)
	inst.commandTotal.Add(ctx, 1, attrs)
	inst.commandDuration.Record(ctx, ms(elapsed), attrs)
	emit(ctx, "command."+stage, severity(err),
		otellog.String("status", status),
		otellog.Float64("duration_ms", ms(elapsed)),
		errKV(err),
	)
}

// RecordWatchdogTick records one watchdog check. invalid is true when the
// run-state document failed validation and recovery was dispatched.
func RecordWatchdogTick(ctx context.Context, invalid bool) {
	initInstruments()
	inst.watchdogTicks.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("invalid", invalid)),
	)
	if invalid {
		emit(ctx, "watchdog.invalid_state", otellog.SeverityWarn)
	}
}

// RecordFailsafeEntry records entry into failsafe mode.
func RecordFailsafeEntry(ctx context.Context, sessionID, reason string) {
	initInstruments()
	inst.failsafeEntries.Add(ctx, 1)
	emit(ctx, "failsafe.enter", otellog.SeverityError,
		otellog.String("session_id", sessionID),
		otellog.String("reason", reason),
	)
}

// RecordFailsafeAttempt records one periodic fallback attempt in failsafe mode.
func RecordFailsafeAttempt(ctx context.Context, sessionID string, attempt int, err error) {
	initInstruments()
	status := statusStr(err)
	inst.failsafeTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "failsafe.attempt", severity(err),
		otellog.String("session_id", sessionID),
		otellog.Int("attempt", attempt),
		otellog.String("status", status),
		errKV(err),
	)
}

package recovery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/phoenix/internal/activation"
	"github.com/steveyegge/phoenix/internal/config"
	"github.com/steveyegge/phoenix/internal/session"
)

// scriptedExecutor returns a fixed exit code per command name and counts calls.
type scriptedExecutor struct {
	mu    sync.Mutex
	exit  map[string]int
	calls map[string]int
	delay time.Duration
}

func newScriptedExecutor(exit map[string]int) *scriptedExecutor {
	return &scriptedExecutor{exit: exit, calls: map[string]int{}}
}

func (s *scriptedExecutor) Run(ctx context.Context, dir string, argv []string) activation.Result {
	s.mu.Lock()
	s.calls[argv[0]]++
	code := s.exit[argv[0]]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return activation.Result{ExitCode: -1, Err: ctx.Err()}
		}
	}
	return activation.Result{ExitCode: code}
}

func (s *scriptedExecutor) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// recordingReporter collects stage events.
type recordingReporter struct {
	mu     sync.Mutex
	stages []Stage
}

func (r *recordingReporter) Stage(stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recordingReporter) Done(Stage, error) {}

func (r *recordingReporter) Stages() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Stage(nil), r.stages...)
}

type fixture struct {
	root     string
	settings *config.Settings
	store    *session.Store
	exec     *scriptedExecutor
	reporter *recordingReporter
	orch     *Orchestrator
}

func newFixture(t *testing.T, envContent string, exit map[string]int) *fixture {
	t.Helper()
	root := t.TempDir()
	s := config.DefaultSettings(root)
	s.ActivationCommand = []string{"activate"}
	s.FallbackCommand = []string{"restart"}

	if envContent != "" {
		require.NoError(t, os.WriteFile(s.EnvPath(), []byte(envContent), 0644))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore(s.SessionPath(), s.StatusDocPath())
	ex := newScriptedExecutor(exit)
	runner := activation.NewRunner(store, activation.Options{
		Dir:        root,
		Activation: s.ActivationCommand,
		Fallback:   s.FallbackCommand,
		Timeout:    time.Second,
		Executor:   ex,
		Logger:     logger,
	})
	rep := &recordingReporter{}
	orch := New(config.NewGate(s.EnvPath()), store, runner, WithReporter(rep), WithLogger(logger))

	return &fixture{root: root, settings: s, store: store, exec: ex, reporter: rep, orch: orch}
}

func (f *fixture) writeCache(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, f.store.EnsureDir())
	require.NoError(t, os.WriteFile(f.store.CachePath(), []byte(content), 0644))
}

func TestExecute_DisabledDoesNothing(t *testing.T) {
	for name, env := range map[string]string{
		"no config file": "",
		"key missing":    "NETWORK=mainnet\n",
		"other value":    "RECOVERY_MODE=manual\n",
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, env, nil)

			res := f.orch.Execute(context.Background(), TriggerManual)

			assert.Equal(t, OutcomeDisabled, res.Outcome)
			assert.False(t, res.Success())
			assert.ErrorIs(t, res.Err(), ErrDisabled)
			assert.Equal(t, []Stage{StageConfig}, f.reporter.Stages(), "no session load or activation may occur")
			assert.Zero(t, f.exec.count("activate"))
			assert.Zero(t, f.exec.count("restart"))
			assert.False(t, f.store.CacheExists())
		})
	}
}

func TestExecute_ResumeSucceeds(t *testing.T) {
	f := newFixture(t, "RECOVERY_MODE=auto\n", nil)
	f.writeCache(t, `{"phase":"7.5","status":"OPERATIONAL","recoveryCount":2}`)

	res := f.orch.Execute(context.Background(), TriggerBoot)

	assert.Equal(t, OutcomeResumed, res.Outcome)
	assert.True(t, res.Success())
	assert.NoError(t, res.Err())
	require.NotNil(t, res.Session)
	assert.Equal(t, "7.5", res.Session.Phase)
	assert.Equal(t, 1, f.exec.count("activate"))
	assert.Zero(t, f.exec.count("restart"))
	assert.Equal(t, []Stage{StageConfig, StageSession, StageActivation}, f.reporter.Stages())
}

// End-to-end: enabled, no cache, no status document, activation fails,
// fallback succeeds.
func TestExecute_FallbackAfterFirstBootActivationFailure(t *testing.T) {
	f := newFixture(t, "RECOVERY_MODE=auto\n", map[string]int{"activate": 1, "restart": 0})

	res := f.orch.Execute(context.Background(), TriggerBoot)

	assert.Equal(t, OutcomeRestarted, res.Outcome)
	assert.True(t, res.Success())
	assert.True(t, res.FallbackAttempted)
	assert.ErrorIs(t, res.SessionErr, session.ErrNotFound)
	assert.ErrorIs(t, res.ActivationErr, activation.ErrActivationFailed)
	assert.Equal(t, 1, f.exec.count("activate"))
	assert.Equal(t, 1, f.exec.count("restart"), "fallback runs exactly once")
	assert.Equal(t, []Stage{StageConfig, StageSession, StageActivation, StageFallback}, f.reporter.Stages())

	// The cache written during resume must be intact and parseable.
	data, err := os.ReadFile(f.store.CachePath())
	require.NoError(t, err)
	var d session.Descriptor
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, session.DefaultPhase, d.Phase)
	assert.Equal(t, 1, d.RecoveryCount)

	matches, err := filepath.Glob(filepath.Join(f.store.CacheDir(), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestExecute_BothCommandsFail(t *testing.T) {
	f := newFixture(t, "RECOVERY_MODE=auto\n", map[string]int{"activate": 1, "restart": 2})

	res := f.orch.Execute(context.Background(), TriggerBoot)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, res.Success())
	err := res.Err()
	assert.ErrorIs(t, err, ErrRecoveryFailed)
	assert.ErrorIs(t, err, activation.ErrActivationFailed)
	assert.ErrorIs(t, err, activation.ErrFallbackFailed)
	assert.Equal(t, 1, f.exec.count("restart"), "no retries inside one call")
}

// Fallback is reserved for when there was no session to resume. A failed
// activation with a loaded session is reported without a broader restart.
func TestExecute_NoFallbackWhenSessionLoaded(t *testing.T) {
	t.Run("from cache", func(t *testing.T) {
		f := newFixture(t, "RECOVERY_MODE=auto\n", map[string]int{"activate": 1})
		f.writeCache(t, `{"phase":"7.5","status":"OPERATIONAL"}`)

		res := f.orch.Execute(context.Background(), TriggerBoot)

		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.False(t, res.FallbackAttempted)
		assert.Zero(t, f.exec.count("restart"))
	})

	t.Run("from status document", func(t *testing.T) {
		f := newFixture(t, "RECOVERY_MODE=auto\n", map[string]int{"activate": 1})
		require.NoError(t, os.WriteFile(f.settings.StatusDocPath(), []byte("Phase 7.5\nStatus: RECOVERY\n"), 0644))

		res := f.orch.Execute(context.Background(), TriggerBoot)

		assert.Equal(t, OutcomeFailed, res.Outcome)
		require.NotNil(t, res.Session)
		assert.Equal(t, session.SourceFallback, res.Session.Source)
		assert.Zero(t, f.exec.count("restart"))
	})
}

func TestRecover_ConcurrentCallsShareOneAttempt(t *testing.T) {
	f := newFixture(t, "RECOVERY_MODE=auto\n", nil)
	f.exec.delay = 200 * time.Millisecond

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.orch.Recover(context.Background(), TriggerWatchdog).Success() {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), successes.Load())
	assert.Less(t, f.exec.count("activate"), 5, "overlapping recoveries should collapse")
}

func TestFallback(t *testing.T) {
	f := newFixture(t, "", map[string]int{"restart": 0})

	require.NoError(t, f.orch.Fallback(context.Background()))
	assert.Equal(t, 1, f.exec.count("restart"))
	assert.Zero(t, f.exec.count("activate"))

	f.exec.exit["restart"] = 4
	assert.ErrorIs(t, f.orch.Fallback(context.Background()), activation.ErrFallbackFailed)
}

func TestResultString(t *testing.T) {
	assert.Contains(t, Result{Outcome: OutcomeResumed}.String(), "resumed")
	assert.Contains(t, Result{Outcome: OutcomeRestarted}.String(), "fallback")
	assert.Contains(t, Result{Outcome: OutcomeFailed}.String(), "not eligible")
	assert.Contains(t, Result{Outcome: OutcomeFailed, FallbackAttempted: true}.String(), "fallback failed")
}

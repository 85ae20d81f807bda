package failsafe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/phoenix/internal/watchdog"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (c *countingRunner) Fallback(context.Context) error {
	c.calls.Add(1)
	return c.err
}

type attempt struct {
	n   int
	err error
}

func newMode(t *testing.T, runner FallbackRunner) (*Mode, *watchdog.ManualTicker, chan attempt, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".phoenix", "failsafe.json")
	ticker := watchdog.NewManualTicker()
	attempts := make(chan attempt, 16)
	m := New(path, runner, Options{
		NewTicker: func(time.Duration) watchdog.Ticker { return ticker },
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnAttempt: func(n int, err error) { attempts <- attempt{n, err} },
	})
	return m, ticker, attempts, path
}

func nextAttempt(t *testing.T, ch chan attempt) attempt {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("no fallback attempt")
		return attempt{}
	}
}

func TestEnter_PersistsRecordOnce(t *testing.T) {
	runner := &countingRunner{}
	m, _, _, path := newMode(t, runner)
	defer m.Stop()

	rec, err := m.Enter(context.Background(), "boot panic: nil map")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.SafeMode)
	assert.Equal(t, "boot panic: nil map", rec.Reason)
	_, err = uuid.Parse(rec.SessionID)
	assert.NoError(t, err)

	onDisk, err := ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, onDisk.SessionID)
	assert.True(t, onDisk.EnterTime.Equal(rec.EnterTime))
	assert.True(t, onDisk.SafeMode)

	_, err = m.Enter(context.Background(), "second")
	assert.ErrorIs(t, err, ErrAlreadyEntered)

	onDisk, err = ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, "boot panic: nil map", onDisk.Reason, "record is not rewritten by a rejected entry")
	assert.True(t, m.Entered())
	assert.Equal(t, rec, m.Record())
}

func TestEnter_RetriesOnEveryTick(t *testing.T) {
	runner := &countingRunner{err: errors.New("restart.sh exited 1")}
	m, ticker, attempts, _ := newMode(t, runner)

	_, err := m.Enter(context.Background(), "startup failed")
	require.NoError(t, err)
	assert.Zero(t, m.Attempts(), "no attempt before the first tick")

	for i := 1; i <= 3; i++ {
		require.True(t, ticker.Tick())
		a := nextAttempt(t, attempts)
		assert.Equal(t, i, a.n)
		assert.Error(t, a.err)
	}

	// Success does not end the loop.
	runner.err = nil
	require.True(t, ticker.Tick())
	assert.NoError(t, nextAttempt(t, attempts).err)
	require.True(t, ticker.Tick())
	assert.Equal(t, 5, nextAttempt(t, attempts).n)

	assert.Equal(t, int32(5), runner.calls.Load())
	assert.Equal(t, 5, m.Attempts())

	m.Stop()
	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.False(t, ticker.Tick())
}

func TestEnter_UnwritableRecordStillRetries(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	ticker := watchdog.NewManualTicker()
	attempts := make(chan attempt, 4)
	runner := &countingRunner{}
	m := New(filepath.Join(blocker, "failsafe.json"), runner, Options{
		NewTicker: func(time.Duration) watchdog.Ticker { return ticker },
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnAttempt: func(n int, err error) { attempts <- attempt{n, err} },
	})
	defer m.Stop()

	_, err := m.Enter(context.Background(), "startup failed")
	require.NoError(t, err)

	require.True(t, ticker.Tick())
	nextAttempt(t, attempts)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestStop_BeforeEnter(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "failsafe.json"), &countingRunner{}, Options{})
	m.Stop()
	assert.Nil(t, m.Done())
	assert.False(t, m.Entered())
	assert.Nil(t, m.Record())
}

func TestReadRecord_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadRecord(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = ReadRecord(bad)
	assert.Error(t, err)
}

type panickingRunner struct{}

func (panickingRunner) Fallback(context.Context) error { panic("restart script table missing") }

func TestEnter_PanickingFallbackKeepsLooping(t *testing.T) {
	m, ticker, attempts, _ := newMode(t, panickingRunner{})
	defer m.Stop()

	_, err := m.Enter(context.Background(), "startup failed")
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		require.True(t, ticker.Tick())
		a := nextAttempt(t, attempts)
		assert.Equal(t, i, a.n)
		assert.ErrorContains(t, a.err, "panicked")
	}
}

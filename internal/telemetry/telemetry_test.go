package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoints(t *testing.T) {
	t.Setenv(EnvMetricsURL, "")
	t.Setenv(EnvLogsURL, "")

	p, err := Init(context.Background(), "phoenix", "test")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, p.Shutdown(context.Background()), "nil provider shutdown is a no-op")
	assert.False(t, Enabled())
}

func TestRecorders_NoProvider(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		RecordRecovery(ctx, "boot", "resumed", 10*time.Millisecond)
		RecordRecovery(ctx, "watchdog", "failed", time.Second)
		RecordCommand(ctx, "activation", nil, time.Millisecond)
		RecordCommand(ctx, "fallback", errors.New("exit 1"), time.Millisecond)
		RecordWatchdogTick(ctx, false)
		RecordWatchdogTick(ctx, true)
		RecordFailsafeEntry(ctx, "sid", "boot panic")
		RecordFailsafeAttempt(ctx, "sid", 3, nil)
	})
}

func TestResolveEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		metrics string
		logs    string
		want    Endpoints
		wantOK  bool
	}{
		{"neither set", "", "", Endpoints{}, false},
		{"metrics only", "http://metrics:8428/push", "", Endpoints{"http://metrics:8428/push", DefaultLogsURL}, true},
		{"logs only", "", "http://logs:9428/insert", Endpoints{DefaultMetricsURL, "http://logs:9428/insert"}, true},
		{"both", "http://m", "http://l", Endpoints{"http://m", "http://l"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvMetricsURL, tt.metrics)
			t.Setenv(EnvLogsURL, tt.logs)
			got, ok := ResolveEndpoints()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, Enabled())
		})
	}
}

func TestCommandEnv(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		t.Setenv(EnvMetricsURL, "")
		t.Setenv(EnvLogsURL, "")
		assert.Nil(t, CommandEnv())
	})

	t.Run("child gets the resolved pair", func(t *testing.T) {
		t.Setenv(EnvMetricsURL, "http://metrics:8428/push")
		t.Setenv(EnvLogsURL, "")
		t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "team=ops")

		ep, ok := ResolveEndpoints()
		require.True(t, ok)

		env := CommandEnv()
		require.Len(t, env, 3)
		assert.True(t, strings.HasPrefix(env[0], "OTEL_RESOURCE_ATTRIBUTES=team=ops,phoenix.parent=phx"))
		assert.Equal(t, "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT="+ep.Metrics, env[1])
		assert.Equal(t, "OTEL_EXPORTER_OTLP_LOGS_ENDPOINT="+DefaultLogsURL, env[2])
	})
}

// Package telemetry exports phoenix recovery metrics and logs over OTLP/HTTP.
//
// It stays off unless PHX_OTEL_METRICS_URL or PHX_OTEL_LOGS_URL is set.
// Setting one fills the other with its local default, and the same pair is
// handed to the activation and fallback commands through CommandEnv.
// Errors are returned for logging and never affect recovery.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	EnvMetricsURL = "PHX_OTEL_METRICS_URL"
	EnvLogsURL    = "PHX_OTEL_LOGS_URL"

	// Local VictoriaMetrics / VictoriaLogs ingest paths.
	DefaultMetricsURL = "http://localhost:8428/opentelemetry/api/v1/push"
	DefaultLogsURL    = "http://localhost:9428/insert/opentelemetry/v1/logs"

	// ExportInterval is how often metrics are pushed.
	ExportInterval = 30 * time.Second
)

// Endpoints is the resolved OTLP endpoint pair.
type Endpoints struct {
	Metrics string
	Logs    string
}

// ResolveEndpoints reads the endpoint pair from the environment. ok is
// false when neither variable is set.
func ResolveEndpoints() (ep Endpoints, ok bool) {
	ep = Endpoints{Metrics: os.Getenv(EnvMetricsURL), Logs: os.Getenv(EnvLogsURL)}
	if ep.Metrics == "" && ep.Logs == "" {
		return Endpoints{}, false
	}
	if ep.Metrics == "" {
		ep.Metrics = DefaultMetricsURL
	}
	if ep.Logs == "" {
		ep.Logs = DefaultLogsURL
	}
	return ep, true
}

// Enabled reports whether telemetry is configured.
func Enabled() bool {
	_, ok := ResolveEndpoints()
	return ok
}

// Provider owns the meter and logger providers installed by Init.
type Provider struct {
	Endpoints Endpoints

	mp *sdkmetric.MeterProvider
	lp *sdklog.LoggerProvider

	shutdownOnce sync.Once
	shutdownErr  error
}

// Shutdown flushes pending data. Safe on a nil Provider and safe to call
// more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.shutdownOnce.Do(func() {
		if err := errors.Join(p.mp.Shutdown(ctx), p.lp.Shutdown(ctx)); err != nil {
			p.shutdownErr = fmt.Errorf("telemetry shutdown: %w", err)
		}
	})
	return p.shutdownErr
}

var (
	initOnce sync.Once
	provider *Provider
	initErr  error
)

// Init installs the global providers once per process. Later calls return
// the first result. It returns (nil, nil) when telemetry is not configured.
func Init(ctx context.Context, serviceName, serviceVersion string) (*Provider, error) {
	initOnce.Do(func() {
		provider, initErr = start(ctx, serviceName, serviceVersion)
	})
	return provider, initErr
}

func start(ctx context.Context, serviceName, serviceVersion string) (*Provider, error) {
	ep, ok := ResolveEndpoints()
	if !ok {
		return nil, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	metricExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(ep.Metrics))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter for %s: %w", ep.Metrics, err)
	}
	logExp, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(ep.Logs))
	if err != nil {
		_ = metricExp.Shutdown(ctx)
		return nil, fmt.Errorf("creating OTLP log exporter for %s: %w", ep.Logs, err)
	}

	p := &Provider{
		Endpoints: ep,
		mp: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(ExportInterval))),
		),
		lp: sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		),
	}
	otel.SetMeterProvider(p.mp)
	global.SetLoggerProvider(p.lp)
	initInstruments()
	return p, nil
}

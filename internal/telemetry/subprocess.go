package telemetry

import (
	"os"
	"strings"
)

// resourceAttrs builds an OTEL_RESOURCE_ATTRIBUTES value labelling child
// processes as started by phoenix. Existing attributes are preserved.
func resourceAttrs() string {
	attrs := []string{"phoenix.parent=phx"}
	if host, err := os.Hostname(); err == nil && host != "" {
		attrs = append(attrs, "phoenix.host="+host)
	}
	if existing := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); existing != "" {
		attrs = append([]string{existing}, attrs...)
	}
	return strings.Join(attrs, ",")
}

// CommandEnv returns extra environment entries for the activation and
// fallback commands so instrumented commands export to the same endpoint
// pair as phx. Returns nil when telemetry is not configured.
func CommandEnv() []string {
	ep, ok := ResolveEndpoints()
	if !ok {
		return nil
	}
	return []string{
		"OTEL_RESOURCE_ATTRIBUTES=" + resourceAttrs(),
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT=" + ep.Metrics,
		"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT=" + ep.Logs,
	}
}

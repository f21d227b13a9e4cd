//go:build otel

package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/linescout/internal/config"
	"github.com/nextlevelbuilder/linescout/internal/tracing"
)

// initTracing installs the OTLP tracer provider when telemetry is enabled.
// Only compiled with -tags otel.
func initTracing(ctx context.Context, cfg *config.Config) tracing.ShutdownFunc {
	noop := func(context.Context) error { return nil }
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint == "" {
		slog.Debug("OTel export available but not enabled (set telemetry.enabled + telemetry.endpoint)")
		return noop
	}

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Headers:        cfg.Telemetry.Headers,
	})
	if err != nil {
		slog.Warn("failed to set up OTel tracing", "error", err)
		return noop
	}
	return shutdown
}

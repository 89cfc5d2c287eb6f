// Package telemetry installs the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "adaptiq"

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// Init installs a global tracer provider for the named exporter and returns
// its shutdown func. An empty exporter leaves the no-op provider in place.
func Init(exporter string, w io.Writer, version string, logger *slog.Logger) (Shutdown, error) {
	noop := func(context.Context) error { return nil }
	if exporter == "" {
		return noop, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	var exp sdktrace.SpanExporter
	switch exporter {
	case "stdout":
		e, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return noop, fmt.Errorf("stdout trace exporter: %w", err)
		}
		exp = e
	default:
		return noop, fmt.Errorf("unknown trace exporter %q", exporter)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Debug("tracing initialized", "exporter", exporter)
	return tp.Shutdown, nil
}

// Package tracer configures OpenTelemetry tracing.
package tracer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Init installs an OTLP HTTP tracer provider and returns its shutdown func.
// When disabled, or when the exporter cannot be built, the global no-op
// provider stays in place.
func Init(enabled bool, endpoint, service string, log *zap.Logger) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !enabled {
		log.Info("tracing disabled (set OTEL_ENABLED=true to enable)")
		return noop
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		log.Warn("create OTLP exporter failed, tracing disabled", zap.Error(err))
		return noop
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	)
	otel.SetTracerProvider(tp)
	log.Info("tracer initialized", zap.String("endpoint", endpoint))
	return tp.Shutdown
}

package commands

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

type tracer struct {
	tp *sdktrace.TracerProvider
}

// startTracing installs a global tracer provider when an exporter is configured.
// tracing.otlpEndpoint takes precedence over tracing.stdout.
// With neither set, spans are discarded.
func startTracing(ctx context.Context) (*tracer, error) {
	var exporter sdktrace.SpanExporter
	var err error
	switch {
	case viper.GetString("tracing.otlpEndpoint") != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(viper.GetString("tracing.otlpEndpoint"))}
		if viper.GetBool("tracing.otlpInsecure") {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case viper.GetBool("tracing.stdout"):
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return &tracer{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "Create trace exporter")
	}

	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(
		semconv.ServiceNameKey.String("radiod"),
		semconv.ServiceVersionKey.String(Version),
	))
	if err != nil {
		return nil, errors.Wrap(err, "Create trace resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	log.WithField("exporter", exporterName()).Info("Tracing enabled")
	return &tracer{tp: tp}, nil
}

func exporterName() string {
	if viper.GetString("tracing.otlpEndpoint") != "" {
		return "otlp"
	}
	return "stdout"
}

// shutdown flushes pending spans.
func (t *tracer) shutdown(ctx context.Context) error {
	if t.tp == nil {
		return nil
	}
	return t.tp.Shutdown(ctx)
}

package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/argus-labs/ecs-core/pkg/assert"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// newTracer returns a noop tracer when export is disabled. Otherwise it installs a batching OTLP
// gRPC exporter as the global tracer provider, and shutdown flushes it.
func newTracer(ctx context.Context, opts settings) (trace.Tracer, func(context.Context) error, error) {
	noShutdown := func(context.Context) error { return nil }
	if !opts.TracingEnabled {
		return noop.NewTracerProvider().Tracer(opts.ServiceName), noShutdown, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.ServiceVersion),
		attribute.String("service.instance.id", uuid.NewString()),
	))
	if err != nil {
		return nil, noShutdown, eris.Wrap(err, "failed to create trace resource")
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(opts.Endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, noShutdown, eris.Wrap(err, "failed to create OTLP trace exporter")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(opts.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider.Tracer(opts.ServiceName), provider.Shutdown, nil
}

func newSampler(rate float64) sdktrace.Sampler {
	switch rate {
	case 1.0:
		return sdktrace.AlwaysSample()
	case 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func newLogger(opts settings) zerolog.Logger {
	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}

	var writer io.Writer
	switch opts.format {
	case LogFormatPretty:
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case LogFormatJSON:
		writer = out
	case LogFormatUndefined:
		assert.That(false, "log format must be validated before creating the logger")
	}

	return zerolog.New(writer).Level(opts.level).With().Timestamp().Caller().Logger()
}

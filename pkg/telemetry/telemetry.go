// Package telemetry sets up what a world reports through: a zerolog logger, an OpenTelemetry
// tracer, and Sentry.
package telemetry

import (
	"context"
	"errors"

	"github.com/argus-labs/ecs-core/pkg/ecs"
	"github.com/argus-labs/ecs-core/pkg/telemetry/sentry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

type Telemetry struct {
	Logger zerolog.Logger
	Tracer trace.Tracer

	serviceName string
	shutdown    func(context.Context) error
}

// New sets up logging, tracing and error reporting, with opts layered over the environment
// configuration. The global zerolog logger is replaced by the configured one.
func New(opts Options) (Telemetry, error) {
	config, err := loadConfig()
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to load telemetry config")
	}
	set, err := resolve(config, opts)
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "invalid telemetry options")
	}

	logger := newLogger(set)
	log.Logger = logger //nolint:reassign // The process logs through the configured writer.

	ctx := context.Background()
	tracer, shutdown, err := newTracer(ctx, set)
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to set up tracing")
	}

	if err := sentry.New(set.sentry()); err != nil {
		return Telemetry{}, errors.Join(err, shutdown(ctx))
	}

	return Telemetry{
		Logger:      logger,
		Tracer:      tracer,
		serviceName: set.ServiceName,
		shutdown:    shutdown,
	}, nil
}

// Shutdown flushes pending error reports and spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	sentry.Shutdown(ctx)
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// GetLogger returns a logger tagged with component.
func (t *Telemetry) GetLogger(component string) zerolog.Logger {
	return t.Logger.With().Str("component", t.serviceName+"."+component).Logger()
}

// WorldOptions fills the logger, tracer and diagnostics of opts that are unset. When Sentry is
// enabled, failed systems are reported to it next to the diagnostics already in opts.
func (t *Telemetry) WorldOptions(opts ecs.WorldOptions) ecs.WorldOptions {
	if opts.Logger == nil {
		logger := t.GetLogger("world")
		opts.Logger = &logger
	}
	if opts.Tracer == nil {
		opts.Tracer = t.Tracer
	}
	if sentry.Enabled() {
		if opts.Diagnostics == nil {
			opts.Diagnostics = sentry.NewSink(nil)
		} else {
			opts.Diagnostics = ecs.MultiSink{opts.Diagnostics, sentry.NewSink(nil)}
		}
	}
	return opts
}
